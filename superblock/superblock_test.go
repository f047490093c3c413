// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package superblock

import (
	"testing"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/stretchr/testify/require"
)

func TestExistsFalseBeforeSave(t *testing.T) {
	dir := t.TempDir()
	require.False(t, Exists(dir))
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clientId := uint32(42)
	cfg := &Config{
		Cipher:                "aes-256-gcm",
		EncryptionKey:         []byte("0123456789abcdef0123456789abcdef"),
		RootBlob:              blockstore.NewBlockId(),
		BlockSizeBytes:        32 * 1024,
		FilesystemId:          "11111111-1111-1111-1111-111111111111",
		CreatedWithVersion:    CurrentVersion,
		LastOpenedWithVersion: CurrentVersion,
		ExclusiveClientId:     &clientId,
	}

	require.NoError(t, Save(dir, cfg))
	require.True(t, Exists(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, cfg.Cipher, loaded.Cipher)
	require.Equal(t, cfg.EncryptionKey, loaded.EncryptionKey)
	require.Equal(t, cfg.RootBlob, loaded.RootBlob)
	require.Equal(t, cfg.BlockSizeBytes, loaded.BlockSizeBytes)
	require.Equal(t, cfg.FilesystemId, loaded.FilesystemId)
	require.Equal(t, cfg.CreatedWithVersion, loaded.CreatedWithVersion)
	require.NotNil(t, loaded.ExclusiveClientId)
	require.Equal(t, clientId, *loaded.ExclusiveClientId)
}

func TestLoadMissingFileFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
}

func TestSaveOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	first := &Config{
		Cipher: "aes-256-gcm", EncryptionKey: []byte("key1"), RootBlob: blockstore.NewBlockId(),
		BlockSizeBytes: 1024, FilesystemId: "a", CreatedWithVersion: CurrentVersion, LastOpenedWithVersion: CurrentVersion,
	}
	require.NoError(t, Save(dir, first))

	second := &Config{
		Cipher: "aes-128-gcm", EncryptionKey: []byte("key2"), RootBlob: blockstore.NewBlockId(),
		BlockSizeBytes: 2048, FilesystemId: "b", CreatedWithVersion: CurrentVersion, LastOpenedWithVersion: CurrentVersion,
	}
	require.NoError(t, Save(dir, second))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "aes-128-gcm", loaded.Cipher)
	require.Equal(t, 2048, loaded.BlockSizeBytes)
}
