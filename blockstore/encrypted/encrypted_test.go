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

package encrypted

import (
	"bytes"
	"testing"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/blockstore/ondisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cipherName string) *BlockStore {
	t.Helper()
	keySize, err := KeySize(cipherName)
	require.NoError(t, err)
	key := bytes.Repeat([]byte{0x42}, keySize)
	s, err := New(ondisk.New(t.TempDir()), cipherName, key)
	require.NoError(t, err)
	return s
}

func TestStoreLoad_RoundTrip(t *testing.T) {
	for _, cipherName := range []string{"aes-256-gcm", "aes-128-gcm", "twofish-256-gcm", "twofish-128-gcm"} {
		t.Run(cipherName, func(t *testing.T) {
			s := newTestStore(t, cipherName)
			id := blockstore.NewBlockId()

			require.NoError(t, s.Store(id, []byte("plaintext payload")))
			data, found, err := s.Load(id)

			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("plaintext payload"), data)
		})
	}
}

func TestLoad_TamperedCiphertextFailsDecryption(t *testing.T) {
	lower := ondisk.New(t.TempDir())
	s, err := New(lower, "aes-256-gcm", bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	id := blockstore.NewBlockId()
	require.NoError(t, s.Store(id, []byte("hello")))

	encoded, _, err := lower.Load(id)
	require.NoError(t, err)
	tampered := append([]byte{}, encoded...)
	tampered[len(tampered)-1] ^= 0xFF
	require.NoError(t, lower.Store(id, tampered))

	_, _, err = s.Load(id)

	require.Error(t, err)
	var blockErr *blockstore.Error
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, blockstore.KindDecryptionFailed, blockErr.Kind)
}

func TestLoad_SwappedBlockCiphertextsFailBoundIdCheck(t *testing.T) {
	lower := ondisk.New(t.TempDir())
	s, err := New(lower, "aes-256-gcm", bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	idA, idB := blockstore.NewBlockId(), blockstore.NewBlockId()
	require.NoError(t, s.Store(idA, []byte("A's data")))
	require.NoError(t, s.Store(idB, []byte("B's data")))

	encodedA, _, err := lower.Load(idA)
	require.NoError(t, err)
	require.NoError(t, lower.Store(idB, encodedA))

	_, _, err = s.Load(idB)

	require.Error(t, err)
	var blockErr *blockstore.Error
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, blockstore.KindDecryptionFailed, blockErr.Kind)
}

func TestLoad_UnknownFormatVersionIsWrongFormat(t *testing.T) {
	lower := ondisk.New(t.TempDir())
	s, err := New(lower, "aes-256-gcm", bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	id := blockstore.NewBlockId()
	require.NoError(t, lower.Store(id, []byte{0xFF, 0xFF, 0, 0, 0}))

	_, _, err = s.Load(id)

	require.Error(t, err)
	var blockErr *blockstore.Error
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, blockstore.KindWrongFormat, blockErr.Kind)
}
