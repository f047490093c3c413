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

// Package superblock reads and writes a basedir's cryfs.config descriptor:
// the cipher, root blob id, block size, and filesystem id needed to open an
// existing filesystem or create a new one. Password-based key derivation is
// out of scope (spec.md treats configuration loading and key derivation as
// an external collaborator); this package stores the encryption key
// unencrypted on disk instead of behind scrypt, the same two fields
// (rootblob, key) CryFS's original CryConfig persisted as JSON before the
// scrypt-wrapped format was introduced.
package superblock

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cryfs-go/cryfs/blockstore"
)

const FileName = "cryfs.config"

// CurrentVersion is written as CreatedWithVersion for a filesystem created
// by this build.
const CurrentVersion = "1.0.0"

// onDiskFormat is the JSON shape persisted at <basedir>/cryfs.config.
type onDiskFormat struct {
	Cipher                string  `json:"cipher"`
	EncryptionKeyHex      string  `json:"encryption_key"`
	RootBlobHex           string  `json:"root_blob"`
	BlockSizeBytes        int     `json:"block_size_bytes"`
	FilesystemIdHex       string  `json:"filesystem_id"`
	CreatedWithVersion    string  `json:"created_with_version"`
	LastOpenedWithVersion string  `json:"last_opened_with_version"`
	ExclusiveClientId     *uint32 `json:"exclusive_client_id,omitempty"`
}

// Config is the decoded form of a basedir's cryfs.config.
type Config struct {
	Cipher                string
	EncryptionKey         []byte
	RootBlob              blockstore.BlockId
	BlockSizeBytes        int
	FilesystemId          string
	CreatedWithVersion    string
	LastOpenedWithVersion string
	ExclusiveClientId     *uint32
}

func path(basedir string) string {
	return basedir + string(os.PathSeparator) + FileName
}

// Exists reports whether basedir already holds a cryfs.config.
func Exists(basedir string) bool {
	_, err := os.Stat(path(basedir))
	return err == nil
}

// Load reads and decodes basedir's cryfs.config.
func Load(basedir string) (*Config, error) {
	raw, err := os.ReadFile(path(basedir))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path(basedir), err)
	}
	var disk onDiskFormat
	if err := json.Unmarshal(raw, &disk); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path(basedir), err)
	}
	key, err := hex.DecodeString(disk.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parsing encryption key: %w", err)
	}
	root, err := blockstore.ParseBlockId(disk.RootBlobHex)
	if err != nil {
		return nil, fmt.Errorf("parsing root blob id: %w", err)
	}
	return &Config{
		Cipher:                disk.Cipher,
		EncryptionKey:         key,
		RootBlob:              root,
		BlockSizeBytes:        disk.BlockSizeBytes,
		FilesystemId:          disk.FilesystemIdHex,
		CreatedWithVersion:    disk.CreatedWithVersion,
		LastOpenedWithVersion: disk.LastOpenedWithVersion,
		ExclusiveClientId:     disk.ExclusiveClientId,
	}, nil
}

// Save writes cfg to basedir's cryfs.config, creating or overwriting it.
func Save(basedir string, cfg *Config) error {
	disk := onDiskFormat{
		Cipher:                cfg.Cipher,
		EncryptionKeyHex:      hex.EncodeToString(cfg.EncryptionKey),
		RootBlobHex:           cfg.RootBlob.String(),
		BlockSizeBytes:        cfg.BlockSizeBytes,
		FilesystemIdHex:       cfg.FilesystemId,
		CreatedWithVersion:    cfg.CreatedWithVersion,
		LastOpenedWithVersion: cfg.LastOpenedWithVersion,
		ExclusiveClientId:     cfg.ExclusiveClientId,
	}
	data, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path(basedir), data, 0600)
}
