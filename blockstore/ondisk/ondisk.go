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

// Package ondisk implements the bottom of the block-store stack: one file
// per block, sharded into 256 subdirectories by the first byte of the id so
// a large filesystem doesn't put millions of files in one directory.
package ondisk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/google/renameio/v2"
	"golang.org/x/sys/unix"
)

// BlockStore persists blocks as files under basedir.
type BlockStore struct {
	basedir string

	// mu serializes the directory-creation fast path; individual file
	// operations are left to the host filesystem's own atomicity.
	mu sync.Mutex
}

var _ blockstore.BlockStore = (*BlockStore)(nil)

// New opens (without yet touching) an on-disk block store rooted at basedir.
// basedir must already exist.
func New(basedir string) *BlockStore {
	return &BlockStore{basedir: basedir}
}

func (s *BlockStore) pathFor(id blockstore.BlockId) string {
	hexId := id.String()
	return filepath.Join(s.basedir, hexId[:2], hexId[2:])
}

func (s *BlockStore) shardDirFor(id blockstore.BlockId) string {
	return filepath.Join(s.basedir, id.String()[:2])
}

func (s *BlockStore) ensureShardDir(id blockstore.BlockId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.MkdirAll(s.shardDirFor(id), 0700)
}

// TryCreate creates the block's file exclusively, failing with
// AlreadyExists if it is already there, and writes data into it in place.
// It does not use write-then-rename, so a crash during the write can leave
// a partially written block file.
func (s *BlockStore) TryCreate(id blockstore.BlockId, data []byte) error {
	if err := s.ensureShardDir(id); err != nil {
		return blockstore.NewError(blockstore.KindIoError, id, err)
	}
	path := s.pathFor(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return blockstore.NewError(blockstore.KindAlreadyExists, id, blockstore.ErrAlreadyExists)
		}
		return blockstore.NewError(blockstore.KindIoError, id, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return blockstore.NewError(blockstore.KindIoError, id, err)
	}
	return nil
}

func (s *BlockStore) Load(id blockstore.BlockId) ([]byte, bool, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, blockstore.NewError(blockstore.KindIoError, id, err)
	}
	return data, true, nil
}

// Store atomically creates-or-overwrites the block's file via write-then-
// rename, so a reader never observes a partially written block.
func (s *BlockStore) Store(id blockstore.BlockId, data []byte) error {
	if err := s.ensureShardDir(id); err != nil {
		return blockstore.NewError(blockstore.KindIoError, id, err)
	}
	if err := renameio.WriteFile(s.pathFor(id), data, 0600); err != nil {
		return blockstore.NewError(blockstore.KindIoError, id, err)
	}
	return nil
}

func (s *BlockStore) Remove(id blockstore.BlockId) (bool, error) {
	err := os.Remove(s.pathFor(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, blockstore.NewError(blockstore.KindIoError, id, err)
	}
	return true, nil
}

// ForEachBlock walks the two-level shard directories, tolerating concurrent
// modification by skipping any entry that disappears or fails to parse
// rather than aborting the whole walk.
func (s *BlockStore) ForEachBlock(fn func(blockstore.BlockId) error) error {
	shardEntries, err := os.ReadDir(s.basedir)
	if err != nil {
		return blockstore.NewError(blockstore.KindIoError, blockstore.NilBlockId, err)
	}
	for _, shard := range shardEntries {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		blockEntries, err := os.ReadDir(filepath.Join(s.basedir, shard.Name()))
		if err != nil {
			continue
		}
		for _, be := range blockEntries {
			if be.IsDir() {
				continue
			}
			id, err := blockstore.ParseBlockId(shard.Name() + be.Name())
			if err != nil {
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *BlockStore) NumBlocks() (int, error) {
	n := 0
	err := s.ForEachBlock(func(blockstore.BlockId) error {
		n++
		return nil
	})
	return n, err
}

// EstimateNumFreeBytes reports the free space on basedir's filesystem.
func (s *BlockStore) EstimateNumFreeBytes() (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.basedir, &st); err != nil {
		return 0, blockstore.NewError(blockstore.KindIoError, blockstore.NilBlockId, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// BlockSizeFromPhysicalBlockSize is a pass-through: the on-disk layer adds
// no header of its own.
func (s *BlockStore) BlockSizeFromPhysicalBlockSize(physicalSize uint64) uint64 {
	return physicalSize
}

func (s *BlockStore) Flush() error {
	return nil
}
