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

package fsblobstore

import (
	"fmt"

	"github.com/cryfs-go/cryfs/blobstore"
	"github.com/cryfs-go/cryfs/blockstore"
)

// FsBlobStore creates and loads the three kinds of filesystem blob on top
// of a plain blobstore.BlobStore.
type FsBlobStore struct {
	blobs *blobstore.BlobStore
}

// NewFsBlobStore wraps blobs.
func NewFsBlobStore(blobs *blobstore.BlobStore) *FsBlobStore {
	return &FsBlobStore{blobs: blobs}
}

// CreateRootDirBlob creates the filesystem root directory, whose parent
// pointer is the null id.
func (s *FsBlobStore) CreateRootDirBlob() (*DirBlob, error) {
	return s.CreateDirBlob(blockstore.NilBlockId)
}

// CreateDirBlob creates a new, empty directory blob parented under parentId.
func (s *FsBlobStore) CreateDirBlob(parentId blockstore.BlockId) (*DirBlob, error) {
	blob, err := s.blobs.Create()
	if err != nil {
		return nil, err
	}
	fsBlob, err := createFsBlob(blob, TypeDir, parentId)
	if err != nil {
		return nil, err
	}
	return newDirBlob(fsBlob), nil
}

// CreateFileBlob creates a new, empty file blob parented under parentId.
func (s *FsBlobStore) CreateFileBlob(parentId blockstore.BlockId) (*FileBlob, error) {
	blob, err := s.blobs.Create()
	if err != nil {
		return nil, err
	}
	fsBlob, err := createFsBlob(blob, TypeFile, parentId)
	if err != nil {
		return nil, err
	}
	return newFileBlob(fsBlob), nil
}

// CreateSymlinkBlob creates a new symlink blob parented under parentId,
// pointing at target.
func (s *FsBlobStore) CreateSymlinkBlob(parentId blockstore.BlockId, target string) (*SymlinkBlob, error) {
	blob, err := s.blobs.Create()
	if err != nil {
		return nil, err
	}
	fsBlob, err := createFsBlob(blob, TypeSymlink, parentId)
	if err != nil {
		return nil, err
	}
	if err := fsBlob.writeContent(0, []byte(target)); err != nil {
		return nil, err
	}
	return newSymlinkBlob(fsBlob, target), nil
}

// LoadDirBlob loads the directory blob rooted at id. It fails if id is not
// a directory.
func (s *FsBlobStore) LoadDirBlob(id blockstore.BlockId) (*DirBlob, error) {
	fsBlob, err := loadFsBlob(s.blobs.Load(id))
	if err != nil {
		return nil, err
	}
	if fsBlob.BlobType() != TypeDir {
		return nil, fmt.Errorf("blob %s is a %s, not a directory", id, fsBlob.BlobType())
	}
	return loadDirBlobContent(fsBlob)
}

// LoadFileBlob loads the file blob rooted at id. It fails if id is not a
// file.
func (s *FsBlobStore) LoadFileBlob(id blockstore.BlockId) (*FileBlob, error) {
	fsBlob, err := loadFsBlob(s.blobs.Load(id))
	if err != nil {
		return nil, err
	}
	if fsBlob.BlobType() != TypeFile {
		return nil, fmt.Errorf("blob %s is a %s, not a file", id, fsBlob.BlobType())
	}
	return newFileBlob(fsBlob), nil
}

// LoadSymlinkBlob loads the symlink blob rooted at id. It fails if id is
// not a symlink.
func (s *FsBlobStore) LoadSymlinkBlob(id blockstore.BlockId) (*SymlinkBlob, error) {
	fsBlob, err := loadFsBlob(s.blobs.Load(id))
	if err != nil {
		return nil, err
	}
	if fsBlob.BlobType() != TypeSymlink {
		return nil, fmt.Errorf("blob %s is a %s, not a symlink", id, fsBlob.BlobType())
	}
	return loadSymlinkBlob(fsBlob)
}

// LoadType reads just enough of the blob at id to determine its type,
// without parsing the rest of its content — used by
// Device.updateParentPointer to decide which of
// LoadDirBlob/LoadFileBlob/LoadSymlinkBlob to call next.
func (s *FsBlobStore) LoadType(id blockstore.BlockId) (BlobType, error) {
	fsBlob, err := loadFsBlob(s.blobs.Load(id))
	if err != nil {
		return 0, err
	}
	return fsBlob.BlobType(), nil
}

// Remove deletes the blob at id and all blocks it owns.
func (s *FsBlobStore) Remove(id blockstore.BlockId) error {
	return s.blobs.Remove(id)
}

// Flush forces the underlying block store stack to write buffered blocks
// through to stable storage, used by fsync/fdatasync at the fs boundary.
func (s *FsBlobStore) Flush() error {
	return s.blobs.Flush()
}
