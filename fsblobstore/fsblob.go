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

// Package fsblobstore layers filesystem semantics (directories, files,
// symlinks, parent pointers) on top of blobstore's resizable byte arrays.
package fsblobstore

import (
	"encoding/binary"
	"fmt"

	"github.com/cryfs-go/cryfs/blobstore"
	"github.com/cryfs-go/cryfs/blockstore"
)

// FsBlobFormatVersion is the only fs-header layout this implementation
// understands.
const FsBlobFormatVersion uint16 = 1

// headerSize is len(format_version:2 | blob_type:1 | parent_block_id:16).
const headerSize = 2 + 1 + blockstore.BlockIdSize

// BlobType distinguishes what kind of filesystem entry a blob represents.
type BlobType byte

const (
	TypeDir BlobType = iota
	TypeFile
	TypeSymlink
)

func (t BlobType) String() string {
	switch t {
	case TypeDir:
		return "dir"
	case TypeFile:
		return "file"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FsBlob is the common header every filesystem-facing blob carries:
// its type and the block id of its containing directory blob.
type FsBlob struct {
	blob     *blobstore.Blob
	blobType BlobType
	parentId blockstore.BlockId
}

func readHeader(blob *blobstore.Blob) (BlobType, blockstore.BlockId, error) {
	size, err := blob.Size()
	if err != nil {
		return 0, blockstore.BlockId{}, err
	}
	if size < headerSize {
		return 0, blockstore.BlockId{}, fmt.Errorf("blob %s: too small for an fs-header", blob.BlockId())
	}
	buf := make([]byte, headerSize)
	if _, err := blob.ReadAt(0, buf); err != nil {
		return 0, blockstore.BlockId{}, err
	}
	version := binary.BigEndian.Uint16(buf[0:2])
	if version != FsBlobFormatVersion {
		return 0, blockstore.BlockId{}, fmt.Errorf("blob %s: unknown fs-header format version %d", blob.BlockId(), version)
	}
	blobType := BlobType(buf[2])
	var parentId blockstore.BlockId
	copy(parentId[:], buf[3:headerSize])
	return blobType, parentId, nil
}

func writeHeader(blob *blobstore.Blob, blobType BlobType, parentId blockstore.BlockId) error {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], FsBlobFormatVersion)
	buf[2] = byte(blobType)
	copy(buf[3:headerSize], parentId[:])
	return blob.WriteAt(0, buf)
}

func loadFsBlob(blob *blobstore.Blob) (*FsBlob, error) {
	blobType, parentId, err := readHeader(blob)
	if err != nil {
		return nil, err
	}
	return &FsBlob{blob: blob, blobType: blobType, parentId: parentId}, nil
}

func createFsBlob(blob *blobstore.Blob, blobType BlobType, parentId blockstore.BlockId) (*FsBlob, error) {
	if err := writeHeader(blob, blobType, parentId); err != nil {
		return nil, err
	}
	return &FsBlob{blob: blob, blobType: blobType, parentId: parentId}, nil
}

// BlockId is this blob's (and this filesystem entry's) stable identity.
func (b *FsBlob) BlockId() blockstore.BlockId { return b.blob.BlockId() }

// BlobType reports whether this is a directory, file, or symlink blob.
func (b *FsBlob) BlobType() BlobType { return b.blobType }

// ParentBlockId returns the containing directory's blob id, or the null id
// for the filesystem root.
func (b *FsBlob) ParentBlockId() blockstore.BlockId { return b.parentId }

// SetParentBlockId rewrites the parent pointer, used by rename after the
// entry has been moved to a new directory.
func (b *FsBlob) SetParentBlockId(parentId blockstore.BlockId) error {
	if err := writeHeader(b.blob, b.blobType, parentId); err != nil {
		return err
	}
	b.parentId = parentId
	return nil
}

// contentSize is the size available to this blob's own payload, beneath
// the shared fs-header.
func (b *FsBlob) contentSize() (uint64, error) {
	size, err := b.blob.Size()
	if err != nil {
		return 0, err
	}
	return size - headerSize, nil
}

func (b *FsBlob) readContent(offset uint64, p []byte) (int, error) {
	return b.blob.ReadAt(headerSize+offset, p)
}

func (b *FsBlob) writeContent(offset uint64, p []byte) error {
	return b.blob.WriteAt(headerSize+offset, p)
}

func (b *FsBlob) resizeContent(newSize uint64) error {
	return b.blob.Resize(headerSize + newSize)
}

// CheckParentPointer loads this blob's alleged parent directory and
// verifies it actually contains an entry pointing back at this blob's id,
// per the parent-pointer discipline every rename must preserve.
func (b *FsBlob) CheckParentPointer(store *FsBlobStore) error {
	if b.parentId.IsNil() {
		return nil
	}
	parent, err := store.LoadDirBlob(b.parentId)
	if err != nil {
		return fmt.Errorf("checking parent pointer of %s: loading parent %s: %w", b.BlockId(), b.parentId, err)
	}
	for _, e := range parent.byName {
		if e.ChildId == b.BlockId() {
			return nil
		}
	}
	return fmt.Errorf("parent pointer violation: blob %s claims parent %s, but %s has no entry for it", b.BlockId(), b.parentId, b.parentId)
}
