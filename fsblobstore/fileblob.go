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

import "github.com/cryfs-go/cryfs/blockstore"

// FileBlob is a thin wrapper around a blob of type FILE; its logical size
// is the underlying blob's size minus the shared fs-header.
type FileBlob struct {
	fsBlob *FsBlob
}

func newFileBlob(fsBlob *FsBlob) *FileBlob {
	return &FileBlob{fsBlob: fsBlob}
}

func (f *FileBlob) BlockId() blockstore.BlockId { return f.fsBlob.BlockId() }
func (f *FileBlob) FsBlob() *FsBlob             { return f.fsBlob }

// Size returns the file's logical length in bytes.
func (f *FileBlob) Size() (uint64, error) {
	return f.fsBlob.contentSize()
}

// ReadAt reads into p starting at offset, returning the number of bytes
// actually read (fewer than len(p) at EOF).
func (f *FileBlob) ReadAt(offset uint64, p []byte) (int, error) {
	return f.fsBlob.readContent(offset, p)
}

// WriteAt writes p at offset, growing the file if needed.
func (f *FileBlob) WriteAt(offset uint64, p []byte) error {
	return f.fsBlob.writeContent(offset, p)
}

// Truncate grows or shrinks the file to exactly newSize bytes.
func (f *FileBlob) Truncate(newSize uint64) error {
	return f.fsBlob.resizeContent(newSize)
}
