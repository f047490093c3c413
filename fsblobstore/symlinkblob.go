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

// SymlinkBlob is a thin wrapper around a blob of type SYMLINK. The target
// path is read once at construction and cached, since symlink targets are
// immutable after creation and readlink is expected to be cheap.
type SymlinkBlob struct {
	fsBlob *FsBlob
	target string
}

func newSymlinkBlob(fsBlob *FsBlob, target string) *SymlinkBlob {
	return &SymlinkBlob{fsBlob: fsBlob, target: target}
}

func loadSymlinkBlob(fsBlob *FsBlob) (*SymlinkBlob, error) {
	size, err := fsBlob.contentSize()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := fsBlob.readContent(0, buf); err != nil {
			return nil, err
		}
	}
	return newSymlinkBlob(fsBlob, string(buf)), nil
}

func (s *SymlinkBlob) BlockId() blockstore.BlockId { return s.fsBlob.BlockId() }
func (s *SymlinkBlob) FsBlob() *FsBlob             { return s.fsBlob }

// Target returns the symlink's target path, as cached at construction.
func (s *SymlinkBlob) Target() string { return s.target }
