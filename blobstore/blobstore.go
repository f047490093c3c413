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

package blobstore

import "github.com/cryfs-go/cryfs/blockstore"

// BlobStore is the entry point fsblobstore builds on: it creates, loads and
// deletes blobs by root block id.
type BlobStore struct {
	nodeStore *NodeStore
}

// NewBlobStore wraps blocks with the given per-filesystem block size.
func NewBlobStore(blocks blockstore.BlockStore, blockSizeBytes uint32) (*BlobStore, error) {
	ns, err := NewNodeStore(blocks, blockSizeBytes)
	if err != nil {
		return nil, err
	}
	return &BlobStore{nodeStore: ns}, nil
}

// Create allocates a new, empty blob and returns a handle to it.
func (s *BlobStore) Create() (*Blob, error) {
	return CreateBlob(s.nodeStore)
}

// Load returns a handle onto the existing blob rooted at id. It does not
// itself touch the block store; the first operation on the handle does.
func (s *BlobStore) Load(id blockstore.BlockId) *Blob {
	return LoadBlob(s.nodeStore, id)
}

// Remove deletes the blob rooted at id and every block it owns.
func (s *BlobStore) Remove(id blockstore.BlockId) error {
	return s.Load(id).Delete()
}

// Flush forces every layer of the underlying block store stack to write
// buffered data through to stable storage.
func (s *BlobStore) Flush() error {
	return s.nodeStore.Flush()
}
