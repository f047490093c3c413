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

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/blockstore/ondisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadCountingStore wraps a BlockStore and counts Load calls per block id,
// so tests can assert on how many blocks a traversal actually reads instead
// of just on the end-to-end result.
type loadCountingStore struct {
	blockstore.BlockStore
	mu    sync.Mutex
	loads map[blockstore.BlockId]int
}

func newLoadCountingStore(base blockstore.BlockStore) *loadCountingStore {
	return &loadCountingStore{BlockStore: base, loads: map[blockstore.BlockId]int{}}
}

func (s *loadCountingStore) Load(id blockstore.BlockId) ([]byte, bool, error) {
	s.mu.Lock()
	s.loads[id]++
	s.mu.Unlock()
	return s.BlockStore.Load(id)
}

func (s *loadCountingStore) loadCount(id blockstore.BlockId) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[id]
}

func (s *loadCountingStore) resetCounts() {
	s.mu.Lock()
	s.loads = map[blockstore.BlockId]int{}
	s.mu.Unlock()
}

// blockSizeBytes of 100 gives maxBytesPerLeaf=95 and maxChildrenPerInner=5,
// small enough to exercise multi-level trees without huge payloads.
func newTestStore(t *testing.T) (*BlobStore, blockstore.BlockStore) {
	t.Helper()
	base := ondisk.New(t.TempDir())
	s, err := NewBlobStore(base, 100)
	require.NoError(t, err)
	return s, base
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(42)).Read(b)
	return b
}

func TestCreate_IsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	blob, err := s.Create()
	require.NoError(t, err)

	size, err := blob.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}

func TestWriteRead_WithinSingleLeaf(t *testing.T) {
	s, _ := newTestStore(t)
	blob, err := s.Create()
	require.NoError(t, err)

	data := []byte("hello, blob")
	require.NoError(t, blob.WriteAt(0, data))

	size, err := blob.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)

	out := make([]byte, len(data))
	n, err := blob.ReadAt(0, out)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, out)
}

func TestWrite_PastSingleLeafCapacityPromotesRootPreservingId(t *testing.T) {
	s, _ := newTestStore(t)
	blob, err := s.Create()
	require.NoError(t, err)
	rootIdBefore := blob.BlockId()

	maxBytesPerLeaf := int(s.nodeStore.MaxBytesPerLeaf())
	require.NoError(t, blob.WriteAt(0, make([]byte, maxBytesPerLeaf)))

	root, err := s.nodeStore.Load(blob.BlockId())
	require.NoError(t, err)
	_, isLeaf := root.(*DataLeafNode)
	assert.True(t, isLeaf, "writing exactly a leaf's worth of bytes should not promote the root")

	require.NoError(t, blob.WriteAt(uint64(maxBytesPerLeaf), []byte("x")))

	root, err = s.nodeStore.Load(blob.BlockId())
	require.NoError(t, err)
	inner, isInner := root.(*DataInnerNode)
	require.True(t, isInner, "writing past leaf capacity should promote the root to an inner node")
	assert.Equal(t, 2, inner.NumChildren())
	assert.Equal(t, rootIdBefore, blob.BlockId(), "the blob's external identity must never change")
}

func TestWriteRead_SpanningManyLeavesRoundTrips(t *testing.T) {
	s, _ := newTestStore(t)
	blob, err := s.Create()
	require.NoError(t, err)

	data := randomBytes(5 * int(s.nodeStore.MaxBytesPerLeaf()))
	require.NoError(t, blob.WriteAt(0, data))

	size, err := blob.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)

	out := make([]byte, len(data))
	n, err := blob.ReadAt(0, out)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, out)
}

func TestWriteRead_PartialOverwriteInMiddle(t *testing.T) {
	s, _ := newTestStore(t)
	blob, err := s.Create()
	require.NoError(t, err)

	data := randomBytes(3 * int(s.nodeStore.MaxBytesPerLeaf()))
	require.NoError(t, blob.WriteAt(0, data))

	patch := []byte("PATCHED")
	offset := uint64(len(data) / 2)
	require.NoError(t, blob.WriteAt(offset, patch))
	copy(data[offset:], patch)

	out := make([]byte, len(data))
	_, err = blob.ReadAt(0, out)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestResize_ShrinkBackToSingleLeafPreservesRootId(t *testing.T) {
	s, _ := newTestStore(t)
	blob, err := s.Create()
	require.NoError(t, err)
	rootId := blob.BlockId()

	data := randomBytes(3 * int(s.nodeStore.MaxBytesPerLeaf()))
	require.NoError(t, blob.WriteAt(0, data))

	require.NoError(t, blob.Resize(10))

	size, err := blob.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), size)
	assert.Equal(t, rootId, blob.BlockId())

	root, err := s.nodeStore.Load(blob.BlockId())
	require.NoError(t, err)
	_, isLeaf := root.(*DataLeafNode)
	assert.True(t, isLeaf, "shrinking below one leaf's capacity should decrease the tree's depth back to a single leaf")

	out := make([]byte, 10)
	_, err = blob.ReadAt(0, out)
	require.NoError(t, err)
	assert.Equal(t, data[:10], out)
}

func TestResize_GrowExtendsWithZeros(t *testing.T) {
	s, _ := newTestStore(t)
	blob, err := s.Create()
	require.NoError(t, err)
	require.NoError(t, blob.WriteAt(0, []byte("abc")))

	require.NoError(t, blob.Resize(10))

	out := make([]byte, 10)
	_, err = blob.ReadAt(0, out)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc\x00\x00\x00\x00\x00\x00\x00"), out)
}

// TestWrite_FullyOverwritingLeavesDoesNotLoadThem exercises the traversal
// contract that a write covering a leaf's entire span writes it directly
// instead of reading its old contents first. The write here is leaf-aligned
// on both ends, so no leaf is loaded for its old contents; the only load is
// of the rightmost leaf, which WriteAt reads once to learn the blob's size.
func TestWrite_FullyOverwritingLeavesDoesNotLoadThem(t *testing.T) {
	base := ondisk.New(t.TempDir())
	counting := newLoadCountingStore(base)
	s, err := NewBlobStore(counting, 100)
	require.NoError(t, err)

	blob, err := s.Create()
	require.NoError(t, err)
	maxBytesPerLeaf := int(s.nodeStore.MaxBytesPerLeaf())

	// Grow to exactly 5 full leaves, aligned, so every leaf sits at full
	// capacity and none is a partial tail.
	fullSize := 5 * maxBytesPerLeaf
	require.NoError(t, blob.Resize(uint64(fullSize)))

	root, err := s.nodeStore.Load(blob.BlockId())
	require.NoError(t, err)
	inner, ok := root.(*DataInnerNode)
	require.True(t, ok)
	leafIds := append([]blockstore.BlockId(nil), inner.Children()...)
	require.Len(t, leafIds, 5)

	counting.resetCounts()
	require.NoError(t, blob.WriteAt(0, randomBytes(fullSize)))

	for _, id := range leafIds[:4] {
		assert.Equal(t, 0, counting.loadCount(id), "fully overwritten leaf %s should not have been loaded", id)
	}
	assert.Equal(t, 1, counting.loadCount(leafIds[4]), "rightmost leaf should be loaded once, by the size lookup")
}

// TestWrite_OnlyPartialTailLeafIsLoaded confirms the load the traversal
// contract does allow: a write whose end falls in the middle of a leaf must
// read that leaf first to preserve the bytes after the write, but every
// other, fully-covered leaf is written without being loaded. The tail leaf
// here is also the rightmost leaf, so it is loaded twice: once by WriteAt's
// size lookup and once to merge the write into its old contents.
func TestWrite_OnlyPartialTailLeafIsLoaded(t *testing.T) {
	base := ondisk.New(t.TempDir())
	counting := newLoadCountingStore(base)
	s, err := NewBlobStore(counting, 100)
	require.NoError(t, err)

	blob, err := s.Create()
	require.NoError(t, err)
	maxBytesPerLeaf := int(s.nodeStore.MaxBytesPerLeaf())

	fullSize := 3 * maxBytesPerLeaf
	require.NoError(t, blob.Resize(uint64(fullSize)))

	root, err := s.nodeStore.Load(blob.BlockId())
	require.NoError(t, err)
	inner, ok := root.(*DataInnerNode)
	require.True(t, ok)
	leafIds := append([]blockstore.BlockId(nil), inner.Children()...)
	require.Len(t, leafIds, 3)

	counting.resetCounts()
	// Covers all of leaf 0, all of leaf 1, and only half of leaf 2.
	require.NoError(t, blob.WriteAt(0, randomBytes(2*maxBytesPerLeaf+maxBytesPerLeaf/2)))

	assert.Equal(t, 0, counting.loadCount(leafIds[0]), "fully overwritten leaf 0 should not have been loaded")
	assert.Equal(t, 0, counting.loadCount(leafIds[1]), "fully overwritten leaf 1 should not have been loaded")
	assert.Equal(t, 2, counting.loadCount(leafIds[2]), "partially overwritten rightmost tail leaf should be loaded exactly twice: size lookup and merge")
}

func TestDelete_RemovesEveryBlock(t *testing.T) {
	s, base := newTestStore(t)
	blob, err := s.Create()
	require.NoError(t, err)
	data := randomBytes(4 * int(s.nodeStore.MaxBytesPerLeaf()))
	require.NoError(t, blob.WriteAt(0, data))

	n, err := base.NumBlocks()
	require.NoError(t, err)
	require.Greater(t, n, 1)

	require.NoError(t, blob.Delete())

	n, err = base.NumBlocks()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
