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

package caching

import (
	"testing"
	"time"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/blockstore/ondisk"
	"github.com/cryfs-go/cryfs/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxEntries int) (*BlockStore, blockstore.BlockStore) {
	t.Helper()
	base := ondisk.New(t.TempDir())
	s := NewWithCapacity(base, &clock.FakeClock{WaitTime: 5 * time.Millisecond}, maxEntries)
	t.Cleanup(func() { s.Close() })
	return s, base
}

func TestStoreLoad_ServedFromCacheBeforeEviction(t *testing.T) {
	s, base := newTestStore(t, 100)
	id := blockstore.NewBlockId()

	require.NoError(t, s.Store(id, []byte("hello")))
	data, found, err := s.Load(id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)

	_, foundInBase, err := base.Load(id)
	require.NoError(t, err)
	assert.False(t, foundInBase, "a freshly written block should still be sitting in the cache")
}

func TestTryCreate_DuplicateIsAlreadyExists(t *testing.T) {
	s, _ := newTestStore(t, 100)
	id := blockstore.NewBlockId()
	require.NoError(t, s.TryCreate(id, []byte("a")))

	err := s.TryCreate(id, []byte("b"))

	require.Error(t, err)
	var blockErr *blockstore.Error
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, blockstore.KindAlreadyExists, blockErr.Kind)
}

func TestRemove_BeforeEvictionNeverTouchesBase(t *testing.T) {
	s, base := newTestStore(t, 100)
	id := blockstore.NewBlockId()
	require.NoError(t, s.Store(id, []byte("hello")))

	removed, err := s.Remove(id)
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err := s.Load(id)
	require.NoError(t, err)
	assert.False(t, found)

	n, err := base.NumBlocks()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEviction_WritesBackToBaseWhenOverCapacity(t *testing.T) {
	s, base := newTestStore(t, 2)
	ids := []blockstore.BlockId{blockstore.NewBlockId(), blockstore.NewBlockId(), blockstore.NewBlockId()}
	for _, id := range ids {
		require.NoError(t, s.Store(id, []byte("payload")))
	}

	require.Eventually(t, func() bool {
		n, err := base.NumBlocks()
		return err == nil && n >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestFlush_WritesEverythingBack(t *testing.T) {
	s, base := newTestStore(t, 100)
	id := blockstore.NewBlockId()
	require.NoError(t, s.Store(id, []byte("hello")))

	require.NoError(t, s.Flush())

	data, found, err := base.Load(id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)
}

func TestForEachBlock_IncludesCachedAndExcludesRemoved(t *testing.T) {
	s, _ := newTestStore(t, 100)
	kept := blockstore.NewBlockId()
	removed := blockstore.NewBlockId()
	require.NoError(t, s.Store(kept, []byte("a")))
	require.NoError(t, s.Store(removed, []byte("b")))
	require.NoError(t, s.Flush())
	_, err := s.Remove(removed)
	require.NoError(t, err)

	var seen []blockstore.BlockId
	require.NoError(t, s.ForEachBlock(func(id blockstore.BlockId) error {
		seen = append(seen, id)
		return nil
	}))

	assert.Contains(t, seen, kept)
	assert.NotContains(t, seen, removed)
}

func TestNumBlocks_CountsUnflushedCacheEntries(t *testing.T) {
	s, base := newTestStore(t, 100)
	require.NoError(t, s.Store(blockstore.NewBlockId(), []byte("a")))
	require.NoError(t, s.Store(blockstore.NewBlockId(), []byte("b")))

	n, err := s.NumBlocks()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	baseN, err := base.NumBlocks()
	require.NoError(t, err)
	assert.Equal(t, 0, baseN)
}
