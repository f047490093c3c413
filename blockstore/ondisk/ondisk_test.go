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

package ondisk

import (
	"testing"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryCreate_LoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	id := blockstore.NewBlockId()

	require.NoError(t, s.TryCreate(id, []byte("hello")))
	data, found, err := s.Load(id)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)
}

func TestTryCreate_DuplicateIsAlreadyExists(t *testing.T) {
	s := New(t.TempDir())
	id := blockstore.NewBlockId()
	require.NoError(t, s.TryCreate(id, []byte("a")))

	err := s.TryCreate(id, []byte("b"))

	require.Error(t, err)
	var blockErr *blockstore.Error
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, blockstore.KindAlreadyExists, blockErr.Kind)
}

func TestLoad_MissingReturnsNotFound(t *testing.T) {
	s := New(t.TempDir())

	data, found, err := s.Load(blockstore.NewBlockId())

	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)
}

func TestStore_OverwritesExisting(t *testing.T) {
	s := New(t.TempDir())
	id := blockstore.NewBlockId()
	require.NoError(t, s.TryCreate(id, []byte("first")))

	require.NoError(t, s.Store(id, []byte("second")))
	data, _, err := s.Load(id)

	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestRemove(t *testing.T) {
	s := New(t.TempDir())
	id := blockstore.NewBlockId()
	require.NoError(t, s.TryCreate(id, []byte("x")))

	removed, err := s.Remove(id)
	require.NoError(t, err)
	assert.True(t, removed)

	removedAgain, err := s.Remove(id)
	require.NoError(t, err)
	assert.False(t, removedAgain)
}

func TestForEachBlockAndNumBlocks(t *testing.T) {
	s := New(t.TempDir())
	ids := []blockstore.BlockId{blockstore.NewBlockId(), blockstore.NewBlockId(), blockstore.NewBlockId()}
	for _, id := range ids {
		require.NoError(t, s.TryCreate(id, []byte("x")))
	}

	n, err := s.NumBlocks()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	seen := map[blockstore.BlockId]bool{}
	require.NoError(t, s.ForEachBlock(func(id blockstore.BlockId) error {
		seen[id] = true
		return nil
	}))
	for _, id := range ids {
		assert.True(t, seen[id])
	}
}
