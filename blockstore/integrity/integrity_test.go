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

package integrity

import (
	"testing"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/blockstore/ondisk"
	"github.com/cryfs-go/cryfs/localstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, policy Policy, observer Observer) (*BlockStore, blockstore.BlockStore) {
	t.Helper()
	lower := ondisk.New(t.TempDir())
	data, err := localstate.New(t.TempDir()).LoadIntegrityData("test-fs")
	require.NoError(t, err)
	return New(lower, data, 1, policy, observer), lower
}

func TestStoreLoad_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t, Policy{}, nil)
	id := blockstore.NewBlockId()

	require.NoError(t, s.Store(id, []byte("payload")))
	data, found, err := s.Load(id)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), data)
}

func TestLoad_MissingBlockNotViolationByDefault(t *testing.T) {
	s, _ := newTestStore(t, Policy{}, nil)

	data, found, err := s.Load(blockstore.NewBlockId())

	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)
}

func TestLoad_MissingKnownBlockIsViolationWhenPolicySet(t *testing.T) {
	var fired ViolationKind
	var firedCount int
	s, lower := newTestStore(t, Policy{MissingBlockIsIntegrityViolation: true}, func(kind ViolationKind, id blockstore.BlockId) {
		fired = kind
		firedCount++
	})
	id := blockstore.NewBlockId()
	require.NoError(t, s.Store(id, []byte("payload")))
	_, err := lower.Remove(id)
	require.NoError(t, err)

	_, _, err = s.Load(id)

	require.Error(t, err)
	var blockErr *blockstore.Error
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, blockstore.KindIntegrityViolation, blockErr.Kind)
	assert.Equal(t, ViolationMissingKnownBlock, fired)
	assert.Equal(t, 1, firedCount)
}

func TestLoad_RollbackDetected(t *testing.T) {
	s, lower := newTestStore(t, Policy{}, nil)
	id := blockstore.NewBlockId()
	require.NoError(t, s.Store(id, []byte("v1")))
	require.NoError(t, s.Store(id, []byte("v2")))

	// Simulate an attacker restoring the older, already-superseded version.
	staleEnvelope := encodeEnvelope(id, 1, 1, []byte("v1"))
	require.NoError(t, lower.Store(id, staleEnvelope))

	_, _, err := s.Load(id)

	require.Error(t, err)
	var blockErr *blockstore.Error
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, blockstore.KindIntegrityViolation, blockErr.Kind)
}

func TestLoad_IdMismatchDetected(t *testing.T) {
	s, lower := newTestStore(t, Policy{}, nil)
	idA, idB := blockstore.NewBlockId(), blockstore.NewBlockId()

	envelopeForA := encodeEnvelope(idA, 1, 1, []byte("A's data"))
	require.NoError(t, lower.Store(idB, envelopeForA))

	_, _, err := s.Load(idB)

	require.Error(t, err)
	var blockErr *blockstore.Error
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, blockstore.KindIntegrityViolation, blockErr.Kind)
}

func TestLoad_AllowIntegrityViolationsReturnsDataAndFiresObserverOnce(t *testing.T) {
	var firedCount int
	s, lower := newTestStore(t, Policy{AllowIntegrityViolations: true}, func(ViolationKind, blockstore.BlockId) {
		firedCount++
	})
	id := blockstore.NewBlockId()
	require.NoError(t, s.Store(id, []byte("v1")))
	require.NoError(t, s.Store(id, []byte("v2")))
	staleEnvelope := encodeEnvelope(id, 1, 1, []byte("v1"))
	require.NoError(t, lower.Store(id, staleEnvelope))

	data, found, err := s.Load(id)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), data)
	assert.Equal(t, 1, firedCount)
}

func TestLoad_PoisonedBlockFailsWithoutConsultingLower(t *testing.T) {
	s, lower := newTestStore(t, Policy{}, nil)
	id := blockstore.NewBlockId()
	require.NoError(t, s.Store(id, []byte("v1")))
	require.NoError(t, s.Store(id, []byte("v2")))
	staleEnvelope := encodeEnvelope(id, 1, 1, []byte("v1"))
	require.NoError(t, lower.Store(id, staleEnvelope))
	_, _, err := s.Load(id)
	require.Error(t, err)

	// Restore a perfectly valid block underneath; the poisoned id should
	// still be refused until remount.
	require.NoError(t, s.Store(id, []byte("v3")))
	require.NoError(t, lower.Store(id, encodeEnvelope(id, 1, 4, []byte("v3"))))
	_, _, err = s.Load(id)

	require.Error(t, err)
}
