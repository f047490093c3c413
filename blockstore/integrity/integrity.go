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

// Package integrity wraps the encrypted block store with rollback and
// replacement detection: every block carries a per-(client, block) version
// counter in its plaintext envelope, and a local known-blocks map records
// the highest version ever observed so an externally restored older copy of
// a block is caught rather than silently accepted.
package integrity

import (
	"encoding/binary"
	"sync"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/internal/logger"
	"github.com/cryfs-go/cryfs/localstate"
)

const (
	envelopeFormatVersion byte = 1
	envelopeHeaderSize         = blockstore.BlockIdSize + 1 + 4 + 8
)

// ViolationKind distinguishes the ways an integrity check can fail.
type ViolationKind int

const (
	ViolationIdMismatch ViolationKind = iota
	ViolationRollback
	ViolationMissingKnownBlock
	ViolationForeignClient
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationIdMismatch:
		return "IdMismatch"
	case ViolationRollback:
		return "Rollback"
	case ViolationMissingKnownBlock:
		return "MissingKnownBlock"
	case ViolationForeignClient:
		return "ForeignClient"
	default:
		return "Unknown"
	}
}

// Observer is invoked exactly once per mount lifetime, the first time an
// integrity violation is detected (whether or not AllowIntegrityViolations
// lets the operation otherwise proceed).
type Observer func(kind ViolationKind, id blockstore.BlockId)

// Policy configures the checks this layer enforces, mirroring the flags
// carried in the filesystem config (spec §4.3).
type Policy struct {
	MissingBlockIsIntegrityViolation bool
	ExclusiveClientId                *uint32
	AllowIntegrityViolations         bool
}

// BlockStore is the integrity layer of the store stack.
type BlockStore struct {
	lower      blockstore.BlockStore
	data       *localstate.IntegrityData
	myClientId uint32
	policy     Policy
	observer   Observer

	mu            sync.Mutex
	observerFired bool
	poisoned      map[blockstore.BlockId]bool
}

var _ blockstore.BlockStore = (*BlockStore)(nil)

// New wraps lower with integrity checking. data is the filesystem's
// known-blocks map, normally loaded from localstate and saved back on
// unmount. myClientId is this host's stable client id.
func New(lower blockstore.BlockStore, data *localstate.IntegrityData, myClientId uint32, policy Policy, observer Observer) *BlockStore {
	if observer == nil {
		observer = func(ViolationKind, blockstore.BlockId) {}
	}
	return &BlockStore{
		lower:      lower,
		data:       data,
		myClientId: myClientId,
		policy:     policy,
		observer:   observer,
		poisoned:   map[blockstore.BlockId]bool{},
	}
}

func (s *BlockStore) isPoisoned(id blockstore.BlockId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned[id]
}

func (s *BlockStore) poison(id blockstore.BlockId) {
	s.mu.Lock()
	s.poisoned[id] = true
	s.mu.Unlock()
}

// reportViolation fires the observer at most once per mount and, unless the
// policy allows violations, returns a *blockstore.Error the caller should
// propagate; when violations are allowed, it returns nil so the caller
// proceeds with the (still returned) data.
func (s *BlockStore) reportViolation(kind ViolationKind, id blockstore.BlockId) error {
	s.mu.Lock()
	fireObserver := !s.observerFired
	s.observerFired = true
	s.mu.Unlock()

	if fireObserver {
		s.observer(kind, id)
	}
	logger.Warnf("integrity violation: %s on block %s", kind, id)

	if s.policy.AllowIntegrityViolations {
		return nil
	}
	s.poison(id)
	return blockstore.NewError(blockstore.KindIntegrityViolation, id, nil)
}

func (s *BlockStore) nextVersion(id blockstore.BlockId) uint64 {
	v, _ := s.data.KnownVersion(s.myClientId, id.String())
	return v + 1
}

func encodeEnvelope(id blockstore.BlockId, clientId uint32, version uint64, payload []byte) []byte {
	out := make([]byte, envelopeHeaderSize, envelopeHeaderSize+len(payload))
	copy(out[0:16], id[:])
	out[16] = envelopeFormatVersion
	binary.BigEndian.PutUint32(out[17:21], clientId)
	binary.BigEndian.PutUint64(out[21:29], version)
	return append(out, payload...)
}

type envelope struct {
	blockId  blockstore.BlockId
	clientId uint32
	ver      uint64
	payload  []byte
}

func decodeEnvelope(id blockstore.BlockId, data []byte) (*envelope, error) {
	if len(data) < envelopeHeaderSize {
		return nil, blockstore.NewError(blockstore.KindWrongFormat, id, nil)
	}
	var e envelope
	copy(e.blockId[:], data[0:16])
	if data[16] != envelopeFormatVersion {
		return nil, blockstore.NewError(blockstore.KindWrongFormat, id, nil)
	}
	e.clientId = binary.BigEndian.Uint32(data[17:21])
	e.ver = binary.BigEndian.Uint64(data[21:29])
	e.payload = data[envelopeHeaderSize:]
	return &e, nil
}

func (s *BlockStore) wrapAndWrite(id blockstore.BlockId, plaintext []byte, write func(blockstore.BlockId, []byte) error) error {
	version := s.nextVersion(id)
	s.data.UpdateKnownVersion(s.myClientId, id.String(), version)
	s.data.MarkKnownBlock(id.String())
	encoded := encodeEnvelope(id, s.myClientId, version, plaintext)
	return write(id, encoded)
}

func (s *BlockStore) TryCreate(id blockstore.BlockId, plaintext []byte) error {
	return s.wrapAndWrite(id, plaintext, s.lower.TryCreate)
}

func (s *BlockStore) Store(id blockstore.BlockId, plaintext []byte) error {
	return s.wrapAndWrite(id, plaintext, s.lower.Store)
}

func (s *BlockStore) Load(id blockstore.BlockId) ([]byte, bool, error) {
	if s.isPoisoned(id) {
		return nil, false, blockstore.NewError(blockstore.KindIntegrityViolation, id, nil)
	}

	encoded, found, err := s.lower.Load(id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		if s.policy.MissingBlockIsIntegrityViolation && s.data.IsKnownBlock(id.String()) {
			if err := s.reportViolation(ViolationMissingKnownBlock, id); err != nil {
				return nil, false, err
			}
		}
		return nil, false, nil
	}

	e, err := decodeEnvelope(id, encoded)
	if err != nil {
		return nil, false, err
	}

	if e.blockId != id {
		if err := s.reportViolation(ViolationIdMismatch, id); err != nil {
			return nil, false, err
		}
	}

	if s.policy.ExclusiveClientId != nil && e.clientId != *s.policy.ExclusiveClientId {
		if err := s.reportViolation(ViolationForeignClient, id); err != nil {
			return nil, false, err
		}
	}

	if known, ok := s.data.KnownVersion(e.clientId, id.String()); ok && e.ver < known {
		if err := s.reportViolation(ViolationRollback, id); err != nil {
			return nil, false, err
		}
	}

	s.data.UpdateKnownVersion(e.clientId, id.String(), e.ver)
	s.data.MarkKnownBlock(id.String())

	return e.payload, true, nil
}

func (s *BlockStore) Remove(id blockstore.BlockId) (bool, error) {
	return s.lower.Remove(id)
}

func (s *BlockStore) ForEachBlock(fn func(blockstore.BlockId) error) error {
	return s.lower.ForEachBlock(fn)
}

func (s *BlockStore) NumBlocks() (int, error) {
	return s.lower.NumBlocks()
}

func (s *BlockStore) EstimateNumFreeBytes() (uint64, error) {
	return s.lower.EstimateNumFreeBytes()
}

func (s *BlockStore) BlockSizeFromPhysicalBlockSize(physicalSize uint64) uint64 {
	lowerSize := s.lower.BlockSizeFromPhysicalBlockSize(physicalSize)
	if lowerSize < envelopeHeaderSize {
		return 0
	}
	return lowerSize - envelopeHeaderSize
}

func (s *BlockStore) Flush() error {
	return s.lower.Flush()
}
