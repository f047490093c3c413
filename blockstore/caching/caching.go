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

// Package caching sits on top of the rest of the block store stack and
// defers writes: a block written through this layer is held in memory and
// pushed down to the base store only when the cache holds more entries than
// its capacity (the entries that entered the cache first go first), on
// Flush, or on Close, so a burst of small writes to the same block (as the
// blob layer produces while growing a file) costs one base-store write
// instead of many. Entries are not written back because of their age; the
// periodic sweep only checks the capacity bound.
package caching

import (
	"runtime"
	"sync"
	"time"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/clock"
	"github.com/cryfs-go/cryfs/common"
	"github.com/cryfs-go/cryfs/internal/logger"
)

// DefaultMaxEntries bounds how many blocks may sit in the cache. A write
// that takes the cache over this bound pushes the oldest entries down to the
// base store right away; the periodic sweep checks the same bound.
const DefaultMaxEntries = 1000

// DefaultEvictionInterval is how often the periodic sweep runs looking for
// entries to write back.
const DefaultEvictionInterval = 500 * time.Millisecond

// entryState is the lifecycle of a cached block, mirroring the three states
// a block can be in while this layer owns it: present only in cache,
// present in cache and already known to exist below, or tombstoned pending
// a base-store delete.
type entryState int

const (
	stateDirty entryState = iota
	stateRemoved
)

type entry struct {
	id          blockstore.BlockId
	data        []byte
	state       entryState
	inBaseStore bool
}

// BlockStore is the write-back caching layer of the store stack.
type BlockStore struct {
	base  blockstore.BlockStore
	clock clock.Clock

	maxEntries int
	interval   time.Duration

	mu       sync.Mutex
	entries  map[blockstore.BlockId]*entry
	order    common.Queue[blockstore.BlockId]
	locks    map[blockstore.BlockId]*sync.Mutex

	stop chan struct{}
	done chan struct{}
}

var _ blockstore.BlockStore = (*BlockStore)(nil)

// New wraps base with a write-back cache and starts its periodic eviction
// sweep. Close must be called to flush remaining entries and stop the
// sweep.
func New(base blockstore.BlockStore, clk clock.Clock) *BlockStore {
	return NewWithCapacity(base, clk, DefaultMaxEntries)
}

// NewWithCapacity is like New but overrides the number of entries the cache
// holds before eviction kicks in, mainly so tests don't need thousands of
// blocks to observe write-back behavior.
func NewWithCapacity(base blockstore.BlockStore, clk clock.Clock, maxEntries int) *BlockStore {
	s := &BlockStore{
		base:       base,
		clock:      clk,
		maxEntries: maxEntries,
		interval:   DefaultEvictionInterval,
		entries:    map[blockstore.BlockId]*entry{},
		order:      common.NewLinkedListQueue[blockstore.BlockId](),
		locks:      map[blockstore.BlockId]*sync.Mutex{},
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.evictionLoop()
	return s
}

func (s *BlockStore) lockFor(id blockstore.BlockId) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *BlockStore) TryCreate(id blockstore.BlockId, data []byte) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	if _, exists := s.entries[id]; exists {
		s.mu.Unlock()
		return blockstore.NewError(blockstore.KindAlreadyExists, id, blockstore.ErrAlreadyExists)
	}
	s.mu.Unlock()

	if _, found, err := s.base.Load(id); err != nil {
		return err
	} else if found {
		return blockstore.NewError(blockstore.KindAlreadyExists, id, blockstore.ErrAlreadyExists)
	}

	s.put(id, data, false)
	return nil
}

func (s *BlockStore) Store(id blockstore.BlockId, data []byte) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	e, cached := s.entries[id]
	inBase := cached && e.inBaseStore
	s.mu.Unlock()

	if !cached {
		_, found, err := s.base.Load(id)
		if err != nil {
			return err
		}
		inBase = found
	}

	s.put(id, data, inBase)
	return nil
}

// put inserts or replaces a cache entry. A new id goes to the back of the
// eviction queue; an id already cached keeps its place, so entries are
// written back in the order they first entered the cache.
func (s *BlockStore) put(id blockstore.BlockId, data []byte, inBaseStore bool) {
	cp := append([]byte(nil), data...)

	s.mu.Lock()
	if _, exists := s.entries[id]; !exists {
		s.order.Push(id)
	}
	s.entries[id] = &entry{id: id, data: cp, state: stateDirty, inBaseStore: inBaseStore}
	overflow := s.order.Len() - s.maxEntries
	s.mu.Unlock()

	if overflow > 0 {
		s.evictOldest(overflow)
	}
}

func (s *BlockStore) Load(id blockstore.BlockId) ([]byte, bool, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	e, cached := s.entries[id]
	s.mu.Unlock()
	if cached {
		if e.state == stateRemoved {
			return nil, false, nil
		}
		return append([]byte(nil), e.data...), true, nil
	}

	return s.base.Load(id)
}

func (s *BlockStore) Remove(id blockstore.BlockId) (bool, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	e, cached := s.entries[id]
	if cached && e.state == stateRemoved {
		s.mu.Unlock()
		return false, nil
	}
	wasInBase := !cached || e.inBaseStore
	s.entries[id] = &entry{id: id, state: stateRemoved, inBaseStore: wasInBase}
	if !cached {
		s.order.Push(id)
	}
	s.mu.Unlock()

	if !wasInBase {
		// Never written below; nothing to delete there.
		return true, nil
	}
	return s.base.Remove(id)
}

func (s *BlockStore) ForEachBlock(fn func(blockstore.BlockId) error) error {
	s.mu.Lock()
	seen := make(map[blockstore.BlockId]bool, len(s.entries))
	removed := make(map[blockstore.BlockId]bool)
	for id, e := range s.entries {
		seen[id] = true
		if e.state == stateRemoved {
			removed[id] = true
		}
	}
	s.mu.Unlock()

	if err := s.base.ForEachBlock(func(id blockstore.BlockId) error {
		if removed[id] {
			return nil
		}
		return fn(id)
	}); err != nil {
		return err
	}

	s.mu.Lock()
	extra := make([]blockstore.BlockId, 0)
	for id, e := range s.entries {
		if e.state != stateRemoved && !e.inBaseStore {
			extra = append(extra, id)
		}
	}
	s.mu.Unlock()
	for _, id := range extra {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *BlockStore) NumBlocks() (int, error) {
	n, err := s.base.NumBlocks()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.state != stateRemoved && !e.inBaseStore {
			n++
		}
	}
	return n, nil
}

func (s *BlockStore) EstimateNumFreeBytes() (uint64, error) {
	return s.base.EstimateNumFreeBytes()
}

func (s *BlockStore) BlockSizeFromPhysicalBlockSize(physicalSize uint64) uint64 {
	return s.base.BlockSizeFromPhysicalBlockSize(physicalSize)
}

// evictOldest writes back (or deletes) the n oldest cache entries, fanning
// the work out across workers since each write is an independent base-store
// round trip.
func (s *BlockStore) evictOldest(n int) {
	ids := make([]blockstore.BlockId, 0, n)
	s.mu.Lock()
	for i := 0; i < n && !s.order.IsEmpty(); i++ {
		ids = append(ids, s.order.Pop())
	}
	s.mu.Unlock()

	s.writeBackAndEvict(ids)
}

func (s *BlockStore) writeBackAndEvict(ids []blockstore.BlockId) {
	workers := runtime.NumCPU() * 2
	if workers < 1 {
		workers = 1
	}
	if workers > len(ids) {
		workers = len(ids)
	}
	if workers == 0 {
		return
	}

	jobs := make(chan blockstore.BlockId, len(ids))
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				s.writeBackOne(id)
			}
		}()
	}
	wg.Wait()
}

// writeBackOne holds id's lock across the base-store write, not just the
// map mutation: releasing it in between would open a window, for a block
// never yet flushed, where the id is in neither the cache map nor the base
// store, and a concurrent Load would wrongly report it missing.
func (s *BlockStore) writeBackOne(id blockstore.BlockId) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	e, cached := s.entries[id]
	if cached {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !cached {
		return
	}

	var err error
	switch e.state {
	case stateRemoved:
		if e.inBaseStore {
			_, err = s.base.Remove(id)
		}
	default:
		if e.inBaseStore {
			err = s.base.Store(id, e.data)
		} else {
			err = s.base.TryCreate(id, e.data)
		}
	}
	if err != nil {
		logger.Errorf("caching: write-back of block %s failed, will not retry: %v", id, err)
	}
}

func (s *BlockStore) evictionLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.clock.After(s.interval):
			s.mu.Lock()
			overflow := s.order.Len() - s.maxEntries
			s.mu.Unlock()
			if overflow > 0 {
				s.evictOldest(overflow)
			}
		}
	}
}

// Flush synchronously writes every cached entry back to the base store.
func (s *BlockStore) Flush() error {
	s.mu.Lock()
	ids := make([]blockstore.BlockId, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.writeBackAndEvict(ids)
	return s.base.Flush()
}

// Close stops the periodic eviction sweep and flushes all remaining
// entries. The store must not be used after Close returns.
func (s *BlockStore) Close() error {
	close(s.stop)
	<-s.done
	return s.Flush()
}
