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

// Package encrypted wraps a lower byte-oriented BlockStore with an AEAD
// envelope per block: format_version, a fresh random nonce, and the
// ciphertext+tag, with the block id bound in as associated data so
// ciphertexts can never be silently swapped between ids.
package encrypted

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/cryfs-go/cryfs/blockstore"
)

// FormatVersion is the only envelope layout this implementation understands.
// A block whose stored version differs is rejected as KindWrongFormat rather
// than guessed at.
const FormatVersion uint16 = 1

const formatVersionSize = 2

// BlockStore is the AEAD layer of the store stack.
type BlockStore struct {
	lower      blockstore.BlockStore
	cipherName string
	key        []byte
	nonceSize  int
	tagOverhead int
}

var _ blockstore.BlockStore = (*BlockStore)(nil)

// New wraps lower with AEAD encryption under cipherName using key (whose
// length must match the cipher's required key size).
func New(lower blockstore.BlockStore, cipherName string, key []byte) (*BlockStore, error) {
	aead, err := NewAEAD(cipherName, key)
	if err != nil {
		return nil, err
	}
	return &BlockStore{
		lower:       lower,
		cipherName:  cipherName,
		key:         key,
		nonceSize:   aead.NonceSize(),
		tagOverhead: aead.Overhead(),
	}, nil
}

func (s *BlockStore) seal(id blockstore.BlockId, plaintext []byte) ([]byte, error) {
	aead, err := NewAEAD(s.cipherName, s.key)
	if err != nil {
		return nil, blockstore.NewError(blockstore.KindIoError, id, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, blockstore.NewError(blockstore.KindIoError, id, err)
	}

	out := make([]byte, formatVersionSize, formatVersionSize+len(nonce)+len(plaintext)+aead.Overhead())
	binary.BigEndian.PutUint16(out, FormatVersion)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, id[:])
	return out, nil
}

func (s *BlockStore) open(id blockstore.BlockId, encoded []byte) ([]byte, error) {
	if len(encoded) < formatVersionSize {
		return nil, blockstore.NewError(blockstore.KindWrongFormat, id, nil)
	}
	version := binary.BigEndian.Uint16(encoded[:formatVersionSize])
	if version != FormatVersion {
		return nil, blockstore.NewError(blockstore.KindWrongFormat, id, nil)
	}

	aead, err := NewAEAD(s.cipherName, s.key)
	if err != nil {
		return nil, blockstore.NewError(blockstore.KindIoError, id, err)
	}
	rest := encoded[formatVersionSize:]
	if len(rest) < aead.NonceSize() {
		return nil, blockstore.NewError(blockstore.KindWrongFormat, id, nil)
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, id[:])
	if err != nil {
		return nil, blockstore.NewError(blockstore.KindDecryptionFailed, id, err)
	}
	return plaintext, nil
}

func (s *BlockStore) TryCreate(id blockstore.BlockId, plaintext []byte) error {
	encoded, err := s.seal(id, plaintext)
	if err != nil {
		return err
	}
	return s.lower.TryCreate(id, encoded)
}

func (s *BlockStore) Load(id blockstore.BlockId) ([]byte, bool, error) {
	encoded, found, err := s.lower.Load(id)
	if err != nil || !found {
		return nil, found, err
	}
	plaintext, err := s.open(id, encoded)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}

func (s *BlockStore) Store(id blockstore.BlockId, plaintext []byte) error {
	encoded, err := s.seal(id, plaintext)
	if err != nil {
		return err
	}
	return s.lower.Store(id, encoded)
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

// BlockSizeFromPhysicalBlockSize subtracts this layer's own envelope
// overhead (format version, nonce, AEAD tag) before deferring to lower.
func (s *BlockStore) BlockSizeFromPhysicalBlockSize(physicalSize uint64) uint64 {
	overhead := uint64(formatVersionSize + s.nonceSize + s.tagOverhead)
	lowerSize := s.lower.BlockSizeFromPhysicalBlockSize(physicalSize)
	if lowerSize < overhead {
		return 0
	}
	return lowerSize - overhead
}

func (s *BlockStore) Flush() error {
	return s.lower.Flush()
}
