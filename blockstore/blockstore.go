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

// Package blockstore defines BlockId and the BlockStore interface shared by
// every layer of the store stack (on-disk, encrypted, integrity, caching),
// plus the closed error taxonomy those layers report through.
package blockstore

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// BlockIdSize is the length in bytes of a BlockId.
const BlockIdSize = 16

// BlockId is a 16-byte opaque block identifier, compared bytewise.
type BlockId [BlockIdSize]byte

// NilBlockId is the "no parent" sentinel used by the root blob's fs-header.
var NilBlockId = BlockId{}

// NewBlockId generates a fresh, collision-free block id.
func NewBlockId() BlockId {
	return BlockId(uuid.New())
}

// IsNil reports whether id is the null id.
func (id BlockId) IsNil() bool {
	return id == NilBlockId
}

// String renders the id as lowercase hex, the same form used for on-disk
// file names.
func (id BlockId) String() string {
	return hex.EncodeToString(id[:])
}

// ParseBlockId parses the hex form produced by String.
func ParseBlockId(s string) (BlockId, error) {
	var id BlockId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parsing block id %q: %w", s, err)
	}
	if len(b) != BlockIdSize {
		return id, fmt.Errorf("parsing block id %q: want %d bytes, got %d", s, BlockIdSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// BlockStore is the interface every layer of the store stack implements,
// from the raw on-disk backend up through the write-back cache.
type BlockStore interface {
	// TryCreate atomically creates a new block. It reports ErrAlreadyExists
	// if a block with this id exists anywhere in the stack.
	TryCreate(id BlockId, data []byte) error

	// Load returns the block's bytes, or (nil, false) if the id is not
	// known to the store.
	Load(id BlockId) (data []byte, found bool, err error)

	// Store creates-or-overwrites a block.
	Store(id BlockId, data []byte) error

	// Remove deletes a block. removed is false if the id was not present.
	Remove(id BlockId) (removed bool, err error)

	// ForEachBlock calls fn once for every block id currently known to the
	// store. Iteration order is unspecified.
	ForEachBlock(fn func(BlockId) error) error

	// NumBlocks returns the number of distinct block ids in the store.
	NumBlocks() (int, error)

	// EstimateNumFreeBytes estimates remaining backend capacity.
	EstimateNumFreeBytes() (uint64, error)

	// BlockSizeFromPhysicalBlockSize converts a size reported by the
	// physical medium into the size available for a block's own bytes
	// once this layer's own header/envelope overhead is subtracted.
	BlockSizeFromPhysicalBlockSize(physicalSize uint64) uint64

	// Flush forces any buffered state out to the next layer down.
	Flush() error
}

// ErrorKind is a closed taxonomy of ways a BlockStore operation can fail,
// per the error handling design: the stack never swallows an error, and
// only the fs-facing boundary translates a Kind into a POSIX errno.
type ErrorKind int

const (
	// KindIoError is a generic host-filesystem failure.
	KindIoError ErrorKind = iota
	// KindNotFound is returned when an operation expects a block id to exist.
	KindNotFound
	// KindAlreadyExists is returned by TryCreate when the id is taken.
	KindAlreadyExists
	// KindWrongFormat means a block's format_version is not recognized; fatal.
	KindWrongFormat
	// KindDecryptionFailed means the AEAD tag did not verify.
	KindDecryptionFailed
	// KindIntegrityViolation covers rollback, id-mismatch, missing-known-block,
	// and foreign-client-id violations; see IntegrityViolationKind.
	KindIntegrityViolation
)

func (k ErrorKind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindWrongFormat:
		return "WrongFormat"
	case KindDecryptionFailed:
		return "DecryptionFailed"
	case KindIntegrityViolation:
		return "IntegrityViolation"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every layer of the stack returns,
// carrying a Kind from the closed taxonomy above plus the offending block id
// where one is known.
type Error struct {
	Kind    ErrorKind
	BlockId BlockId
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s(%s): %v", e.Kind, e.BlockId, e.Err)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.BlockId)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrAlreadyExists is returned (wrapped in *Error) by TryCreate.
var ErrAlreadyExists = fmt.Errorf("block already exists")

// NewError builds an *Error of the given kind for id, optionally wrapping
// cause.
func NewError(kind ErrorKind, id BlockId, cause error) *Error {
	return &Error{Kind: kind, BlockId: id, Err: cause}
}
