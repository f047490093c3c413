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
	"errors"
	"fmt"

	"github.com/cryfs-go/cryfs/blockstore"
)

// NodeStore loads and stores the nodes of a blob tree. It caches nothing
// itself; the caching block store underneath already does that.
type NodeStore struct {
	blocks              blockstore.BlockStore
	maxBytesPerLeaf     uint32
	maxChildrenPerInner uint32
}

// NewNodeStore derives the per-filesystem maxBytesPerLeaf and
// maxChildrenPerInner from blockSizeBytes, the usable payload size of a
// block at this layer.
func NewNodeStore(blocks blockstore.BlockStore, blockSizeBytes uint32) (*NodeStore, error) {
	if blockSizeBytes <= leafHeaderSize {
		return nil, fmt.Errorf("block size %d too small for a leaf header of %d bytes", blockSizeBytes, leafHeaderSize)
	}
	maxBytesPerLeaf := blockSizeBytes - leafHeaderSize
	maxChildren := (blockSizeBytes - innerHeaderSize) / childIdSize
	if maxChildren < 2 {
		return nil, fmt.Errorf("block size %d too small to fit more than one child per inner node", blockSizeBytes)
	}
	return &NodeStore{blocks: blocks, maxBytesPerLeaf: maxBytesPerLeaf, maxChildrenPerInner: maxChildren}, nil
}

func (ns *NodeStore) MaxBytesPerLeaf() uint32     { return ns.maxBytesPerLeaf }
func (ns *NodeStore) MaxChildrenPerInner() uint32 { return ns.maxChildrenPerInner }

// subtreeCapacityBytes returns how many bytes a fully grown subtree rooted
// at a node of the given depth can hold.
func (ns *NodeStore) subtreeCapacityBytes(depth byte) uint64 {
	cap := uint64(ns.maxBytesPerLeaf)
	for i := byte(0); i < depth; i++ {
		cap *= uint64(ns.maxChildrenPerInner)
	}
	return cap
}

// Load fetches and parses the node with the given id.
func (ns *NodeStore) Load(id blockstore.BlockId) (Node, error) {
	data, found, err := ns.blocks.Load(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, blockstore.NewError(blockstore.KindNotFound, id, nil)
	}
	return deserialize(id, data)
}

// CreateNewLeaf persists a brand-new leaf holding data (which must fit
// within MaxBytesPerLeaf) under a freshly generated block id.
func (ns *NodeStore) CreateNewLeaf(data []byte) (*DataLeafNode, error) {
	if uint32(len(data)) > ns.maxBytesPerLeaf {
		return nil, fmt.Errorf("leaf data of %d bytes exceeds max leaf size %d", len(data), ns.maxBytesPerLeaf)
	}
	leaf := &DataLeafNode{id: blockstore.NewBlockId(), data: append([]byte(nil), data...)}
	if err := ns.blocks.TryCreate(leaf.id, leaf.serialize()); err != nil {
		panicOnIdCollision(leaf.id, err)
		return nil, err
	}
	return leaf, nil
}

// CreateNewInner persists a brand-new inner node under a freshly generated
// block id.
func (ns *NodeStore) CreateNewInner(depth byte, children []blockstore.BlockId) (*DataInnerNode, error) {
	inner := &DataInnerNode{id: blockstore.NewBlockId(), depth: depth, children: append([]blockstore.BlockId(nil), children...)}
	if err := ns.blocks.TryCreate(inner.id, inner.serialize()); err != nil {
		panicOnIdCollision(inner.id, err)
		return nil, err
	}
	return inner, nil
}

// panicOnIdCollision stops the process when a freshly generated block id
// (blockstore.NewBlockId, a random UUID) is already taken. Ids are never
// reused or predicted, so this can only mean the block store holds a block
// under an id this process never recorded handing out, which is the closed
// taxonomy's integrity-violation case, not an ordinary already-exists race.
func panicOnIdCollision(id blockstore.BlockId, err error) {
	var blockErr *blockstore.Error
	if errors.As(err, &blockErr) && blockErr.Kind == blockstore.KindAlreadyExists {
		panic(fmt.Sprintf("block id %s collided with an existing block; the block store is corrupt or under attack", id))
	}
}

// Save writes node's current in-memory content back to its own block id.
func (ns *NodeStore) Save(node Node) error {
	return ns.blocks.Store(node.BlockId(), node.serialize())
}

// OverwriteWithInner replaces id's stored content with a new inner node,
// preserving id itself (used for root promotion/demotion).
func (ns *NodeStore) OverwriteWithInner(id blockstore.BlockId, depth byte, children []blockstore.BlockId) (*DataInnerNode, error) {
	inner := &DataInnerNode{id: id, depth: depth, children: append([]blockstore.BlockId(nil), children...)}
	if err := ns.blocks.Store(id, inner.serialize()); err != nil {
		return nil, err
	}
	return inner, nil
}

// OverwriteWithLeaf replaces id's stored content with a new leaf, preserving
// id itself (used when shrinking a tree's depth back down to one leaf).
func (ns *NodeStore) OverwriteWithLeaf(id blockstore.BlockId, data []byte) (*DataLeafNode, error) {
	leaf := &DataLeafNode{id: id, data: append([]byte(nil), data...)}
	if err := ns.blocks.Store(id, leaf.serialize()); err != nil {
		return nil, err
	}
	return leaf, nil
}

// Remove deletes the block backing a single node (not its subtree).
func (ns *NodeStore) Remove(id blockstore.BlockId) error {
	_, err := ns.blocks.Remove(id)
	return err
}

// Flush forces the underlying block store to write any buffered blocks
// through to stable storage.
func (ns *NodeStore) Flush() error {
	return ns.blocks.Flush()
}
