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

// Package blobstore implements resizable byte arrays ("blobs") as trees of
// fixed-size blocks on top of a blockstore.BlockStore: DataLeafNode holds
// raw bytes, DataInnerNode holds child block ids, and every leaf in one
// blob sits at the same depth.
package blobstore

import (
	"encoding/binary"
	"fmt"

	"github.com/cryfs-go/cryfs/blockstore"
)

const (
	leafHeaderSize  = 1 + 4       // depth byte + size uint32
	innerHeaderSize = 1 + 4       // depth byte + nchildren uint32
	childIdSize     = blockstore.BlockIdSize
)

// Node is either a DataLeafNode or a DataInnerNode.
type Node interface {
	BlockId() blockstore.BlockId
	Depth() byte
	serialize() []byte
}

// DataLeafNode stores up to maxBytesPerLeaf raw bytes.
type DataLeafNode struct {
	id   blockstore.BlockId
	data []byte
}

func (n *DataLeafNode) BlockId() blockstore.BlockId { return n.id }
func (n *DataLeafNode) Depth() byte                 { return 0 }
func (n *DataLeafNode) Size() uint32                { return uint32(len(n.data)) }
func (n *DataLeafNode) Data() []byte                { return n.data }

func (n *DataLeafNode) serialize() []byte {
	out := make([]byte, leafHeaderSize, leafHeaderSize+len(n.data))
	out[0] = 0
	binary.BigEndian.PutUint32(out[1:5], uint32(len(n.data)))
	return append(out, n.data...)
}

// DataInnerNode stores the block ids of its children, all at depth-1.
type DataInnerNode struct {
	id       blockstore.BlockId
	depth    byte
	children []blockstore.BlockId
}

func (n *DataInnerNode) BlockId() blockstore.BlockId      { return n.id }
func (n *DataInnerNode) Depth() byte                      { return n.depth }
func (n *DataInnerNode) Children() []blockstore.BlockId   { return n.children }
func (n *DataInnerNode) NumChildren() int                 { return len(n.children) }
func (n *DataInnerNode) ChildAt(i int) blockstore.BlockId { return n.children[i] }

func (n *DataInnerNode) serialize() []byte {
	out := make([]byte, innerHeaderSize, innerHeaderSize+len(n.children)*childIdSize)
	out[0] = n.depth
	binary.BigEndian.PutUint32(out[1:5], uint32(len(n.children)))
	for _, c := range n.children {
		out = append(out, c[:]...)
	}
	return out
}

func deserialize(id blockstore.BlockId, data []byte) (Node, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("node %s: empty block", id)
	}
	depth := data[0]
	if depth == 0 {
		if len(data) < leafHeaderSize {
			return nil, fmt.Errorf("node %s: truncated leaf header", id)
		}
		size := binary.BigEndian.Uint32(data[1:5])
		payload := data[leafHeaderSize:]
		if uint32(len(payload)) < size {
			return nil, fmt.Errorf("node %s: truncated leaf payload", id)
		}
		return &DataLeafNode{id: id, data: append([]byte(nil), payload[:size]...)}, nil
	}

	if len(data) < innerHeaderSize {
		return nil, fmt.Errorf("node %s: truncated inner header", id)
	}
	n := binary.BigEndian.Uint32(data[1:5])
	rest := data[innerHeaderSize:]
	if uint64(len(rest)) < uint64(n)*childIdSize {
		return nil, fmt.Errorf("node %s: truncated inner children", id)
	}
	children := make([]blockstore.BlockId, n)
	for i := range children {
		copy(children[i][:], rest[i*childIdSize:(i+1)*childIdSize])
	}
	return &DataInnerNode{id: id, depth: depth, children: children}, nil
}
