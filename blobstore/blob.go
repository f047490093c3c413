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
	"fmt"
	"sync"

	"github.com/cryfs-go/cryfs/blockstore"
)

// Blob is a resizable random-access byte array backed by a tree of blocks.
// Its identity is the block id of its root node, which never changes
// across growth or shrinkage.
type Blob struct {
	mu        sync.Mutex
	nodeStore *NodeStore
	rootId    blockstore.BlockId
}

// CreateBlob allocates a brand-new, empty blob (a single empty leaf).
func CreateBlob(nodeStore *NodeStore) (*Blob, error) {
	leaf, err := nodeStore.CreateNewLeaf(nil)
	if err != nil {
		return nil, err
	}
	return &Blob{nodeStore: nodeStore, rootId: leaf.BlockId()}, nil
}

// LoadBlob returns a handle onto the existing blob rooted at rootId.
func LoadBlob(nodeStore *NodeStore, rootId blockstore.BlockId) *Blob {
	return &Blob{nodeStore: nodeStore, rootId: rootId}
}

// BlockId returns the blob's root id, which is also the blob's identity.
func (b *Blob) BlockId() blockstore.BlockId {
	return b.rootId
}

// Size returns the blob's current logical size in bytes.
func (b *Blob) Size() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	root, err := b.nodeStore.Load(b.rootId)
	if err != nil {
		return 0, err
	}
	return b.sizeOf(root)
}

func (b *Blob) sizeOf(node Node) (uint64, error) {
	leaf, ok := node.(*DataLeafNode)
	if ok {
		return uint64(leaf.Size()), nil
	}
	inner := node.(*DataInnerNode)
	if inner.NumChildren() == 0 {
		return 0, nil
	}
	childCap := b.nodeStore.subtreeCapacityBytes(inner.Depth() - 1)
	lastChild, err := b.nodeStore.Load(inner.ChildAt(inner.NumChildren() - 1))
	if err != nil {
		return 0, err
	}
	lastSize, err := b.sizeOf(lastChild)
	if err != nil {
		return 0, err
	}
	return uint64(inner.NumChildren()-1)*childCap + lastSize, nil
}

// ReadAt copies min(len(p), size-offset) bytes starting at offset into p
// and returns how many bytes were copied.
func (b *Blob) ReadAt(offset uint64, p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size, err := func() (uint64, error) {
		root, err := b.nodeStore.Load(b.rootId)
		if err != nil {
			return 0, err
		}
		return b.sizeOf(root)
	}()
	if err != nil {
		return 0, err
	}
	if offset >= size {
		return 0, nil
	}
	toRead := uint64(len(p))
	if offset+toRead > size {
		toRead = size - offset
	}

	root, err := b.nodeStore.Load(b.rootId)
	if err != nil {
		return 0, err
	}
	n, err := b.readFrom(root, offset, p[:toRead])
	if err != nil {
		return 0, err
	}
	return n, nil
}

// readFrom reads into p the bytes of node's subtree starting at byte
// offset (relative to the subtree's own start), assuming p fits entirely
// within the subtree (the caller already clamped to the blob's size).
func (b *Blob) readFrom(node Node, offset uint64, p []byte) (int, error) {
	if leaf, ok := node.(*DataLeafNode); ok {
		n := copy(p, leaf.Data()[offset:])
		return n, nil
	}
	inner := node.(*DataInnerNode)
	childCap := b.nodeStore.subtreeCapacityBytes(inner.Depth() - 1)
	childIdx := offset / childCap
	childOffset := offset % childCap

	written := 0
	for int(childIdx) < inner.NumChildren() && written < len(p) {
		child, err := b.nodeStore.Load(inner.ChildAt(int(childIdx)))
		if err != nil {
			return written, err
		}
		remaining := p[written:]
		toTake := childCap - childOffset
		if uint64(len(remaining)) < toTake {
			toTake = uint64(len(remaining))
		}
		n, err := b.readFrom(child, childOffset, remaining[:toTake])
		if err != nil {
			return written, err
		}
		written += n
		childIdx++
		childOffset = 0
	}
	return written, nil
}

// WriteAt writes p at offset, growing the blob if offset+len(p) exceeds
// its current size.
func (b *Blob) WriteAt(offset uint64, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(p) == 0 {
		return nil
	}

	newSize := offset + uint64(len(p))
	size, err := func() (uint64, error) {
		root, err := b.nodeStore.Load(b.rootId)
		if err != nil {
			return 0, err
		}
		return b.sizeOf(root)
	}()
	if err != nil {
		return err
	}
	if newSize > size {
		if err := b.growTo(newSize); err != nil {
			return err
		}
	}

	root, err := b.nodeStore.Load(b.rootId)
	if err != nil {
		return err
	}
	return b.writeInto(root, offset, p)
}

func (b *Blob) writeInto(node Node, offset uint64, p []byte) error {
	if leaf, ok := node.(*DataLeafNode); ok {
		copy(leaf.data[offset:], p)
		return b.nodeStore.Save(leaf)
	}
	inner := node.(*DataInnerNode)
	childCap := b.nodeStore.subtreeCapacityBytes(inner.Depth() - 1)
	childIdx := int(offset / childCap)
	childOffset := offset % childCap
	childIsLeaf := inner.Depth() == 1

	written := 0
	for written < len(p) {
		childId := inner.ChildAt(childIdx)
		remaining := p[written:]
		toTake := childCap - childOffset
		if uint64(len(remaining)) < toTake {
			toTake = uint64(len(remaining))
		}

		if childIsLeaf && childOffset == 0 && toTake == childCap {
			// The write fully covers this leaf: its old contents don't
			// matter, so write the new leaf directly instead of loading
			// it first just to overwrite every byte of it.
			leaf := &DataLeafNode{id: childId, data: append([]byte(nil), remaining[:toTake]...)}
			if err := b.nodeStore.Save(leaf); err != nil {
				return err
			}
		} else {
			child, err := b.nodeStore.Load(childId)
			if err != nil {
				return err
			}
			if err := b.writeInto(child, childOffset, remaining[:toTake]); err != nil {
				return err
			}
		}

		written += int(toTake)
		childIdx++
		childOffset = 0
	}
	return nil
}

// growTo promotes the root as many times as needed to reach newSize's
// capacity, then extends the rightmost path with zero-filled nodes.
func (b *Blob) growTo(newSize uint64) error {
	root, err := b.nodeStore.Load(b.rootId)
	if err != nil {
		return err
	}

	for b.nodeStore.subtreeCapacityBytes(root.Depth()) < newSize {
		if err := b.promoteRoot(root); err != nil {
			return err
		}
		root, err = b.nodeStore.Load(b.rootId)
		if err != nil {
			return err
		}
	}

	return b.growRightmostPath(root, newSize)
}

// promoteRoot increases the tree's depth by one while keeping the root's
// block id: the old root's content is copied into a brand-new child block,
// and the root's own block id is overwritten in place with a fresh inner
// node pointing at that one child.
func (b *Blob) promoteRoot(root Node) error {
	var newChildId blockstore.BlockId
	switch n := root.(type) {
	case *DataLeafNode:
		copied, err := b.nodeStore.CreateNewLeaf(n.data)
		if err != nil {
			return err
		}
		newChildId = copied.BlockId()
	case *DataInnerNode:
		copied, err := b.nodeStore.CreateNewInner(n.depth, n.children)
		if err != nil {
			return err
		}
		newChildId = copied.BlockId()
	default:
		return fmt.Errorf("unknown node type")
	}
	_, err := b.nodeStore.OverwriteWithInner(b.rootId, root.Depth()+1, []blockstore.BlockId{newChildId})
	return err
}

// growRightmostPath extends node's subtree, in place, so it holds newSize
// bytes (newSize must not exceed the subtree's capacity), creating
// zero-filled leaves and inner nodes as needed along the way.
func (b *Blob) growRightmostPath(node Node, newSize uint64) error {
	if leaf, ok := node.(*DataLeafNode); ok {
		if uint64(len(leaf.data)) >= newSize {
			return nil
		}
		grown := make([]byte, newSize)
		copy(grown, leaf.data)
		leaf.data = grown
		return b.nodeStore.Save(leaf)
	}

	inner := node.(*DataInnerNode)
	childCap := b.nodeStore.subtreeCapacityBytes(inner.Depth() - 1)
	desiredChildren := int((newSize + childCap - 1) / childCap)
	if desiredChildren == 0 {
		desiredChildren = 1
	}

	children := append([]blockstore.BlockId(nil), inner.children...)

	// The existing last child is about to gain siblings to its right, so it
	// must first be grown to full capacity: every leaf but the rightmost
	// one in the whole blob must be full.
	if len(children) > 0 && len(children) < desiredChildren {
		lastExisting, err := b.nodeStore.Load(children[len(children)-1])
		if err != nil {
			return err
		}
		if err := b.growRightmostPath(lastExisting, childCap); err != nil {
			return err
		}
	}

	for len(children) < desiredChildren-1 {
		id, err := b.createFullZeroSubtree(inner.Depth() - 1)
		if err != nil {
			return err
		}
		children = append(children, id)
	}

	lastSize := newSize - uint64(desiredChildren-1)*childCap
	if len(children) < desiredChildren {
		lastId, err := b.createZeroSubtreeOfSize(inner.Depth()-1, lastSize)
		if err != nil {
			return err
		}
		children = append(children, lastId)
	} else {
		lastChild, err := b.nodeStore.Load(children[desiredChildren-1])
		if err != nil {
			return err
		}
		if err := b.growRightmostPath(lastChild, lastSize); err != nil {
			return err
		}
	}

	inner.children = children
	return b.nodeStore.Save(inner)
}

// createFullZeroSubtree creates a brand-new, fully grown, zero-filled
// subtree of the given depth and returns its root id.
func (b *Blob) createFullZeroSubtree(depth byte) (blockstore.BlockId, error) {
	cap := b.nodeStore.subtreeCapacityBytes(depth)
	return b.createZeroSubtreeOfSize(depth, cap)
}

// createZeroSubtreeOfSize creates a brand-new zero-filled subtree of the
// given depth holding exactly size bytes (size must not exceed the
// subtree's capacity) and returns its root id.
func (b *Blob) createZeroSubtreeOfSize(depth byte, size uint64) (blockstore.BlockId, error) {
	if depth == 0 {
		leaf, err := b.nodeStore.CreateNewLeaf(make([]byte, size))
		if err != nil {
			return blockstore.BlockId{}, err
		}
		return leaf.BlockId(), nil
	}

	childCap := b.nodeStore.subtreeCapacityBytes(depth - 1)
	numChildren := int((size + childCap - 1) / childCap)
	if numChildren == 0 {
		numChildren = 1
	}
	children := make([]blockstore.BlockId, 0, numChildren)
	for i := 0; i < numChildren-1; i++ {
		id, err := b.createFullZeroSubtree(depth - 1)
		if err != nil {
			return blockstore.BlockId{}, err
		}
		children = append(children, id)
	}
	lastSize := size - uint64(numChildren-1)*childCap
	lastId, err := b.createZeroSubtreeOfSize(depth-1, lastSize)
	if err != nil {
		return blockstore.BlockId{}, err
	}
	children = append(children, lastId)

	inner, err := b.nodeStore.CreateNewInner(depth, children)
	if err != nil {
		return blockstore.BlockId{}, err
	}
	return inner.BlockId(), nil
}

// Resize grows or shrinks the blob to exactly newSize bytes.
func (b *Blob) Resize(newSize uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	root, err := b.nodeStore.Load(b.rootId)
	if err != nil {
		return err
	}
	size, err := b.sizeOf(root)
	if err != nil {
		return err
	}

	if newSize > size {
		return b.growTo(newSize)
	}
	if newSize == size {
		return nil
	}
	return b.shrinkTo(newSize)
}

// shrinkTo truncates the tree to newSize bytes, deleting any now-unreachable
// nodes and decreasing the tree's depth (while preserving the root id) if
// the new content fits in a single leaf.
func (b *Blob) shrinkTo(newSize uint64) error {
	root, err := b.nodeStore.Load(b.rootId)
	if err != nil {
		return err
	}

	if leaf, ok := root.(*DataLeafNode); ok {
		leaf.data = leaf.data[:newSize]
		return b.nodeStore.Save(leaf)
	}

	if newSize <= uint64(b.nodeStore.MaxBytesPerLeaf()) {
		data := make([]byte, newSize)
		if _, err := b.readFrom(root, 0, data); err != nil {
			return err
		}
		if err := b.deleteChildrenOf(root); err != nil {
			return err
		}
		_, err := b.nodeStore.OverwriteWithLeaf(b.rootId, data)
		return err
	}

	return b.shrinkSubtree(root, newSize)
}

// shrinkSubtree truncates node's subtree in place to newSize bytes,
// deleting any children that fall entirely after newSize.
func (b *Blob) shrinkSubtree(node Node, newSize uint64) error {
	inner := node.(*DataInnerNode)
	childCap := b.nodeStore.subtreeCapacityBytes(inner.Depth() - 1)
	keep := int((newSize + childCap - 1) / childCap)
	if keep == 0 {
		keep = 1
	}

	for i := keep; i < inner.NumChildren(); i++ {
		if err := b.deleteSubtree(inner.ChildAt(i)); err != nil {
			return err
		}
	}
	inner.children = inner.children[:keep]

	lastSize := newSize - uint64(keep-1)*childCap
	lastChild, err := b.nodeStore.Load(inner.ChildAt(keep - 1))
	if err != nil {
		return err
	}
	if leaf, ok := lastChild.(*DataLeafNode); ok {
		leaf.data = leaf.data[:lastSize]
		if err := b.nodeStore.Save(leaf); err != nil {
			return err
		}
	} else if err := b.shrinkSubtree(lastChild, lastSize); err != nil {
		return err
	}

	return b.nodeStore.Save(inner)
}

// Delete removes every block reachable from this blob, including the root.
func (b *Blob) Delete() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteSubtree(b.rootId)
}

func (b *Blob) deleteSubtree(id blockstore.BlockId) error {
	node, err := b.nodeStore.Load(id)
	if err != nil {
		return err
	}
	if err := b.deleteChildrenOf(node); err != nil {
		return err
	}
	return b.nodeStore.Remove(id)
}

// deleteChildrenOf removes every descendant of node without loading leaves:
// a full inner subtree's leaves are never fetched, only their block ids are
// known from the parent, so deletion walks inner nodes only.
func (b *Blob) deleteChildrenOf(node Node) error {
	inner, ok := node.(*DataInnerNode)
	if !ok {
		return nil
	}
	for _, childId := range inner.children {
		if inner.Depth() == 1 {
			if err := b.nodeStore.Remove(childId); err != nil {
				return err
			}
			continue
		}
		if err := b.deleteSubtree(childId); err != nil {
			return err
		}
	}
	return nil
}
