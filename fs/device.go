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

// Package fs adapts the filesystem-blob layer to jacobsa/fuse's
// fuseops.FileSystem interface. A Device holds the inode table and the
// per-blob lock pool; each live inode is backed by a fsblobstore blob
// identified by its stable blockstore.BlockId.
package fs

import (
	"os"
	"sync"
	"time"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/clock"
	"github.com/cryfs-go/cryfs/fsblobstore"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// DirLstatSize is the fixed size CryFS reports for directories in stat,
// rather than tracking an exact byte count for directory content.
const DirLstatSize = 4096

// AtimePolicy controls when reads update a file's access time.
type AtimePolicy int

const (
	// AtimeRelatime updates atime only when it is older than mtime/ctime, or
	// older than a day. This is the Linux default and CryFS's default.
	AtimeRelatime AtimePolicy = iota
	// AtimeStrict updates atime on every read.
	AtimeStrict
	// AtimeNone never updates atime on read.
	AtimeNone
)

// Config carries the mount-time parameters a Device needs beyond the blob
// store itself.
type Config struct {
	RootBlockId blockstore.BlockId
	Uid         uint32
	Gid         uint32
	RootMode    os.FileMode
	AtimePolicy AtimePolicy
}

// node is the in-memory state for one live inode. meta is nil for the
// filesystem root, which has no parent directory entry of its own.
type node struct {
	id          blockstore.BlockId
	inodeID     fuseops.InodeID
	blobType    fsblobstore.BlobType
	lookupCount uint64
	meta        *fsblobstore.DirEntry
}

// Device implements fuseops.FileSystem on top of a fsblobstore.FsBlobStore.
// Everything not overridden below falls back to
// fuseutil.NotImplementedFileSystem's ENOSYS behavior.
type Device struct {
	fuseutil.NotImplementedFileSystem

	blobs  *fsblobstore.FsBlobStore
	clock  clock.Clock
	cfg    Config
	rootAt time.Time
	statfs StatFSSource

	mu           sync.Mutex
	nodes        map[fuseops.InodeID]*node
	byBlockId    map[blockstore.BlockId]fuseops.InodeID
	nextInodeID  fuseops.InodeID
	handles      map[fuseops.HandleID]interface{}
	nextHandleID fuseops.HandleID
	blockLocks   map[blockstore.BlockId]*sync.Mutex
}

// NewDevice constructs a Device rooted at cfg.RootBlockId. The root
// directory blob must already exist in blobs.
func NewDevice(blobs *fsblobstore.FsBlobStore, clk clock.Clock, cfg Config) *Device {
	d := &Device{
		blobs:       blobs,
		clock:       clk,
		cfg:         cfg,
		rootAt:      clk.Now(),
		nodes:       map[fuseops.InodeID]*node{},
		byBlockId:   map[blockstore.BlockId]fuseops.InodeID{},
		nextInodeID: fuseops.RootInodeID + 1,
		handles:     map[fuseops.HandleID]interface{}{},
		blockLocks:  map[blockstore.BlockId]*sync.Mutex{},
	}
	root := &node{
		id:          cfg.RootBlockId,
		inodeID:     fuseops.RootInodeID,
		blobType:    fsblobstore.TypeDir,
		lookupCount: 1,
	}
	d.nodes[fuseops.RootInodeID] = root
	d.byBlockId[cfg.RootBlockId] = fuseops.RootInodeID
	return d
}

// WithStatFS wires a capacity/usage source for the statfs(2) surface. It
// returns d for chaining at construction time.
func (d *Device) WithStatFS(src StatFSSource) *Device {
	d.statfs = src
	return d
}

// lockFor returns the mutex guarding all mutation of the blob identified by
// id, creating it on first use. The pool is never shrunk; one mutex per
// block id seen during the mount's lifetime is an acceptable amount of
// bookkeeping.
func (d *Device) lockFor(id blockstore.BlockId) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.blockLocks[id]
	if !ok {
		m = &sync.Mutex{}
		d.blockLocks[id] = m
	}
	return m
}

// findNode returns the node for inode, or nil if the kernel has an id we
// don't know about (a bug on one side or the other).
func (d *Device) findNode(inode fuseops.InodeID) *node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nodes[inode]
}

// mintInode allocates a fresh, or reuses an existing, inode for blockId,
// incrementing its lookup count. entry is nil for the root.
func (d *Device) mintInode(blockId blockstore.BlockId, blobType fsblobstore.BlobType, entry *fsblobstore.DirEntry) *node {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.byBlockId[blockId]; ok {
		n := d.nodes[id]
		n.lookupCount++
		if entry != nil {
			n.meta = entry
		}
		return n
	}

	id := d.nextInodeID
	d.nextInodeID++
	n := &node{id: blockId, inodeID: id, blobType: blobType, lookupCount: 1, meta: entry}
	d.nodes[id] = n
	d.byBlockId[blockId] = id
	return n
}

// forget decrements n's lookup count by n_, disposing of the inode's
// bookkeeping once it reaches zero. The backing blob and its on-disk data
// are untouched; disposal only drops in-memory state.
func (d *Device) forget(inodeID fuseops.InodeID, n_ uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[inodeID]
	if !ok {
		return
	}
	if n_ >= n.lookupCount {
		delete(d.nodes, inodeID)
		delete(d.byBlockId, n.id)
		return
	}
	n.lookupCount -= n_
}

// newHandle allocates a fresh handle id and stores obj under it.
func (d *Device) newHandle(obj interface{}) fuseops.HandleID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextHandleID
	d.nextHandleID++
	d.handles[id] = obj
	return id
}

func (d *Device) handle(id fuseops.HandleID) interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[id]
}

func (d *Device) releaseHandle(id fuseops.HandleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handles, id)
}
