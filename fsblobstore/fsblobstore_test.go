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

package fsblobstore

import (
	"testing"
	"time"

	"github.com/cryfs-go/cryfs/blobstore"
	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/blockstore/ondisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FsBlobStore {
	t.Helper()
	base := ondisk.New(t.TempDir())
	blobs, err := blobstore.NewBlobStore(base, 512)
	require.NoError(t, err)
	return NewFsBlobStore(blobs)
}

func newEntry(name string, typ BlobType, childId blockstore.BlockId) *DirEntry {
	now := time.Now()
	return &DirEntry{Type: typ, Mode: 0644, Uid: 1000, Gid: 1000, Atime: now, Mtime: now, Ctime: now, Name: name, ChildId: childId}
}

func TestDirBlob_AddGetRemoveChild(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.CreateRootDirBlob()
	require.NoError(t, err)
	childId := blockstore.NewBlockId()

	require.NoError(t, dir.AddChild(newEntry("a.txt", TypeFile, childId)))

	e, ok := dir.GetChild("a.txt")
	require.True(t, ok)
	assert.Equal(t, childId, e.ChildId)

	removed, err := dir.RemoveChild("a.txt")
	require.NoError(t, err)
	assert.Equal(t, childId, removed.ChildId)
	_, ok = dir.GetChild("a.txt")
	assert.False(t, ok)
}

func TestDirBlob_AddDuplicateNameFails(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.CreateRootDirBlob()
	require.NoError(t, err)
	require.NoError(t, dir.AddChild(newEntry("a.txt", TypeFile, blockstore.NewBlockId())))

	err = dir.AddChild(newEntry("a.txt", TypeFile, blockstore.NewBlockId()))

	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDirBlob_FlushAndReloadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.CreateRootDirBlob()
	require.NoError(t, err)
	idA, idB := blockstore.NewBlockId(), blockstore.NewBlockId()
	require.NoError(t, dir.AddChild(newEntry("b.txt", TypeFile, idB)))
	require.NoError(t, dir.AddChild(newEntry("a.txt", TypeFile, idA)))
	require.NoError(t, dir.Flush())

	reloaded, err := s.LoadDirBlob(dir.BlockId())
	require.NoError(t, err)

	names := make([]string, 0)
	for _, e := range reloaded.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a.txt", "b.txt"}, names, "readdir order is name order")
}

func TestDirBlob_RenameChildOverwritesCompatibleFile(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.CreateRootDirBlob()
	require.NoError(t, err)
	srcId, dstId := blockstore.NewBlockId(), blockstore.NewBlockId()
	require.NoError(t, dir.AddChild(newEntry("src.txt", TypeFile, srcId)))
	require.NoError(t, dir.AddChild(newEntry("dst.txt", TypeFile, dstId)))

	var overwrittenId blockstore.BlockId
	err = dir.RenameChild("src.txt", "dst.txt", nil, func(overwritten *DirEntry) error {
		overwrittenId = overwritten.ChildId
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, dstId, overwrittenId)
	e, ok := dir.GetChild("dst.txt")
	require.True(t, ok)
	assert.Equal(t, srcId, e.ChildId)
	_, ok = dir.GetChild("src.txt")
	assert.False(t, ok)
}

func TestDirBlob_RenameChildDirOntoNonEmptyDirFails(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.CreateRootDirBlob()
	require.NoError(t, err)
	require.NoError(t, dir.AddChild(newEntry("src", TypeDir, blockstore.NewBlockId())))
	require.NoError(t, dir.AddChild(newEntry("dst", TypeDir, blockstore.NewBlockId())))

	err = dir.RenameChild("src", "dst", func() (bool, error) { return false, nil }, nil)

	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestDirBlob_RenameFileOntoDirFails(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.CreateRootDirBlob()
	require.NoError(t, err)
	require.NoError(t, dir.AddChild(newEntry("src.txt", TypeFile, blockstore.NewBlockId())))
	require.NoError(t, dir.AddChild(newEntry("dst", TypeDir, blockstore.NewBlockId())))

	err = dir.RenameChild("src.txt", "dst", func() (bool, error) { return true, nil }, nil)

	assert.ErrorIs(t, err, ErrIsADirectory)
}

func TestFileBlob_WriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	file, err := s.CreateFileBlob(blockstore.NewBlockId())
	require.NoError(t, err)

	require.NoError(t, file.WriteAt(0, []byte("hello file")))
	size, err := file.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(len("hello file")), size)

	out := make([]byte, len("hello file"))
	_, err = file.ReadAt(0, out)
	require.NoError(t, err)
	assert.Equal(t, "hello file", string(out))

	reloaded, err := s.LoadFileBlob(file.BlockId())
	require.NoError(t, err)
	size, err = reloaded.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(len("hello file")), size)
}

func TestSymlinkBlob_TargetCachedAndReloadable(t *testing.T) {
	s := newTestStore(t)
	link, err := s.CreateSymlinkBlob(blockstore.NewBlockId(), "/etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "/etc/passwd", link.Target())

	reloaded, err := s.LoadSymlinkBlob(link.BlockId())
	require.NoError(t, err)
	assert.Equal(t, "/etc/passwd", reloaded.Target())
}

func TestCheckParentPointer_DetectsMissingEntry(t *testing.T) {
	s := newTestStore(t)
	parent, err := s.CreateRootDirBlob()
	require.NoError(t, err)
	require.NoError(t, parent.Flush())

	child, err := s.CreateFileBlob(parent.BlockId())
	require.NoError(t, err)

	err = child.FsBlob().CheckParentPointer(s)
	assert.Error(t, err, "the parent dir has no entry for child yet, so the check must fail")

	require.NoError(t, parent.AddChild(newEntry("child", TypeFile, child.BlockId())))
	require.NoError(t, parent.Flush())

	assert.NoError(t, child.FsBlob().CheckParentPointer(s))
}
