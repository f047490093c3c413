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

package fs

import (
	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/fsblobstore"
	"github.com/jacobsa/fuse/fuseops"
)

// newEntry builds the DirEntry a freshly created child gets, stamped with
// the mount's default ownership and the current time.
func (d *Device) newEntry(name string, typ fsblobstore.BlobType, mode uint32, childId blockstore.BlockId) *fsblobstore.DirEntry {
	now := d.clock.Now()
	return &fsblobstore.DirEntry{
		Type: typ, Mode: mode, Uid: d.cfg.Uid, Gid: d.cfg.Gid,
		Atime: now, Mtime: now, Ctime: now,
		Name: name, ChildId: childId,
	}
}

// createChild is the common body of MkDir/CreateFile/CreateSymlink: create
// the child blob, link it into the parent directory, and mint its inode.
func (d *Device) createChild(parent *node, name string, typ fsblobstore.BlobType, mode uint32, create func(parentId blockstore.BlockId) (blockstore.BlockId, error)) (*node, error) {
	parentLock := d.lockFor(parent.id)
	parentLock.Lock()
	defer parentLock.Unlock()

	dir, err := d.loadDir(parent)
	if err != nil {
		return nil, err
	}
	if _, ok := dir.GetChild(name); ok {
		return nil, errExists
	}

	childId, err := create(parent.id)
	if err != nil {
		return nil, errnoFor(err)
	}

	entry := d.newEntry(name, typ, mode, childId)
	if err := dir.AddChild(entry); err != nil {
		return nil, errnoFor(err)
	}
	if err := dir.Flush(); err != nil {
		return nil, err
	}

	return d.mintInode(childId, typ, entry), nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) MkDir(op *fuseops.MkDirOp) error {
	parent := d.findNode(op.Parent)
	if parent == nil {
		return errNoSuchFile
	}
	child, err := d.createChild(parent, op.Name, fsblobstore.TypeDir, uint32(op.Mode), func(parentId blockstore.BlockId) (blockstore.BlockId, error) {
		b, err := d.blobs.CreateDirBlob(parentId)
		if err != nil {
			return blockstore.BlockId{}, err
		}
		return b.BlockId(), nil
	})
	if err != nil {
		return err
	}
	attrs, err := d.attributesOf(child)
	if err != nil {
		return err
	}
	op.Entry.Child = child.inodeID
	op.Entry.Attributes = attrs
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) CreateFile(op *fuseops.CreateFileOp) error {
	parent := d.findNode(op.Parent)
	if parent == nil {
		return errNoSuchFile
	}
	child, err := d.createChild(parent, op.Name, fsblobstore.TypeFile, uint32(op.Mode), func(parentId blockstore.BlockId) (blockstore.BlockId, error) {
		b, err := d.blobs.CreateFileBlob(parentId)
		if err != nil {
			return blockstore.BlockId{}, err
		}
		return b.BlockId(), nil
	})
	if err != nil {
		return err
	}
	attrs, err := d.attributesOf(child)
	if err != nil {
		return err
	}
	op.Entry.Child = child.inodeID
	op.Entry.Attributes = attrs
	op.Handle = d.newHandle(&openFile{node: child})
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	parent := d.findNode(op.Parent)
	if parent == nil {
		return errNoSuchFile
	}
	child, err := d.createChild(parent, op.Name, fsblobstore.TypeSymlink, 0777, func(parentId blockstore.BlockId) (blockstore.BlockId, error) {
		b, err := d.blobs.CreateSymlinkBlob(parentId, op.Target)
		if err != nil {
			return blockstore.BlockId{}, err
		}
		return b.BlockId(), nil
	})
	if err != nil {
		return err
	}
	attrs, err := d.attributesOf(child)
	if err != nil {
		return err
	}
	op.Entry.Child = child.inodeID
	op.Entry.Attributes = attrs
	return nil
}

// removeChild is the common body of RmDir/Unlink.
func (d *Device) removeChild(parentId blockstore.BlockId, name string, wantType fsblobstore.BlobType) error {
	parentLock := d.lockFor(parentId)
	parentLock.Lock()
	defer parentLock.Unlock()

	dir, err := d.blobs.LoadDirBlob(parentId)
	if err != nil {
		return err
	}
	entry, ok := dir.GetChild(name)
	if !ok {
		return errNoSuchFile
	}
	if entry.Type != wantType {
		if wantType == fsblobstore.TypeDir {
			return errNotDir
		}
		return errIsDir
	}

	if wantType == fsblobstore.TypeDir {
		childLock := d.lockFor(entry.ChildId)
		childLock.Lock()
		child, err := d.blobs.LoadDirBlob(entry.ChildId)
		childLock.Unlock()
		if err != nil {
			return err
		}
		if !child.IsEmpty() {
			return errNotEmpty
		}
	}

	if _, err := dir.RemoveChild(name); err != nil {
		return errnoFor(err)
	}
	if err := dir.Flush(); err != nil {
		return err
	}
	return d.blobs.Remove(entry.ChildId)
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) RmDir(op *fuseops.RmDirOp) error {
	parent := d.findNode(op.Parent)
	if parent == nil {
		return errNoSuchFile
	}
	return d.removeChild(parent.id, op.Name, fsblobstore.TypeDir)
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) Unlink(op *fuseops.UnlinkOp) error {
	parent := d.findNode(op.Parent)
	if parent == nil {
		return errNoSuchFile
	}
	return d.removeChild(parent.id, op.Name, fsblobstore.TypeFile)
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) Rename(op *fuseops.RenameOp) error {
	oldParent := d.findNode(op.OldParent)
	newParent := d.findNode(op.NewParent)
	if oldParent == nil || newParent == nil {
		return errNoSuchFile
	}

	if oldParent.id == newParent.id {
		lock := d.lockFor(oldParent.id)
		lock.Lock()
		defer lock.Unlock()

		dir, err := d.blobs.LoadDirBlob(oldParent.id)
		if err != nil {
			return err
		}
		if err := d.renameWithin(dir, op.OldName, op.NewName); err != nil {
			return err
		}
		return dir.Flush()
	}

	// Cross-directory rename: lock in a fixed order (by block id bytes) to
	// avoid deadlocking against a concurrent rename the other way.
	first, second := oldParent.id, newParent.id
	swap := false
	for i := range first {
		if first[i] > second[i] {
			swap = true
			break
		} else if first[i] < second[i] {
			break
		}
	}
	if swap {
		first, second = second, first
	}
	l1, l2 := d.lockFor(first), d.lockFor(second)
	l1.Lock()
	defer l1.Unlock()
	l2.Lock()
	defer l2.Unlock()

	srcDir, err := d.blobs.LoadDirBlob(oldParent.id)
	if err != nil {
		return err
	}
	dstDir, err := d.blobs.LoadDirBlob(newParent.id)
	if err != nil {
		return err
	}

	entry, ok := srcDir.GetChild(op.OldName)
	if !ok {
		return errNoSuchFile
	}
	if existing, ok := dstDir.GetChild(op.NewName); ok {
		if existing.Type == fsblobstore.TypeDir {
			return errIsDir
		}
		if entry.Type == fsblobstore.TypeDir {
			return errNotDir
		}
		if _, err := dstDir.RemoveChild(op.NewName); err != nil {
			return errnoFor(err)
		}
		if err := d.blobs.Remove(existing.ChildId); err != nil {
			return err
		}
	}
	if _, err := srcDir.RemoveChild(op.OldName); err != nil {
		return errnoFor(err)
	}
	moved := *entry
	moved.Name = op.NewName
	if err := dstDir.AddChild(&moved); err != nil {
		return errnoFor(err)
	}

	if err := srcDir.Flush(); err != nil {
		return err
	}
	if err := dstDir.Flush(); err != nil {
		return err
	}
	return d.updateParentPointer(moved.ChildId, newParent.id)
}

func (d *Device) renameWithin(dir *fsblobstore.DirBlob, oldName, newName string) error {
	// Looked up before RenameChild: the callback runs while RenameChild
	// holds the DirBlob's mutex, so it must not call back into dir.
	existing, hasExisting := dir.GetChild(newName)
	err := dir.RenameChild(oldName, newName, func() (bool, error) {
		if !hasExisting {
			return true, nil
		}
		child, err := d.blobs.LoadDirBlob(existing.ChildId)
		if err != nil {
			return false, err
		}
		return child.IsEmpty(), nil
	}, func(overwritten *fsblobstore.DirEntry) error {
		return d.blobs.Remove(overwritten.ChildId)
	})
	return errnoFor(err)
}

// updateParentPointer rewrites childId's fs-header to point at its new
// containing directory, keeping CheckParentPointer's invariant intact after
// a cross-directory rename.
func (d *Device) updateParentPointer(childId, newParentId blockstore.BlockId) error {
	typ, err := d.blobs.LoadType(childId)
	if err != nil {
		return err
	}
	switch typ {
	case fsblobstore.TypeDir:
		b, err := d.blobs.LoadDirBlob(childId)
		if err != nil {
			return err
		}
		return b.FsBlob().SetParentBlockId(newParentId)
	case fsblobstore.TypeFile:
		b, err := d.blobs.LoadFileBlob(childId)
		if err != nil {
			return err
		}
		return b.FsBlob().SetParentBlockId(newParentId)
	default:
		b, err := d.blobs.LoadSymlinkBlob(childId)
		if err != nil {
			return err
		}
		return b.FsBlob().SetParentBlockId(newParentId)
	}
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) OpenDir(op *fuseops.OpenDirOp) error {
	n := d.findNode(op.Inode)
	if n == nil {
		return errNoSuchFile
	}
	lock := d.lockFor(n.id)
	lock.Lock()
	dir, err := d.loadDir(n)
	lock.Unlock()
	if err != nil {
		return err
	}
	op.Handle = d.newHandle(newDirHandle(dir.Entries()))
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) ReadDir(op *fuseops.ReadDirOp) error {
	h, _ := d.handle(op.Handle).(*dirHandle)
	if h == nil {
		return errInvalid
	}
	return h.ReadDir(op)
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	d.releaseHandle(op.Handle)
	return nil
}
