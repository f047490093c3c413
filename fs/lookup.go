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
	"fmt"

	"github.com/cryfs-go/cryfs/fsblobstore"
	"github.com/jacobsa/fuse/fuseops"
)

func (d *Device) Init(op *fuseops.InitOp) error {
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) LookUpInode(op *fuseops.LookUpInodeOp) error {
	parent := d.findNode(op.Parent)
	if parent == nil {
		return errNoSuchFile
	}

	dir, err := d.loadDir(parent)
	if err != nil {
		return err
	}
	entry, ok := dir.GetChild(op.Name)
	if !ok {
		return errNoSuchFile
	}

	child := d.mintInode(entry.ChildId, entry.Type, entry)
	attrs, err := d.attributesOf(child)
	if err != nil {
		return err
	}

	op.Entry.Child = child.inodeID
	op.Entry.Attributes = attrs
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	n := d.findNode(op.Inode)
	if n == nil {
		return errNoSuchFile
	}
	attrs, err := d.attributesOf(n)
	if err != nil {
		return err
	}
	op.Attributes = attrs
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	n := d.findNode(op.Inode)
	if n == nil {
		return errNoSuchFile
	}

	lock := d.lockFor(n.id)
	lock.Lock()
	defer lock.Unlock()

	if op.Size != nil {
		if n.blobType != fsblobstore.TypeFile {
			return errInvalid
		}
		f, err := d.blobs.LoadFileBlob(n.id)
		if err != nil {
			return err
		}
		if err := f.Truncate(*op.Size); err != nil {
			return err
		}
	}

	if op.Mode != nil || op.Uid != nil || op.Gid != nil || op.Atime != nil || op.Mtime != nil {
		err := d.mutateMeta(n, func(e *fsblobstore.DirEntry) {
			if op.Mode != nil {
				e.Mode = uint32(*op.Mode)
			}
			if op.Uid != nil {
				e.Uid = *op.Uid
			}
			if op.Gid != nil {
				e.Gid = *op.Gid
			}
			if op.Atime != nil {
				e.Atime = *op.Atime
			}
			if op.Mtime != nil {
				e.Mtime = *op.Mtime
			}
			e.Ctime = d.clock.Now()
		})
		if err != nil {
			return err
		}
	}

	attrs, err := d.attributesOf(n)
	if err != nil {
		return err
	}
	op.Attributes = attrs
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) ForgetInode(op *fuseops.ForgetInodeOp) error {
	d.forget(op.Inode, op.N)
	return nil
}

// loadDir loads the DirBlob backing n, which must be a directory node.
func (d *Device) loadDir(n *node) (*fsblobstore.DirBlob, error) {
	if n.blobType != fsblobstore.TypeDir {
		return nil, fmt.Errorf("inode %d is not a directory", n.inodeID)
	}
	return d.blobs.LoadDirBlob(n.id)
}
