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
	"github.com/cryfs-go/cryfs/fsblobstore"
	"github.com/jacobsa/fuse/fuseops"
)

// openFile is the state kept for one open file handle.
type openFile struct {
	node *node
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) OpenFile(op *fuseops.OpenFileOp) error {
	n := d.findNode(op.Inode)
	if n == nil {
		return errNoSuchFile
	}
	if n.blobType != fsblobstore.TypeFile {
		return errIsDir
	}
	op.Handle = d.newHandle(&openFile{node: n})
	op.KeepPageCache = false
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) ReadFile(op *fuseops.ReadFileOp) error {
	h, _ := d.handle(op.Handle).(*openFile)
	if h == nil {
		return errInvalid
	}
	n := h.node

	lock := d.lockFor(n.id)
	lock.Lock()
	f, err := d.blobs.LoadFileBlob(n.id)
	if err != nil {
		lock.Unlock()
		return err
	}
	read, err := f.ReadAt(uint64(op.Offset), op.Dst)
	lock.Unlock()
	if err != nil {
		return err
	}
	op.BytesRead = read
	d.touchAtime(n)
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) WriteFile(op *fuseops.WriteFileOp) error {
	h, _ := d.handle(op.Handle).(*openFile)
	if h == nil {
		return errInvalid
	}
	n := h.node

	lock := d.lockFor(n.id)
	lock.Lock()
	f, err := d.blobs.LoadFileBlob(n.id)
	if err != nil {
		lock.Unlock()
		return err
	}
	err = f.WriteAt(uint64(op.Offset), op.Data)
	lock.Unlock()
	if err != nil {
		return err
	}

	now := d.clock.Now()
	return d.mutateMeta(n, func(e *fsblobstore.DirEntry) { e.Mtime = now; e.Ctime = now })
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	n := d.findNode(op.Inode)
	if n == nil {
		return errNoSuchFile
	}
	if n.blobType != fsblobstore.TypeSymlink {
		return errInvalid
	}
	lock := d.lockFor(n.id)
	lock.Lock()
	l, err := d.blobs.LoadSymlinkBlob(n.id)
	lock.Unlock()
	if err != nil {
		return err
	}
	op.Target = l.Target()
	return nil
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) SyncFile(op *fuseops.SyncFileOp) error {
	n := d.findNode(op.Inode)
	if n == nil {
		return errNoSuchFile
	}
	return d.blobs.Flush()
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) FlushFile(op *fuseops.FlushFileOp) error {
	return d.blobs.Flush()
}

// LOCKS_EXCLUDED(d.mu)
func (d *Device) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	d.releaseHandle(op.Handle)
	return nil
}
