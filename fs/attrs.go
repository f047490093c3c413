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
	"os"
	"time"

	"github.com/cryfs-go/cryfs/fsblobstore"
	"github.com/jacobsa/fuse/fuseops"
)

// sizeOf loads just enough of n's content blob to report its current size.
// Directory size is a constant; POSIX does not require it to reflect the
// number of entries.
func (d *Device) sizeOf(n *node) (uint64, error) {
	switch n.blobType {
	case fsblobstore.TypeDir:
		return DirLstatSize, nil
	case fsblobstore.TypeFile:
		f, err := d.blobs.LoadFileBlob(n.id)
		if err != nil {
			return 0, err
		}
		return f.Size()
	case fsblobstore.TypeSymlink:
		l, err := d.blobs.LoadSymlinkBlob(n.id)
		if err != nil {
			return 0, err
		}
		return uint64(len(l.Target())), nil
	default:
		return 0, nil
	}
}

// attributesOf builds the InodeAttributes the kernel expects for n, mixing
// the POSIX metadata cached from the owning directory's entry (or synthetic
// values for the root) with a freshly computed size.
func (d *Device) attributesOf(n *node) (fuseops.InodeAttributes, error) {
	size, err := d.sizeOf(n)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}

	nlink := uint32(1)
	if n.blobType == fsblobstore.TypeDir {
		nlink = 2
	}

	if n.meta == nil {
		// Root: no parent entry carries its metadata.
		return fuseops.InodeAttributes{
			Size:  size,
			Nlink: nlink,
			Mode:  d.cfg.RootMode | os.ModeDir,
			Uid:   d.cfg.Uid,
			Gid:   d.cfg.Gid,
			Atime: d.rootAt,
			Mtime: d.rootAt,
			Ctime: d.rootAt,
		}, nil
	}

	mode := os.FileMode(n.meta.Mode)
	switch n.blobType {
	case fsblobstore.TypeDir:
		mode |= os.ModeDir
	case fsblobstore.TypeSymlink:
		mode |= os.ModeSymlink
	}

	return fuseops.InodeAttributes{
		Size:  size,
		Nlink: nlink,
		Mode:  mode,
		Uid:   n.meta.Uid,
		Gid:   n.meta.Gid,
		Atime: n.meta.Atime,
		Mtime: n.meta.Mtime,
		Ctime: n.meta.Ctime,
	}, nil
}

// mutateMeta loads n's owning directory (n's FsBlob header parent pointer),
// finds n's entry by name, applies mutate to it, flushes the directory, and
// refreshes n.meta to match. It is a no-op for the root, which has no entry.
func (d *Device) mutateMeta(n *node, mutate func(*fsblobstore.DirEntry)) error {
	if n.meta == nil {
		return nil
	}
	fsBlob, err := d.fsBlobOf(n)
	if err != nil {
		return err
	}
	parentId := fsBlob.ParentBlockId()

	parentLock := d.lockFor(parentId)
	parentLock.Lock()
	defer parentLock.Unlock()

	parent, err := d.blobs.LoadDirBlob(parentId)
	if err != nil {
		return err
	}
	entry, ok := parent.GetChild(n.meta.Name)
	if !ok {
		return errNoSuchFile
	}
	mutate(entry)
	if err := parent.Flush(); err != nil {
		return err
	}
	n.meta = entry
	return nil
}

// touchAtime applies the mount's access-time policy to a read of n.
func (d *Device) touchAtime(n *node) {
	if d.cfg.AtimePolicy == AtimeNone || n.meta == nil {
		return
	}
	now := d.clock.Now()
	if d.cfg.AtimePolicy == AtimeRelatime {
		if now.Sub(n.meta.Atime) < 24*time.Hour && !n.meta.Atime.Before(n.meta.Mtime) && !n.meta.Atime.Before(n.meta.Ctime) {
			return
		}
	}
	_ = d.mutateMeta(n, func(e *fsblobstore.DirEntry) { e.Atime = now })
}

// fsBlobOf returns the shared FsBlob header (type, parent pointer) for n,
// regardless of which concrete blob type it is.
func (d *Device) fsBlobOf(n *node) (*fsblobstore.FsBlob, error) {
	switch n.blobType {
	case fsblobstore.TypeDir:
		b, err := d.blobs.LoadDirBlob(n.id)
		if err != nil {
			return nil, err
		}
		return b.FsBlob(), nil
	case fsblobstore.TypeFile:
		b, err := d.blobs.LoadFileBlob(n.id)
		if err != nil {
			return nil, err
		}
		return b.FsBlob(), nil
	default:
		b, err := d.blobs.LoadSymlinkBlob(n.id)
		if err != nil {
			return nil, err
		}
		return b.FsBlob(), nil
	}
}
