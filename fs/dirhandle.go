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
	"sync"

	"github.com/cryfs-go/cryfs/fsblobstore"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// dirHandle buffers one consistent listing of a directory's entries, taken
// at OpenDir time, so that concurrent mutation of the directory doesn't
// shuffle a ReadDir call already in progress.
type dirHandle struct {
	Mu sync.Mutex

	entries []*fsblobstore.DirEntry
}

func newDirHandle(entries []*fsblobstore.DirEntry) *dirHandle {
	return &dirHandle{entries: entries}
}

func direntType(t fsblobstore.BlobType) fuseutil.DirentType {
	switch t {
	case fsblobstore.TypeDir:
		return fuseutil.DT_Directory
	case fsblobstore.TypeSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

// ReadDir serves op from the buffered listing, honoring op.Offset as an
// index into entries (valid offsets are exactly 0..len(entries)).
func (dh *dirHandle) ReadDir(op *fuseops.ReadDirOp) error {
	dh.Mu.Lock()
	defer dh.Mu.Unlock()

	i := int(op.Offset)
	if i < 0 || i > len(dh.entries) {
		return errInvalid
	}

	for ; i < len(dh.entries); i++ {
		e := dh.entries[i]
		d := fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.RootInodeID, // readdir inode hints are not load-bearing; real ids come from LookUpInode
			Name:   e.Name,
			Type:   direntType(e.Type),
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}
