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
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/cryfs-go/cryfs/blockstore"
)

// DirBlob owns a directory's entries in memory. Entries are serialized to
// disk in ascending child-block-id order: AddChild inserts each entry at its
// sorted position, and Flush re-encodes the whole list. Iteration for
// readdir purposes happens in name order via the byName index, which gives
// stable, predictable listings.
type DirBlob struct {
	fsBlob *FsBlob

	mu             sync.Mutex
	byBlockIdOrder []*DirEntry
	byName         map[string]*DirEntry
}

func newDirBlob(fsBlob *FsBlob) *DirBlob {
	return &DirBlob{fsBlob: fsBlob, byName: map[string]*DirEntry{}}
}

func loadDirBlobContent(fsBlob *FsBlob) (*DirBlob, error) {
	d := newDirBlob(fsBlob)
	size, err := fsBlob.contentSize()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return d, nil
	}
	buf := make([]byte, size)
	if _, err := fsBlob.readContent(0, buf); err != nil {
		return nil, err
	}
	for len(buf) > 0 {
		e, n, err := decodeEntry(buf)
		if err != nil {
			return nil, fmt.Errorf("parsing directory blob %s: %w", fsBlob.BlockId(), err)
		}
		d.byBlockIdOrder = append(d.byBlockIdOrder, e)
		d.byName[e.Name] = e
		buf = buf[n:]
	}
	return d, nil
}

// BlockId is this directory blob's id.
func (d *DirBlob) BlockId() blockstore.BlockId { return d.fsBlob.BlockId() }

// FsBlob exposes the underlying header (type, parent pointer).
func (d *DirBlob) FsBlob() *FsBlob { return d.fsBlob }

// ErrAlreadyExists is returned by AddChild when name is already present.
var ErrAlreadyExists = fmt.Errorf("entry already exists")

// ErrNotFound is returned when a named entry does not exist.
var ErrNotFound = fmt.Errorf("entry not found")

// AddChild inserts a new entry, keeping the disk-order slice sorted
// ascending by child block id. It fails with ErrAlreadyExists if name is
// already taken.
func (d *DirBlob) AddChild(entry *DirEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byName[entry.Name]; exists {
		return ErrAlreadyExists
	}
	idx := sort.Search(len(d.byBlockIdOrder), func(i int) bool {
		return bytes.Compare(d.byBlockIdOrder[i].ChildId[:], entry.ChildId[:]) >= 0
	})
	d.byBlockIdOrder = append(d.byBlockIdOrder, nil)
	copy(d.byBlockIdOrder[idx+1:], d.byBlockIdOrder[idx:])
	d.byBlockIdOrder[idx] = entry
	d.byName[entry.Name] = entry
	return nil
}

// GetChild looks up an entry by name.
func (d *DirBlob) GetChild(name string) (*DirEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byName[name]
	return e, ok
}

// RemoveChild deletes the named entry, returning it.
func (d *DirBlob) RemoveChild(name string) (*DirEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	d.removeLocked(e)
	return e, nil
}

func (d *DirBlob) removeLocked(e *DirEntry) {
	delete(d.byName, e.Name)
	for i, existing := range d.byBlockIdOrder {
		if existing == e {
			d.byBlockIdOrder = append(d.byBlockIdOrder[:i], d.byBlockIdOrder[i+1:]...)
			break
		}
	}
}

// Entries returns every entry in name order, the order readdir exposes.
func (d *DirBlob) Entries() []*DirEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*DirEntry, 0, len(d.byName))
	for _, e := range d.byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsEmpty reports whether the directory has no entries (rmdir precondition).
func (d *DirBlob) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byName) == 0
}

// RenameChild moves the entry currently stored under oldName to newName. If
// an entry already exists at newName, it must be type-compatible with the
// moved entry per POSIX rename rules (a directory may only overwrite an
// empty directory; files/symlinks may only overwrite files/symlinks) and
// onOverwritten is invoked with the evicted entry so the caller can delete
// its blob.
func (d *DirBlob) RenameChild(oldName, newName string, childIsEmptyDir func() (bool, error), onOverwritten func(*DirEntry) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	moved, ok := d.byName[oldName]
	if !ok {
		return ErrNotFound
	}
	if oldName == newName {
		return nil
	}

	if existing, ok := d.byName[newName]; ok {
		if err := checkRenameTypeCompatibility(moved, existing, childIsEmptyDir); err != nil {
			return err
		}
		d.removeLocked(existing)
		if onOverwritten != nil {
			d.mu.Unlock()
			err := onOverwritten(existing)
			d.mu.Lock()
			if err != nil {
				return err
			}
		}
	}

	delete(d.byName, oldName)
	moved.Name = newName
	d.byName[newName] = moved
	return nil
}

func checkRenameTypeCompatibility(moved, existing *DirEntry, existingIsEmptyDir func() (bool, error)) error {
	if existing.Type == TypeDir && moved.Type != TypeDir {
		return fmt.Errorf("rename: %w: cannot overwrite a directory with a non-directory", ErrIsADirectory)
	}
	if existing.Type != TypeDir && moved.Type == TypeDir {
		return fmt.Errorf("rename: %w: cannot overwrite a non-directory with a directory", ErrNotADirectory)
	}
	if existing.Type == TypeDir {
		empty, err := existingIsEmptyDir()
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("rename: %w", ErrNotEmpty)
		}
	}
	return nil
}

// Flush serializes every entry back into the underlying blob's content.
func (d *DirBlob) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf []byte
	for _, e := range d.byBlockIdOrder {
		buf = append(buf, e.encode()...)
	}
	if err := d.fsBlob.resizeContent(uint64(len(buf))); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	return d.fsBlob.writeContent(0, buf)
}
