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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cryfs-go/cryfs/blockstore"
)

// timestampSize is 8 bytes of Unix seconds + 4 bytes of nanoseconds.
const timestampSize = 12

// entryFixedSize is every field of a DirEntry's on-disk form except the
// NUL-terminated name: type:1 | mode:4 | uid:4 | gid:4 | atime:12 | mtime:12
// | ctime:12 | child_block_id:16.
const entryFixedSize = 1 + 4 + 4 + 4 + timestampSize*3 + blockstore.BlockIdSize

// DirEntry is one entry of a directory blob: the name and metadata of a
// child, plus the child blob's own block id.
type DirEntry struct {
	Type    BlobType
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Name    string
	ChildId blockstore.BlockId
}

func putTimestamp(buf []byte, t time.Time) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(t.Unix()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(t.Nanosecond()))
}

func getTimestamp(buf []byte) time.Time {
	sec := int64(binary.BigEndian.Uint64(buf[0:8]))
	nsec := int64(binary.BigEndian.Uint32(buf[8:12]))
	return time.Unix(sec, nsec).UTC()
}

func (e *DirEntry) encode() []byte {
	out := make([]byte, entryFixedSize, entryFixedSize+len(e.Name)+1)
	out[0] = byte(e.Type)
	binary.BigEndian.PutUint32(out[1:5], e.Mode)
	binary.BigEndian.PutUint32(out[5:9], e.Uid)
	binary.BigEndian.PutUint32(out[9:13], e.Gid)
	putTimestamp(out[13:25], e.Atime)
	putTimestamp(out[25:37], e.Mtime)
	putTimestamp(out[37:49], e.Ctime)
	copy(out[49:49+blockstore.BlockIdSize], e.ChildId[:])
	out = append(out, []byte(e.Name)...)
	out = append(out, 0)
	return out
}

// decodeEntry parses one entry starting at buf[0], returning it along with
// the number of bytes consumed.
func decodeEntry(buf []byte) (*DirEntry, int, error) {
	if len(buf) < entryFixedSize {
		return nil, 0, fmt.Errorf("truncated directory entry header")
	}
	e := &DirEntry{
		Type:  BlobType(buf[0]),
		Mode:  binary.BigEndian.Uint32(buf[1:5]),
		Uid:   binary.BigEndian.Uint32(buf[5:9]),
		Gid:   binary.BigEndian.Uint32(buf[9:13]),
		Atime: getTimestamp(buf[13:25]),
		Mtime: getTimestamp(buf[25:37]),
		Ctime: getTimestamp(buf[37:49]),
	}
	copy(e.ChildId[:], buf[49:49+blockstore.BlockIdSize])

	rest := buf[entryFixedSize:]
	nulAt := bytes.IndexByte(rest, 0)
	if nulAt < 0 {
		return nil, 0, fmt.Errorf("directory entry name is not NUL-terminated")
	}
	e.Name = string(rest[:nulAt])
	return e, entryFixedSize + nulAt + 1, nil
}
