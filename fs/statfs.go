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
	"github.com/jacobsa/fuse/fuseops"
)

// StatFSSource supplies the block counts behind the statfs(2)/fstatfs(2)
// surface. A Device gets one through WithStatFS; a Device without one (e.g.
// in unit tests that only exercise inode ops) fails StatFS with EINVAL.
type StatFSSource interface {
	NumBlocks() (int, error)
	EstimateNumFreeBytes() (uint64, error)
}

func (d *Device) StatFS(op *fuseops.StatFSOp) error {
	if d.statfs == nil {
		return errInvalid
	}
	free, err := d.statfs.EstimateNumFreeBytes()
	if err != nil {
		return err
	}
	used, err := d.statfs.NumBlocks()
	if err != nil {
		return err
	}

	const blockSize = 32 * 1024
	freeBlocks := free / blockSize
	op.BlockSize = blockSize
	op.Blocks = uint64(used) + freeBlocks
	op.BlocksFree = freeBlocks
	op.BlocksAvailable = freeBlocks
	op.IoSize = blockSize
	op.Inodes = 1 << 32
	op.InodesFree = op.Inodes - uint64(used)
	return nil
}
