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
	"errors"
	"syscall"

	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/fsblobstore"
)

// jacobsa/fuse recognizes a syscall.Errno returned from a FileSystem method
// and translates it into the matching FUSE protocol error.
var (
	errNoSuchFile = syscall.ENOENT
	errExists     = syscall.EEXIST
	errNotDir     = syscall.ENOTDIR
	errIsDir      = syscall.EISDIR
	errNotEmpty   = syscall.ENOTEMPTY
	errInvalid    = syscall.EINVAL
)

// errnoFor translates the closed error taxonomies of the lower layers into
// the errno the kernel should see.
func errnoFor(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fsblobstore.ErrNotFound):
		return errNoSuchFile
	case errors.Is(err, fsblobstore.ErrAlreadyExists):
		return errExists
	case errors.Is(err, fsblobstore.ErrNotEmpty):
		return errNotEmpty
	case errors.Is(err, fsblobstore.ErrIsADirectory):
		return errIsDir
	case errors.Is(err, fsblobstore.ErrNotADirectory):
		return errNotDir
	}
	var blockErr *blockstore.Error
	if errors.As(err, &blockErr) && blockErr.Kind == blockstore.KindNotFound {
		return errNoSuchFile
	}
	return err
}
