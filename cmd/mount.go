// Copyright 2024 Google LLC
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

package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryfs-go/cryfs/blobstore"
	"github.com/cryfs-go/cryfs/blockstore"
	"github.com/cryfs-go/cryfs/blockstore/caching"
	"github.com/cryfs-go/cryfs/blockstore/encrypted"
	"github.com/cryfs-go/cryfs/blockstore/integrity"
	"github.com/cryfs-go/cryfs/blockstore/ondisk"
	"github.com/cryfs-go/cryfs/cfg"
	"github.com/cryfs-go/cryfs/clock"
	"github.com/cryfs-go/cryfs/fs"
	"github.com/cryfs-go/cryfs/fsblobstore"
	"github.com/cryfs-go/cryfs/internal/logger"
	"github.com/cryfs-go/cryfs/localstate"
	"github.com/cryfs-go/cryfs/superblock"
	"github.com/google/uuid"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
)

// resolveDir returns an absolute path for dir, creating it first if create
// is set and it doesn't exist.
func resolveDir(dir string, create bool) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if !create {
			return "", fmt.Errorf("%s does not exist", dir)
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return filepath.Abs(dir)
}

// exitCodeFor maps an error returned from the mount path to one of the
// distinct exit codes spec.md's CLI surface calls for.
func exitCodeFor(err error) int {
	var blockErr *blockstore.Error
	if errors.As(err, &blockErr) {
		switch blockErr.Kind {
		case blockstore.KindDecryptionFailed:
			return ExitDecryptionFailed
		case blockstore.KindIntegrityViolation:
			return ExitIntegrityViolation
		}
	}
	if errors.Is(err, errFilesystemNotFound) {
		return ExitFilesystemNotFound
	}
	if errors.Is(err, errVersionIncompatible) {
		return ExitVersionIncompatible
	}
	return ExitArgumentError
}

var (
	errFilesystemNotFound   = errors.New("filesystem not found")
	errVersionIncompatible  = errors.New("filesystem was created by an incompatible version")
)

// openOrCreateSuperblock loads basedir's cryfs.config or, on the first mount
// of this basedir, builds a new in-memory config with a fresh key and
// filesystem id. The bool result reports whether the config is new; for a
// new one the caller creates the root directory blob and saves the config.
func openOrCreateSuperblock(basedir string, blockCfg cfg.CipherConfig) (*superblock.Config, bool, error) {
	if superblock.Exists(basedir) {
		sb, err := superblock.Load(basedir)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", errFilesystemNotFound, err)
		}
		if sb.CreatedWithVersion != superblock.CurrentVersion && !allowFilesystemUpgrade {
			return nil, false, errVersionIncompatible
		}
		return sb, false, nil
	}

	keySize, err := encrypted.KeySize(blockCfg.Name)
	if err != nil {
		return nil, false, err
	}
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generating encryption key: %w", err)
	}

	sb := &superblock.Config{
		Cipher:                blockCfg.Name,
		EncryptionKey:         key,
		BlockSizeBytes:        blockCfg.BlockSizeBytes,
		FilesystemId:          uuid.NewString(),
		CreatedWithVersion:    superblock.CurrentVersion,
		LastOpenedWithVersion: superblock.CurrentVersion,
	}
	return sb, true, nil
}

// runMount wires the block store stack, the blob layers, and the fs.Device
// together and hands the result to fuse.Mount, blocking until the
// filesystem is unmounted.
func runMount(basedir, mountdir string, newConfig *cfg.Config) error {
	log := logger.NewLogger("cmd")

	sb, isNew, err := openOrCreateSuperblock(basedir, newConfig.Cipher)
	if err != nil {
		return err
	}

	state := localstate.New(defaultLocalStateDir())
	myClientId, err := state.ClientId(sb.FilesystemId)
	if err != nil {
		return err
	}
	lock, err := state.AcquireLock(sb.FilesystemId)
	if err != nil {
		return err
	}
	defer lock.Release()

	integrityData, err := state.LoadIntegrityData(sb.FilesystemId)
	if err != nil {
		return err
	}
	defer func() {
		if err := state.SaveIntegrityData(sb.FilesystemId, integrityData); err != nil {
			log.Warn("failed to persist integrity data", "error", err)
		}
	}()

	onDisk := ondisk.New(basedir)

	encryptedStore, err := encrypted.New(onDisk, sb.Cipher, sb.EncryptionKey)
	if err != nil {
		return err
	}

	var exclusiveClientId *uint32
	if newConfig.Integrity.ExclusiveClientId {
		exclusiveClientId = &myClientId
	}
	integrityStore := integrity.New(encryptedStore, integrityData, myClientId, integrity.Policy{
		MissingBlockIsIntegrityViolation: newConfig.Integrity.MissingBlockIsIntegrityViolation,
		ExclusiveClientId:                exclusiveClientId,
		AllowIntegrityViolations:         newConfig.Integrity.AllowIntegrityViolations,
	}, func(kind integrity.ViolationKind, id blockstore.BlockId) {
		log.Warn("integrity violation detected", "kind", kind.String(), "block", id.String())
	})

	clk := clock.RealClock{}
	cachingStore := caching.New(integrityStore, clk)
	defer func() {
		if err := cachingStore.Close(); err != nil {
			log.Warn("failed to flush block cache", "error", err)
		}
	}()

	blobs, err := blobstore.NewBlobStore(cachingStore, uint32(sb.BlockSizeBytes))
	if err != nil {
		return err
	}
	fsBlobs := fsblobstore.NewFsBlobStore(blobs)

	var rootId blockstore.BlockId
	if isNew {
		root, err := fsBlobs.CreateRootDirBlob()
		if err != nil {
			return err
		}
		rootId = root.BlockId()
		sb.RootBlob = rootId
		if err := superblock.Save(basedir, sb); err != nil {
			return err
		}
		if err := state.RecordBasedir(basedir, sb.FilesystemId); err != nil {
			return err
		}
	} else {
		rootId = sb.RootBlob
	}

	uid := newConfig.FileSystem.Uid
	gid := newConfig.FileSystem.Gid
	if uid < 0 {
		uid = os.Getuid()
	}
	if gid < 0 {
		gid = os.Getgid()
	}

	device := fs.NewDevice(fsBlobs, clk, fs.Config{
		RootBlockId: rootId,
		Uid:         uint32(uid),
		Gid:         uint32(gid),
		RootMode:    os.FileMode(newConfig.FileSystem.DirMode),
	}).WithStatFS(cachingStore)

	server := fuseutil.NewFileSystemServer(device)

	mountCfg := &fuse.MountConfig{
		FSName:     "cryfs",
		Subtype:    "cryfs",
		VolumeName: "cryfs",
	}

	log.Info("mounting", "basedir", basedir, "mountdir", mountdir)
	mfs, err := fuse.Mount(mountdir, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	return mfs.Join(context.Background())
}

func defaultLocalStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/cryfs"
	}
	home, _ := os.UserHomeDir()
	return home + "/.cryfs"
}
