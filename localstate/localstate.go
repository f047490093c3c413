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

// Package localstate persists the data that lives alongside a mounted
// filesystem but outside of it: the basedir-to-filesystem-id map, each
// filesystem's known-blocks integrity data, and its stable per-host client
// id. None of this is encrypted — it is the client's own bookkeeping, not
// filesystem content.
package localstate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Store roots all local state under a single directory, normally
// $XDG_DATA_HOME/cryfs or the platform equivalent.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. dir is created on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) filesystemDir(filesystemId string) string {
	return filepath.Join(s.dir, filesystemId)
}

func (s *Store) ensureFilesystemDir(filesystemId string) error {
	return os.MkdirAll(s.filesystemDir(filesystemId), 0700)
}

// basedirsPath is the JSON file mapping an absolute basedir path to the
// filesystem id found in its cryfs.config, used to warn when a basedir is
// later opened under a different identity than last time.
func (s *Store) basedirsPath() string {
	return filepath.Join(s.dir, "basedirs")
}

// Basedirs loads the basedir -> filesystem id map, returning an empty map
// if none has been written yet.
func (s *Store) Basedirs() (map[string]string, error) {
	data, err := os.ReadFile(s.basedirsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading basedirs: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing basedirs: %w", err)
	}
	return m, nil
}

// RecordBasedir associates basedir with filesystemId, overwriting any prior
// association.
func (s *Store) RecordBasedir(basedir, filesystemId string) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating local state dir: %w", err)
	}
	m, err := s.Basedirs()
	if err != nil {
		return err
	}
	m[basedir] = filesystemId
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.basedirsPath(), data, 0600)
}

func (s *Store) clientIdPath(filesystemId string) string {
	return filepath.Join(s.filesystemDir(filesystemId), "client_id")
}

// ClientId returns the stable per-host client id for filesystemId, randomly
// choosing and persisting one on first use.
func (s *Store) ClientId(filesystemId string) (uint32, error) {
	data, err := os.ReadFile(s.clientIdPath(filesystemId))
	if err == nil && len(data) == 4 {
		return binary.BigEndian.Uint32(data), nil
	}
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("reading client id: %w", err)
	}

	id := rand.Uint32()
	if err := s.ensureFilesystemDir(filesystemId); err != nil {
		return 0, err
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	if err := os.WriteFile(s.clientIdPath(filesystemId), buf, 0600); err != nil {
		return 0, fmt.Errorf("writing client id: %w", err)
	}
	return id, nil
}

func (s *Store) integrityDataPath(filesystemId string) string {
	return filepath.Join(s.filesystemDir(filesystemId), "integritydata")
}

// integrityDataFile is the JSON on-disk shape of IntegrityData.
type integrityDataFile struct {
	KnownVersions map[string]uint64 `json:"known_versions"`
	KnownBlockIds []string          `json:"known_block_ids"`
}

// IntegrityData is the known-versions map and known-block-ids set described
// in spec §4.3, kept in memory and flushed back to disk on Save.
type IntegrityData struct {
	mu            sync.Mutex
	knownVersions map[versionKey]uint64
	knownBlockIds map[string]struct{}
}

type versionKey struct {
	clientId uint32
	blockId  string
}

func newIntegrityData() *IntegrityData {
	return &IntegrityData{
		knownVersions: map[versionKey]uint64{},
		knownBlockIds: map[string]struct{}{},
	}
}

// KnownVersion returns the highest version ever seen for (clientId, blockId)
// and whether any version has been seen at all.
func (d *IntegrityData) KnownVersion(clientId uint32, blockId string) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.knownVersions[versionKey{clientId, blockId}]
	return v, ok
}

// UpdateKnownVersion raises the recorded version for (clientId, blockId) to
// version if it is higher than what's recorded, and marks blockId known.
func (d *IntegrityData) UpdateKnownVersion(clientId uint32, blockId string, version uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := versionKey{clientId, blockId}
	if version > d.knownVersions[key] {
		d.knownVersions[key] = version
	}
	d.knownBlockIds[blockId] = struct{}{}
}

// IsKnownBlock reports whether blockId has ever been seen or written by this
// client.
func (d *IntegrityData) IsKnownBlock(blockId string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.knownBlockIds[blockId]
	return ok
}

// MarkKnownBlock records blockId as seen, independent of any version bump
// (used when a block is created locally, before any read confirms a
// version).
func (d *IntegrityData) MarkKnownBlock(blockId string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.knownBlockIds[blockId] = struct{}{}
}

func (d *IntegrityData) snapshot() integrityDataFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := integrityDataFile{
		KnownVersions: make(map[string]uint64, len(d.knownVersions)),
		KnownBlockIds: make([]string, 0, len(d.knownBlockIds)),
	}
	for k, v := range d.knownVersions {
		out.KnownVersions[fmt.Sprintf("%d:%s", k.clientId, k.blockId)] = v
	}
	for id := range d.knownBlockIds {
		out.KnownBlockIds = append(out.KnownBlockIds, id)
	}
	return out
}

// LoadIntegrityData reads the persisted known-versions/known-block-ids state
// for filesystemId, returning a fresh empty IntegrityData if none exists yet
// (first mount of this filesystem on this host).
func (s *Store) LoadIntegrityData(filesystemId string) (*IntegrityData, error) {
	d := newIntegrityData()
	raw, err := os.ReadFile(s.integrityDataPath(filesystemId))
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("reading integrity data: %w", err)
	}
	var file integrityDataFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing integrity data: %w", err)
	}
	for key, version := range file.KnownVersions {
		var clientId uint32
		var blockId string
		if _, err := fmt.Sscanf(key, "%d:%s", &clientId, &blockId); err != nil {
			continue
		}
		d.knownVersions[versionKey{clientId, blockId}] = version
	}
	for _, id := range file.KnownBlockIds {
		d.knownBlockIds[id] = struct{}{}
	}
	return d, nil
}

// SaveIntegrityData flushes d to disk for filesystemId.
func (s *Store) SaveIntegrityData(filesystemId string, d *IntegrityData) error {
	if err := s.ensureFilesystemDir(filesystemId); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d.snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.integrityDataPath(filesystemId), data, 0600)
}

// Lock is an advisory file lock ensuring only one mount per filesystem per
// host can hold the known-blocks map at a time.
type Lock struct {
	file *os.File
}

func (s *Store) lockPath(filesystemId string) string {
	return filepath.Join(s.filesystemDir(filesystemId), "lock")
}

// AcquireLock takes the advisory lock for filesystemId, failing immediately
// (rather than blocking) if another mount already holds it.
func (s *Store) AcquireLock(filesystemId string) (*Lock, error) {
	if err := s.ensureFilesystemDir(filesystemId); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.lockPath(filesystemId), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("filesystem already mounted on this host: %w", err)
	}
	return &Lock{file: f}, nil
}

// Release drops the advisory lock.
func (l *Lock) Release() error {
	defer l.file.Close()
	return unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}
