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

package localstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientId_StablePerFilesystem(t *testing.T) {
	s := New(t.TempDir())

	first, err := s.ClientId("fs-a")
	require.NoError(t, err)
	second, err := s.ClientId("fs-a")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestClientId_DiffersAcrossFilesystems(t *testing.T) {
	s := New(t.TempDir())

	a, err := s.ClientId("fs-a")
	require.NoError(t, err)
	b, err := s.ClientId("fs-b")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestIntegrityData_SaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	d := newIntegrityData()
	d.UpdateKnownVersion(7, "block-a", 3)
	d.MarkKnownBlock("block-b")

	require.NoError(t, s.SaveIntegrityData("fs-a", d))
	loaded, err := s.LoadIntegrityData("fs-a")
	require.NoError(t, err)

	v, ok := loaded.KnownVersion(7, "block-a")
	assert.True(t, ok)
	assert.Equal(t, uint64(3), v)
	assert.True(t, loaded.IsKnownBlock("block-b"))
	assert.False(t, loaded.IsKnownBlock("block-c"))
}

func TestIntegrityData_UpdateKnownVersionNeverLowersIt(t *testing.T) {
	d := newIntegrityData()
	d.UpdateKnownVersion(1, "block-a", 5)

	d.UpdateKnownVersion(1, "block-a", 2)

	v, ok := d.KnownVersion(1, "block-a")
	assert.True(t, ok)
	assert.Equal(t, uint64(5), v)
}

func TestBasedirs_RecordAndLoad(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.RecordBasedir("/mnt/a", "fs-a"))
	m, err := s.Basedirs()

	require.NoError(t, err)
	assert.Equal(t, "fs-a", m["/mnt/a"])
}

func TestAcquireLock_SecondAcquireFails(t *testing.T) {
	s := New(t.TempDir())

	lock, err := s.AcquireLock("fs-a")
	require.NoError(t, err)
	defer lock.Release()

	_, err = s.AcquireLock("fs-a")
	assert.Error(t, err)
}
