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

package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOctal_UnmarshalText(t *testing.T) {
	var o Octal

	err := o.UnmarshalText([]byte("700"))

	require.NoError(t, err)
	assert.Equal(t, Octal(0700), o)
}

func TestLogSeverity_UnmarshalText_CaseInsensitive(t *testing.T) {
	var l LogSeverity

	err := l.UnmarshalText([]byte("debug"))

	require.NoError(t, err)
	assert.Equal(t, DebugLogSeverity, l)
}

func TestLogSeverity_UnmarshalText_Invalid(t *testing.T) {
	var l LogSeverity

	err := l.UnmarshalText([]byte("VERBOSE"))

	assert.Error(t, err)
}

func TestLogSeverity_Rank_OrdersFromMostToLeastVerbose(t *testing.T) {
	assert.Less(t, TraceLogSeverity.Rank(), DebugLogSeverity.Rank())
	assert.Less(t, DebugLogSeverity.Rank(), InfoLogSeverity.Rank())
	assert.Less(t, InfoLogSeverity.Rank(), WarningLogSeverity.Rank())
	assert.Less(t, WarningLogSeverity.Rank(), ErrorLogSeverity.Rank())
	assert.Less(t, ErrorLogSeverity.Rank(), OffLogSeverity.Rank())
}

func TestResolvedPath_UnmarshalText_EmptyStaysEmpty(t *testing.T) {
	var p ResolvedPath

	err := p.UnmarshalText([]byte(""))

	require.NoError(t, err)
	assert.Equal(t, ResolvedPath(""), p)
}

func TestResolvedPath_UnmarshalText_MakesRelativePathAbsolute(t *testing.T) {
	var p ResolvedPath

	err := p.UnmarshalText([]byte("."))

	require.NoError(t, err)
	assert.True(t, len(p) > 1 && p[0] == '/')
}

func TestCipherName_IsValid(t *testing.T) {
	assert.True(t, AES256GCM.IsValid())
	assert.True(t, Twofish128GCM.IsValid())
	assert.False(t, CipherName("rot13").IsValid())
}
