// Copyright 2024 Google Inc. All Rights Reserved.
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
)

func validConfig() *Config {
	return &Config{
		Cipher: CipherConfig{
			Name:           string(AES256GCM),
			BlockSizeBytes: DefaultBlockSizeBytes,
		},
		Logging: GetDefaultLoggingConfig(),
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	assert.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_BlockSizeTooSmall(t *testing.T) {
	c := validConfig()
	c.Cipher.BlockSizeBytes = 1024

	err := ValidateConfig(c)

	assert.ErrorContains(t, err, BlockSizeTooSmallError)
}

func TestValidateConfig_InvalidCipher(t *testing.T) {
	c := validConfig()
	c.Cipher.Name = "rot13"

	err := ValidateConfig(c)

	assert.ErrorContains(t, err, InvalidCipherError)
}

func TestValidateConfig_InvalidSeverity(t *testing.T) {
	c := validConfig()
	c.Logging.Severity = "VERBOSE"

	err := ValidateConfig(c)

	assert.Error(t, err)
}

func TestValidateConfig_ExclusiveClientIdConflictsWithAllowIntegrityViolations(t *testing.T) {
	c := validConfig()
	c.Integrity.ExclusiveClientId = true
	c.Integrity.AllowIntegrityViolations = true

	err := ValidateConfig(c)

	assert.Error(t, err)
}
