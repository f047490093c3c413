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

import "fmt"

const (
	BlockSizeTooSmallError = "block-size-bytes must be at least 4096"
	InvalidCipherError     = "cipher must be one of aes-256-gcm, aes-128-gcm, twofish-256-gcm, twofish-128-gcm"
)

func isValidCipherConfig(c *CipherConfig) error {
	if c.BlockSizeBytes < 4096 {
		return fmt.Errorf(BlockSizeTooSmallError)
	}
	if !CipherName(c.Name).IsValid() {
		return fmt.Errorf(InvalidCipherError)
	}
	return nil
}

func isValidLoggingConfig(l *LoggingConfig) error {
	var s LogSeverity
	return (&s).UnmarshalText([]byte(l.Severity))
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidCipherConfig(&config.Cipher); err != nil {
		return fmt.Errorf("error parsing cipher config: %w", err)
	}

	if err = isValidLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}

	if config.Integrity.ExclusiveClientId && config.Integrity.AllowIntegrityViolations {
		return fmt.Errorf("exclusive-client-id and allow-integrity-violations cannot both be set")
	}

	return nil
}
