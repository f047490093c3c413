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

// DefaultBlockSizeBytes is the plaintext block size used when a filesystem
// is created without an explicit --block-size-bytes flag.
const DefaultBlockSizeBytes = 32 * 1024

// DefaultCipher is the cipher used when a filesystem is created without an
// explicit --cipher flag.
const DefaultCipher = AES256GCM

// GetDefaultLoggingConfig returns the default logging configuration used
// during application startup, before a config file or flags have been
// parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: string(InfoLogSeverity),
		Format:   "text",
	}
}
