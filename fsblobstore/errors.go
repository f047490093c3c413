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

import "fmt"

// These mirror the closed error taxonomy of spec §7 that isn't already
// covered by blockstore.ErrorKind; the fs layer translates them to errno.
var (
	ErrNotEmpty     = fmt.Errorf("directory not empty")
	ErrIsADirectory = fmt.Errorf("is a directory")
	ErrNotADirectory = fmt.Errorf("not a directory")
)
