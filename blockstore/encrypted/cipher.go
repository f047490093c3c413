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

package encrypted

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/twofish"
)

// cipherSpec describes one entry in the AEAD cipher registry: its key size
// and how to turn a key into a cipher.AEAD.
type cipherSpec struct {
	keySize int
	newAEAD func(key []byte) (cipher.AEAD, error)
}

var registry = map[string]cipherSpec{
	"aes-256-gcm": {keySize: 32, newAEAD: newAesGCM},
	"aes-128-gcm": {keySize: 16, newAEAD: newAesGCM},
	"twofish-256-gcm": {keySize: 32, newAEAD: newTwofishGCM},
	"twofish-128-gcm": {keySize: 16, newAEAD: newTwofishGCM},
}

func newAesGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func newTwofishGCM(key []byte) (cipher.AEAD, error) {
	block, err := twofish.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// KeySize returns the key length in bytes required by the named cipher, or
// an error if the cipher is unknown.
func KeySize(name string) (int, error) {
	spec, ok := registry[name]
	if !ok {
		return 0, fmt.Errorf("unknown cipher %q", name)
	}
	return spec.keySize, nil
}

// NewAEAD builds a cipher.AEAD for the named cipher and key. The caller
// (EncryptedBlockStore) is responsible for choosing fresh nonces per
// encryption and binding the block id as associated data.
func NewAEAD(name string, key []byte) (cipher.AEAD, error) {
	spec, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown cipher %q", name)
	}
	if len(key) != spec.keySize {
		return nil, fmt.Errorf("cipher %q wants a %d-byte key, got %d", name, spec.keySize, len(key))
	}
	return spec.newAEAD(key)
}

// IsKnownCipher reports whether name is in the registry.
func IsKnownCipher(name string) bool {
	_, ok := registry[name]
	return ok
}
