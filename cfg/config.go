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

// GENERATED CODE - DO NOT EDIT MANUALLY.

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	Cipher CipherConfig `yaml:"cipher"`

	Integrity IntegrityConfig `yaml:"integrity"`

	Logging LoggingConfig `yaml:"logging"`

	Debug DebugConfig `yaml:"debug"`

	FileSystem FileSystemConfig `yaml:"file-system"`
}

type CipherConfig struct {
	// Name of the AEAD cipher used to encrypt blocks, e.g. "aes-256-gcm".
	Name string `yaml:"name"`

	// BlockSizeBytes is the plaintext size of a data block, before the
	// per-block header and the cipher's tag/nonce overhead.
	BlockSizeBytes int `yaml:"block-size-bytes"`
}

type IntegrityConfig struct {
	MissingBlockIsIntegrityViolation bool `yaml:"missing-block-is-integrity-violation"`

	ExclusiveClientId bool `yaml:"exclusive-client-id"`

	AllowIntegrityViolations bool `yaml:"allow-integrity-violations"`
}

type LoggingConfig struct {
	FilePath ResolvedPath `yaml:"file-path"`

	Format string `yaml:"format"`

	Severity string `yaml:"severity"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode"`

	DirMode Octal `yaml:"dir-mode"`

	Uid int `yaml:"uid"`

	Gid int `yaml:"gid"`

	UnmountIdle time.Duration `yaml:"unmount-idle"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "cryfs", "The application name of this mount.")

	err = viper.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.StringP("cipher", "", "aes-256-gcm", "Cipher used to encrypt blocks.")

	err = viper.BindPFlag("cipher.name", flagSet.Lookup("cipher"))
	if err != nil {
		return err
	}

	flagSet.IntP("block-size-bytes", "", 32768, "Plaintext size of a data block, in bytes.")

	err = viper.BindPFlag("cipher.block-size-bytes", flagSet.Lookup("block-size-bytes"))
	if err != nil {
		return err
	}

	flagSet.BoolP("missing-block-is-integrity-violation", "", false, "Treat a missing block as a rollback/deletion attack instead of silent data loss.")

	err = viper.BindPFlag("integrity.missing-block-is-integrity-violation", flagSet.Lookup("missing-block-is-integrity-violation"))
	if err != nil {
		return err
	}

	flagSet.BoolP("exclusive-client-id", "", false, "Reject blocks last written by a different client id instead of merging version histories.")

	err = viper.BindPFlag("integrity.exclusive-client-id", flagSet.Lookup("exclusive-client-id"))
	if err != nil {
		return err
	}

	flagSet.BoolP("allow-integrity-violations", "", false, "Downgrade integrity violations to warnings instead of aborting the mount.")

	err = viper.BindPFlag("integrity.allow-integrity-violations", flagSet.Lookup("allow-integrity-violations"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path of the log file. Empty logs to stderr.")

	err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log output format: text or json.")

	err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Minimum severity logged.")

	err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0600, "Permissions bits for regular files, in octal.")

	err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0700, "Permissions bits for directories, in octal.")

	err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all inodes. -1 uses the mounting user's UID.")

	err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid"))
	if err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all inodes. -1 uses the mounting user's GID.")

	err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid"))
	if err != nil {
		return err
	}

	flagSet.DurationP("unmount-idle", "", 0, "Automatically unmount after this much idle time. 0 disables idle unmount.")

	err = viper.BindPFlag("file-system.unmount-idle", flagSet.Lookup("unmount-idle"))
	if err != nil {
		return err
	}

	return nil
}
