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

package cmd

import (
	"fmt"
	"os"

	"github.com/cryfs-go/cryfs/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes, distinguished per spec so scripts can tell failure modes apart
// without scraping stderr.
const (
	ExitSuccess             = 0
	ExitArgumentError       = 1
	ExitDecryptionFailed    = 2
	ExitIntegrityViolation  = 3
	ExitFilesystemNotFound  = 4
	ExitVersionIncompatible = 5
)

var (
	cfgFile      string
	bindErr      error
	unmarshalErr error
	MountConfig  cfg.Config

	createMissingBasedir   bool
	createMissingMountdir  bool
	allowFilesystemUpgrade bool
	foreground             bool
)

var rootCmd = &cobra.Command{
	Use:   "cryfs [flags] basedir mountdir",
	Short: "Mount an encrypted directory as a local filesystem",
	Long: `CryFS encrypts your files, so you can safely store them anywhere.
It then mounts the encrypted filesystem at mountdir, so you can
access your data as if it wasn't encrypted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.ValidateConfig(&MountConfig); err != nil {
			return err
		}
		basedir, mountdir, err := resolveArgs(args)
		if err != nil {
			return err
		}
		return runMount(basedir, mountdir, &MountConfig)
	},
	SilenceUsage: true,
}

func resolveArgs(args []string) (basedir, mountdir string, err error) {
	basedir, err = resolveDir(args[0], createMissingBasedir)
	if err != nil {
		return "", "", fmt.Errorf("basedir: %w", err)
	}
	mountdir, err = resolveDir(args[1], createMissingMountdir)
	if err != nil {
		return "", "", fmt.Errorf("mountdir: %w", err)
	}
	return basedir, mountdir, nil
}

// Execute runs the root command, translating a returned error into one of
// the distinct non-zero exit codes spec.md's CLI surface calls for. A panic
// during the mount is captured to a crash file, since by the time one
// happens stderr may already belong to a daemonized, detached process.
func Execute() {
	crash := NewCrashWriter(defaultLocalStateDir() + "/crash.log")
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(crash, "panic: %v\n", r)
			os.Exit(ExitArgumentError)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	rootCmd.Flags().BoolVar(&createMissingBasedir, "create-missing-basedir", false, "Create basedir if it doesn't exist")
	rootCmd.Flags().BoolVar(&createMissingMountdir, "create-missing-mountpoint", false, "Create mountdir if it doesn't exist")
	rootCmd.Flags().BoolVar(&allowFilesystemUpgrade, "allow-filesystem-upgrade", false, "Allow opening a filesystem created by an older version")
	rootCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in the foreground instead of daemonizing")

	bindErr = cfg.BindFlags(rootCmd.Flags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook()))
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		unmarshalErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook()))
}
