// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads, saves, and binds the hymomount configuration
// document described in spec §3.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
)

// FilesystemType is the typed backing-store preference. The source
// repo carried a second, untyped form (bool force_ext4, bool
// prefer_erofs); this typed enum is the authoritative one.
type FilesystemType string

const (
	FilesystemAuto  FilesystemType = "auto"
	FilesystemTmpfs FilesystemType = "tmpfs"
	FilesystemExt4  FilesystemType = "ext4"
	FilesystemErofs FilesystemType = "erofs"
)

// MountStage is a cooperative hint to the shell wrappers about which
// init phase invoked the core.
type MountStage string

const (
	StagePostFsData MountStage = "post-fs-data"
	StageMetamount  MountStage = "metamount"
	StageServices   MountStage = "services"
)

const (
	DefaultModuleDir = "/data/adb/modules"
	DefaultBaseDir   = "/data/adb/hymomount"
)

// Config is the full set of recognized options from spec §3.
type Config struct {
	ModuleDir               string         `json:"moduledir"`
	TempDir                 string         `json:"tempdir"`
	MirrorPath              string         `json:"mirror_path"`
	MountSource             string         `json:"mountsource"`
	Verbose                 bool           `json:"verbose"`
	FsType                  FilesystemType `json:"fs_type"`
	DisableUmount           bool           `json:"disable_umount"`
	EnableNuke              bool           `json:"enable_nuke"`
	IgnoreProtocolMismatch  bool           `json:"ignore_protocol_mismatch"`
	EnableKernelDebug       bool           `json:"enable_kernel_debug"`
	EnableStealth           bool           `json:"enable_stealth"`
	HymofsEnabled           bool           `json:"hymofs_enabled"`
	UnameRelease            string         `json:"uname_release"`
	UnameVersion            string         `json:"uname_version"`
	Partitions              []string       `json:"partitions"`
	MountStage              MountStage     `json:"mount_stage"`
}

// Default returns the configuration used when no config.json exists.
func Default() *Config {
	return &Config{
		ModuleDir:   DefaultModuleDir,
		MountSource: "HymoMount",
		FsType:      FilesystemAuto,
		MountStage:  StagePostFsData,
		Partitions:  nil,
	}
}

// Load reads path as JSONC and unmarshals it into a Config. A parse
// failure is returned as an error here (the CLI layer is responsible
// for deciding whether that's fatal — spec §7 says it's fatal only
// when the path was explicitly given via -c).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(jsonc.ToJSON(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadTolerant reads path and falls back to Default() on any error,
// per spec §9's "tolerant JSON" directive for every persisted document
// except a config explicitly named on the command line.
func LoadTolerant(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to path as indented JSON.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

// GlobalFlags holds the process-wide flags from spec §6 and
// implements [cli.FlagBinder] so it can be embedded directly into a
// subcommand's params struct.
type GlobalFlags struct {
	ConfigPath  string
	Verbose     bool
	ModuleDir   string
	TempDir     string
	MountSource string
	Partitions  []string
	Output      string
}

// AddFlags registers the global flags on flagSet.
func (g *GlobalFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&g.ConfigPath, "config", "c", "/data/adb/hymomount/config.json", "path to config.json")
	flagSet.BoolVarP(&g.Verbose, "verbose", "v", false, "enable debug logging")
	flagSet.StringVarP(&g.ModuleDir, "moduledir", "m", "", "override moduledir")
	flagSet.StringVarP(&g.TempDir, "tempdir", "t", "", "override mirror mount point")
	flagSet.StringVarP(&g.MountSource, "mountsource", "s", "", "override cosmetic mount-source label")
	flagSet.StringSliceVarP(&g.Partitions, "partition", "p", nil, "extra partition name (repeatable)")
	flagSet.StringVarP(&g.Output, "output", "o", "", "output file path")
}

// Apply overlays non-empty global-flag overrides onto cfg, matching
// the precedence spec §3/§6 imply: explicit flags win over config.json.
func (g *GlobalFlags) Apply(cfg *Config) {
	if g.ModuleDir != "" {
		cfg.ModuleDir = g.ModuleDir
	}
	if g.TempDir != "" {
		cfg.TempDir = g.TempDir
	}
	if g.MountSource != "" {
		cfg.MountSource = g.MountSource
	}
	if g.Verbose {
		cfg.Verbose = true
	}
	for _, p := range g.Partitions {
		if p != "" {
			cfg.Partitions = append(cfg.Partitions, p)
		}
	}
}
