// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Command hymomount is the mount-orchestration core: it discovers
// modules, provisions a backing store, and installs HymoFS kernel
// rules or overlay/magic mounts depending on what the running kernel
// supports.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hymofs/hymomount/internal/clock"
	"github.com/hymofs/hymomount/internal/config"
	"github.com/hymofs/hymomount/internal/kernel"
	"github.com/hymofs/hymomount/internal/logging"
)

// kernelDevicePath is the device node the host-kernel root daemon
// exposes for the hymo ioctl, named in the same family as the
// per-boot sentinel the init wrapper owns (/dev/hymo_single_instance).
const kernelDevicePath = "/dev/hymo_ctl"

// paths bundles the fixed, base-dir-relative file locations spec §6
// names under "Persisted files".
type paths struct {
	base          string
	configPath    string
	modeMapPath   string
	rulesMapPath  string
	userHidePath  string
	statePath     string
	statsPath     string
	logPath       string
	imagePath     string
	erofsPath     string
	bootCountPath string
	hotUnmountDir string
	kmodPath      string
}

func newPaths(base string) paths {
	return paths{
		base:          base,
		configPath:    filepath.Join(base, "config.json"),
		modeMapPath:   filepath.Join(base, "module_mode.conf"),
		rulesMapPath:  filepath.Join(base, "module_rules.conf"),
		userHidePath:  filepath.Join(base, "user_hide.json"),
		statePath:     filepath.Join(base, "daemon_state.json"),
		statsPath:     filepath.Join(base, "mount_stats.json"),
		logPath:       filepath.Join(base, "daemon.log"),
		imagePath:     filepath.Join(base, "modules.img"),
		erofsPath:     filepath.Join(base, "modules.erofs"),
		bootCountPath: filepath.Join(base, "boot_count"),
		hotUnmountDir: filepath.Join(base, "run", "hot_unmounted"),
		kmodPath:      filepath.Join(base, "hymofs.ko"),
	}
}

// runtimeEnv bundles everything a subcommand needs: the resolved config, the
// fixed file paths, a logger, and a kernel control channel.
type runtimeEnv struct {
	cfg    *config.Config
	paths  paths
	log    *slog.Logger
	kernel *kernel.Channel
}

// newEnv loads config.json (falling back to defaults unless explicit
// is true, per spec §7's "fatal only when -c was given explicitly"),
// applies global-flag overrides, and wires up logging and the kernel
// channel.
func newEnv(globals *config.GlobalFlags, explicit bool) (*runtimeEnv, error) {
	var cfg *config.Config
	if explicit {
		loaded, err := config.Load(globals.ConfigPath)
		if err != nil {
			return nil, &cliConfigError{err: err}
		}
		cfg = loaded
	} else {
		cfg = config.LoadTolerant(globals.ConfigPath)
	}
	globals.Apply(cfg)

	base := filepath.Dir(globals.ConfigPath)
	if base == "" || base == "." {
		base = config.DefaultBaseDir
	}
	p := newPaths(base)

	var logFile *os.File
	if f, err := os.OpenFile(p.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		logFile = f
	}
	logger := logging.New(cfg.Verbose || globals.Verbose, logFile)

	ch := kernel.New(kernelDevicePath, clock.Real())

	return &runtimeEnv{cfg: cfg, paths: p, log: logger, kernel: ch}, nil
}

type cliConfigError struct{ err error }

func (e *cliConfigError) Error() string { return e.err.Error() }
func (e *cliConfigError) Unwrap() error { return e.err }
