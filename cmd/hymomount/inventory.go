// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/hymofs/hymomount/internal/cli"
	"github.com/hymofs/hymomount/internal/config"
	"github.com/hymofs/hymomount/internal/kernel"
	"github.com/hymofs/hymomount/internal/moduleinfo"
	"github.com/hymofs/hymomount/internal/partition"
	"github.com/hymofs/hymomount/internal/state"
	"github.com/hymofs/hymomount/internal/storage"
)

type globalsOnlyParams struct {
	config.GlobalFlags
}

func newShowConfigCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "show-config",
		Summary: "Emit the effective configuration as JSON",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("show-config", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, wasExplicit(params.ConfigPath))
			if err != nil {
				return cli.WriteJSON(config.Default())
			}
			return cli.WriteJSON(env.cfg)
		},
	}
}

func newGenConfigCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "gen-config",
		Summary: "Write default config",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("gen-config", &params) },
		Run: func(args []string) error {
			out := params.Output
			if out == "" {
				out = filepath.Join(config.DefaultBaseDir, "config.json")
			}
			if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return err
			}
			return config.Save(out, config.Default())
		},
	}
}

func newStorageCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "storage",
		Summary: "Emit storage status JSON",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("storage", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			rs := state.Load(env.paths.statePath)
			return cli.WriteJSON(storage.PrintStatus(rs, env.cfg.ModuleDir))
		},
	}
}

func newModulesCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "modules",
		Summary: "Emit inventory as JSON array of module records",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("modules", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			modules, _, err := scanForReporting(env)
			if err != nil {
				return err
			}
			rs := state.Load(env.paths.statePath)
			type record struct {
				*moduleinfo.Module
				Set string `json:"set"`
			}
			var records []record
			for _, m := range modules {
				records = append(records, record{Module: m, Set: rs.ModuleSet(m.ID)})
			}
			return cli.WriteJSON(records)
		},
	}
}

func newCheckConflictsCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "check-conflicts",
		Summary: "Emit JSON list of modules whose declared paths collide",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("check-conflicts", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			modules, _, err := scanForReporting(env)
			if err != nil {
				return err
			}
			return cli.WriteJSON(findConflicts(modules))
		},
	}
}

func newVersionCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "version",
		Summary: "Emit protocol/kernel version and fast-path availability",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("version", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			status, kernelVersion := env.kernel.CheckStatus()
			rs := state.Load(env.paths.statePath)
			return cli.WriteJSON(struct {
				ProtocolVersion  uint32 `json:"protocol_version"`
				KernelVersion    uint32 `json:"kernel_version"`
				ProtocolMismatch bool   `json:"protocol_mismatch"`
				ActiveModules    int    `json:"active_modules"`
				HymofsAvailable  bool   `json:"hymofs_available"`
				MountBase        string `json:"mount_base"`
			}{
				ProtocolVersion:  kernel.ExpectedProtocolVersion,
				KernelVersion:    kernelVersion,
				ProtocolMismatch: status == kernel.StatusKernelTooOld || status == kernel.StatusModuleTooOld,
				ActiveModules:    len(rs.HymofsModuleIDs) + len(rs.OverlayModuleIDs) + len(rs.MagicModuleIDs),
				HymofsAvailable:  status == kernel.StatusAvailable,
				MountBase:        env.paths.base,
			})
		},
	}
}

func newSyncPartitionsCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "sync-partitions",
		Summary: "Auto-discover and persist new partitions",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("sync-partitions", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			known := partition.Resolve(env.cfg.Partitions)
			discovered, err := partition.Discover(env.cfg.ModuleDir, known)
			if err != nil {
				return err
			}
			if len(discovered) > 0 {
				env.cfg.Partitions = append(env.cfg.Partitions, discovered...)
				if err := config.Save(env.paths.configPath, env.cfg); err != nil {
					return err
				}
			}
			return cli.WriteJSON(discovered)
		},
	}
}

// scanForReporting scans modules the way `mount` does but without
// side effects on storage or the kernel, for read-only reporting
// commands (modules, check-conflicts).
func scanForReporting(env *runtimeEnv) ([]*moduleinfo.Module, []string, error) {
	partitions := partition.Resolve(env.cfg.Partitions)
	modeMap := moduleinfo.LoadModeMap(env.paths.modeMapPath)
	rulesMap := moduleinfo.LoadRulesMap(env.paths.rulesMapPath)
	modules, err := moduleinfo.Scan(env.cfg.ModuleDir, modeMap, rulesMap, partitions)
	return modules, partitions, err
}

// findConflicts reports modules whose declared partition paths
// collide on the same relative path within a partition.
func findConflicts(modules []*moduleinfo.Module) []map[string]any {
	type owner struct {
		path    string
		modules []string
	}
	seen := map[string]*owner{}
	for _, m := range modules {
		walkModulePaths(m, func(relPath string) {
			key := relPath
			o, ok := seen[key]
			if !ok {
				o = &owner{path: relPath}
				seen[key] = o
			}
			o.modules = append(o.modules, m.ID)
		})
	}

	var conflicts []map[string]any
	for _, o := range seen {
		if len(o.modules) > 1 {
			conflicts = append(conflicts, map[string]any{"path": o.path, "modules": o.modules})
		}
	}
	return conflicts
}

func walkModulePaths(m *moduleinfo.Module, visit func(relPath string)) {
	for _, p := range partition.Builtins {
		root := filepath.Join(m.SourcePath, p)
		filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(m.SourcePath, path)
			if relErr == nil {
				visit(filepath.ToSlash(rel))
			}
			return nil
		})
	}
}
