// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/hymofs/hymomount/internal/cli"
	"github.com/hymofs/hymomount/internal/kernel"
	"github.com/hymofs/hymomount/internal/moduleinfo"
	"github.com/hymofs/hymomount/internal/mountexec"
	"github.com/hymofs/hymomount/internal/partition"
)

func newSetModeCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "set-mode",
		Summary: "Persist a per-module mode override",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("set-mode", &params) },
		Run: func(args []string) error {
			if len(args) != 2 {
				return cli.InvalidInput("set-mode requires <id> <mode>")
			}
			mode := moduleinfo.Mode(args[1])
			switch mode {
			case moduleinfo.ModeAuto, moduleinfo.ModeHymofs, moduleinfo.ModeOverlay, moduleinfo.ModeMagic, moduleinfo.ModeNone:
			default:
				return cli.InvalidInput("unknown mode %q", args[1])
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			modeMap := moduleinfo.LoadModeMap(env.paths.modeMapPath)
			modeMap[args[0]] = mode
			return moduleinfo.SaveModeMap(env.paths.modeMapPath, modeMap)
		},
	}
}

func newAddRuleCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "add-rule",
		Summary: "Persist a per-path mode override for one module",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("add-rule", &params) },
		Run: func(args []string) error {
			if len(args) != 3 {
				return cli.InvalidInput("add-rule requires <id> <path> <mode>")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			rulesMap := moduleinfo.LoadRulesMap(env.paths.rulesMapPath)
			id, path, mode := args[0], args[1], moduleinfo.Mode(args[2])
			filtered := rulesMap[id][:0]
			for _, r := range rulesMap[id] {
				if r.Path != path {
					filtered = append(filtered, r)
				}
			}
			rulesMap[id] = append(filtered, moduleinfo.PathRule{Path: path, Mode: mode})
			return moduleinfo.SaveRulesMap(env.paths.rulesMapPath, rulesMap)
		},
	}
}

func newRemoveRuleCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "remove-rule",
		Summary: "Remove a persisted per-path mode override",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("remove-rule", &params) },
		Run: func(args []string) error {
			if len(args) != 2 {
				return cli.InvalidInput("remove-rule requires <id> <path>")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			rulesMap := moduleinfo.LoadRulesMap(env.paths.rulesMapPath)
			id, path := args[0], args[1]
			var kept []moduleinfo.PathRule
			for _, r := range rulesMap[id] {
				if r.Path != path {
					kept = append(kept, r)
				}
			}
			rulesMap[id] = kept
			return moduleinfo.SaveRulesMap(env.paths.rulesMapPath, rulesMap)
		},
	}
}

func newAddCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "add",
		Summary: "Install every kernel rule for one module",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("add", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.InvalidInput("add requires exactly one module id")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			mirrorPoint := env.cfg.TempDir
			if mirrorPoint == "" {
				mirrorPoint = filepath.Join(env.paths.base, "mirror")
			}
			partitions := partition.Resolve(env.cfg.Partitions)
			executor := mountexec.NewExecutor(env.kernel, mirrorPoint)
			return executor.InstallHymofsRules([]string{args[0]}, partitions)
		},
	}
}

func newDeleteCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "delete",
		Summary: "Remove every kernel rule installed for one module",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("delete", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.InvalidInput("delete requires exactly one module id")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			mirrorPoint := env.cfg.TempDir
			if mirrorPoint == "" {
				mirrorPoint = filepath.Join(env.paths.base, "mirror")
			}
			return removeModuleRules(env.kernel, mirrorPoint, args[0])
		},
	}
}

func newHotMountCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "hot-mount",
		Summary: "Install kernel rules for a module at runtime and clear its skip sentinel",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("hot-mount", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.InvalidInput("hot-mount requires exactly one module id")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			mirrorPoint := env.cfg.TempDir
			if mirrorPoint == "" {
				mirrorPoint = filepath.Join(env.paths.base, "mirror")
			}
			partitions := partition.Resolve(env.cfg.Partitions)
			executor := mountexec.NewExecutor(env.kernel, mirrorPoint)
			if err := executor.InstallHymofsRules([]string{args[0]}, partitions); err != nil {
				return &cli.ExitError{Code: 1}
			}
			return os.Remove(filepath.Join(env.paths.hotUnmountDir, args[0]))
		},
	}
}

func newHotUnmountCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "hot-unmount",
		Summary: "Remove kernel rules for a module at runtime and mark it for skip on reload",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("hot-unmount", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.InvalidInput("hot-unmount requires exactly one module id")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			mirrorPoint := env.cfg.TempDir
			if mirrorPoint == "" {
				mirrorPoint = filepath.Join(env.paths.base, "mirror")
			}
			if err := removeModuleRules(env.kernel, mirrorPoint, args[0]); err != nil {
				return &cli.ExitError{Code: 1}
			}
			if err := os.MkdirAll(env.paths.hotUnmountDir, 0755); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(env.paths.hotUnmountDir, args[0]), nil, 0644)
		},
	}
}

// removeModuleRules retraces the module's mirror subtree and issues a
// DelRule for every file and symlink entry, undoing the ADD rules
// InstallHymofsRules installed from it (source == mirror path).
// Directories are skipped, so MERGE rules installed for opaque
// directories are not removed. Whiteout entries have no
// per-rule undo in this protocol; dropping a module's HIDE_RULEs
// requires a full `clear` and re-add of the surviving modules.
func removeModuleRules(ch *kernel.Channel, mirrorPoint, moduleID string) error {
	root := filepath.Join(mirrorPoint, moduleID)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil || info.Mode()&os.ModeCharDevice != 0 {
			return nil
		}
		return ch.DelRule(path)
	})
}
