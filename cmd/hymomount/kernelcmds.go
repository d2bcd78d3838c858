// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/hymofs/hymomount/internal/cli"
	"github.com/hymofs/hymomount/internal/config"
	"github.com/hymofs/hymomount/internal/hide"
	"github.com/hymofs/hymomount/internal/storage"
)

func newListCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "list",
		Summary: "Emit the kernel rule list as JSON",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("list", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			rules, err := env.kernel.ListRules()
			if err != nil {
				return cli.KernelUnavailable("%v", err)
			}
			return cli.WriteJSON(rules)
		},
	}
}

func newClearCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "clear",
		Summary: "Clear all kernel rules",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("clear", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			if err := env.kernel.ClearAll(); err != nil {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func newHideCommand() *cli.Command {
	var params globalsOnlyParams
	list := &cli.Command{
		Name:    "list",
		Summary: "List user hide rules",
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			return cli.WriteJSON(hide.List(env.paths.userHidePath))
		},
	}
	add := &cli.Command{
		Name:    "add",
		Summary: "Add a user hide rule",
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.InvalidInput("hide add requires exactly one path argument")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			if _, err := hide.Add(env.paths.userHidePath, args[0]); err != nil {
				return cli.InvalidInput("%v", err)
			}
			return env.kernel.HideRule(args[0])
		},
	}
	remove := &cli.Command{
		Name:    "remove",
		Summary: "Remove a user hide rule",
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.InvalidInput("hide remove requires exactly one path argument")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			if _, err := hide.Remove(env.paths.userHidePath, args[0]); err != nil {
				return cli.InvalidInput("%v", err)
			}
			return nil
		},
	}
	return &cli.Command{
		Name:        "hide",
		Summary:     "User hide-rules management",
		Flags:       func() *pflag.FlagSet { return cli.FlagsFromParams("hide", &params) },
		Subcommands: []*cli.Command{list, add, remove},
	}
}

func newToggleCommand(name, summary string, apply func(env *runtimeEnv, enabled bool) error) *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams(name, &params) },
		Run: func(args []string) error {
			if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
				return cli.InvalidInput("%s requires exactly one argument: on|off", name)
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			if err := apply(env, args[0] == "on"); err != nil {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func newDebugCommand() *cli.Command {
	return newToggleCommand("debug", "Toggle the LKM debug log", func(env *runtimeEnv, enabled bool) error {
		return env.kernel.SetDebug(enabled)
	})
}

func newStealthCommand() *cli.Command {
	return newToggleCommand("stealth", "Toggle stealth mode", func(env *runtimeEnv, enabled bool) error {
		return env.kernel.SetStealth(enabled)
	})
}

func newHymofsCommand() *cli.Command {
	return newToggleCommand("hymofs", "Toggle the LKM master switch", func(env *runtimeEnv, enabled bool) error {
		return env.kernel.SetEnabled(enabled)
	})
}

func newSetUnameCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "set-uname",
		Summary: "Persist and apply a uname spoof (empty strings clear it)",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("set-uname", &params) },
		Run: func(args []string) error {
			if len(args) != 2 {
				return cli.InvalidInput("set-uname requires <release> <version>")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			env.cfg.UnameRelease, env.cfg.UnameVersion = args[0], args[1]
			if err := config.Save(env.paths.configPath, env.cfg); err != nil {
				return err
			}
			if err := env.kernel.SetUname(args[0], args[1]); err != nil {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func newSetMirrorCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "set-mirror",
		Summary: "Persist and apply a mirror path override",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("set-mirror", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.InvalidInput("set-mirror requires exactly one path argument")
			}
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			env.cfg.MirrorPath = args[0]
			if err := config.Save(env.paths.configPath, env.cfg); err != nil {
				return err
			}
			if err := env.kernel.SetMirrorPath(args[0]); err != nil {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func newRawCommand() *cli.Command {
	var params globalsOnlyParams
	run := func(verb string) func(args []string) error {
		return func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			return runRawCommand(env, verb, args)
		}
	}
	return &cli.Command{
		Name:    "raw",
		Summary: "Direct kernel rule manipulation",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("raw", &params) },
		Subcommands: []*cli.Command{
			{Name: "add", Summary: "raw add <target> <source>", Run: run("add")},
			{Name: "hide", Summary: "raw hide <path>", Run: run("hide")},
			{Name: "delete", Summary: "raw delete <source>", Run: run("delete")},
			{Name: "merge", Summary: "raw merge <target> <source>", Run: run("merge")},
			{Name: "clear", Summary: "raw clear", Run: run("clear")},
		},
	}
}

func runRawCommand(env *runtimeEnv, verb string, args []string) error {
	switch verb {
	case "add":
		if len(args) != 2 {
			return cli.InvalidInput("raw add requires <target> <source>")
		}
		return env.kernel.AddRule(args[0], args[1])
	case "hide":
		if len(args) != 1 {
			return cli.InvalidInput("raw hide requires <path>")
		}
		return env.kernel.HideRule(args[0])
	case "delete":
		if len(args) != 1 {
			return cli.InvalidInput("raw delete requires <source>")
		}
		return env.kernel.DelRule(args[0])
	case "merge":
		if len(args) != 2 {
			return cli.InvalidInput("raw merge requires <target> <source>")
		}
		return env.kernel.AddMergeRule(args[0], args[1])
	case "clear":
		return env.kernel.ClearAll()
	default:
		return fmt.Errorf("raw: unknown verb %q", verb)
	}
}

func newFixMountsCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "fix-mounts",
		Summary: "Request the kernel to reorder mount IDs",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("fix-mounts", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			if err := env.kernel.ReorderMountIDs(); err != nil {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func newCreateImageCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "create-image",
		Summary: "Create an empty ext4 image of the dynamic size formula",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("create-image", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}
			dir := env.cfg.ModuleDir
			if len(args) == 1 {
				dir = args[0]
			}
			mirrorPoint := env.cfg.TempDir
			if mirrorPoint == "" {
				mirrorPoint = filepath.Join(env.paths.base, "mirror")
			}
			size := dirSize(dir)
			cfg := *env.cfg
			cfg.FsType = config.FilesystemExt4
			if _, err := storage.Setup(&cfg, mirrorPoint, size); err != nil {
				return cli.StorageUnavailable("%v", err)
			}
			return nil
		},
	}
}
