// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/pflag"

	"github.com/hymofs/hymomount/internal/cli"
	"github.com/hymofs/hymomount/internal/kernel"
	"github.com/hymofs/hymomount/internal/kmodasset"
)

// loadModuleResult is the JSON document load-module emits, reporting
// what it found and did.
type loadModuleResult struct {
	KMI        string        `json:"kmi"`
	AlreadyUp  bool          `json:"already_up"`
	Installed  bool          `json:"installed"`
	StatusPre  kernel.Status `json:"status_before"`
	StatusPost kernel.Status `json:"status_after"`
}

// newLoadModuleCommand implements spec §9's "Embedded LKM assets"
// design note end to end: detect the running kernel's KMI, decompress
// the matching embedded .ko, and insmod it when the LKM isn't already
// live.
func newLoadModuleCommand() *cli.Command {
	var params globalsOnlyParams
	return &cli.Command{
		Name:    "load-module",
		Summary: "Install the embedded HymoFS kernel module for the running kernel, if needed",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("load-module", &params) },
		Run: func(args []string) error {
			env, err := newEnv(&params.GlobalFlags, false)
			if err != nil {
				return err
			}

			statusPre, _ := env.kernel.CheckStatus()
			if statusPre == kernel.StatusAvailable {
				return cli.WriteJSON(loadModuleResult{AlreadyUp: true, StatusPre: statusPre, StatusPost: statusPre})
			}

			kmi, err := kmodasset.DetectKMI()
			if err != nil {
				return cli.KernelUnavailable("%v", err)
			}

			registry, err := loadEmbeddedRegistry()
			if err != nil {
				return cli.KernelUnavailable("load embedded module registry: %v", err)
			}
			if !registry.Has(kmi) {
				return cli.KernelUnavailable("no embedded HymoFS module for KMI %q", kmi)
			}

			if err := registry.DecompressToFile(kmi, env.paths.kmodPath); err != nil {
				return cli.KernelUnavailable("%v", err)
			}
			if err := insmod(env.paths.kmodPath); err != nil {
				return cli.KernelUnavailable("insmod %s: %v", env.paths.kmodPath, err)
			}

			env.kernel.ForgetStatus()
			statusPost, _ := env.kernel.CheckStatus()
			return cli.WriteJSON(loadModuleResult{
				KMI:        kmi,
				Installed:  true,
				StatusPre:  statusPre,
				StatusPost: statusPost,
			})
		},
	}
}

// insmod loads a kernel module via the insmod binary rather than the
// finit_module syscall directly, matching spec §10's wrapper-driven
// install convention (the shell wrappers already own HYMO_SYSCALL_NR
// and other insmod parameters).
func insmod(path string) error {
	cmd := exec.Command("insmod", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}
