// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/hymofs/hymomount/internal/cli"
	"github.com/hymofs/hymomount/internal/process"
)

func main() {
	if err := run(); err != nil {
		// cli.Error and cli.ExitError both implement ExitCode(); every
		// documented failure in spec §7 exits 1, but ExitError skips the
		// redundant "error:" line for commands that already printed.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			if _, isExitError := err.(*cli.ExitError); !isExitError {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}

func root() *cli.Command {
	return &cli.Command{
		Name:    "hymomount",
		Summary: "Root-module mount orchestration core",
		Subcommands: []*cli.Command{
			newMountCommand(),
			newReloadCommand(),
			newShowConfigCommand(),
			newGenConfigCommand(),
			newStorageCommand(),
			newModulesCommand(),
			newCheckConflictsCommand(),
			newVersionCommand(),
			newSyncPartitionsCommand(),
			newListCommand(),
			newClearCommand(),
			newHideCommand(),
			newDebugCommand(),
			newStealthCommand(),
			newHymofsCommand(),
			newSetUnameCommand(),
			newSetMirrorCommand(),
			newRawCommand(),
			newFixMountsCommand(),
			newCreateImageCommand(),
			newSetModeCommand(),
			newAddRuleCommand(),
			newRemoveRuleCommand(),
			newAddCommand(),
			newDeleteCommand(),
			newHotMountCommand(),
			newHotUnmountCommand(),
			newLoadModuleCommand(),
		},
	}
}
