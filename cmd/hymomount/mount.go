// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/hymofs/hymomount/internal/cli"
	"github.com/hymofs/hymomount/internal/config"
	"github.com/hymofs/hymomount/internal/dispatch"
	"github.com/hymofs/hymomount/internal/modsync"
	"github.com/hymofs/hymomount/internal/moduleinfo"
	"github.com/hymofs/hymomount/internal/mountexec"
	"github.com/hymofs/hymomount/internal/mountplan"
	"github.com/hymofs/hymomount/internal/partition"
	"github.com/hymofs/hymomount/internal/state"
	"github.com/hymofs/hymomount/internal/storage"
)

type mountParams struct {
	config.GlobalFlags
}

func newMountCommand() *cli.Command {
	var params mountParams
	return &cli.Command{
		Name:    "mount",
		Summary: "Run the full orchestration pipeline",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("mount", &params) },
		Run:     func(args []string) error { return runMount(&params, false) },
	}
}

func newReloadCommand() *cli.Command {
	var params mountParams
	return &cli.Command{
		Name:    "reload",
		Summary: "Recompute plan, resync mirror, update kernel rules; no re-mount of overlays",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("reload", &params) },
		Run:     func(args []string) error { return runMount(&params, true) },
	}
}

// runMount implements spec §4.7's dispatch followed by §4.1-§4.4's
// pipeline. reloadOnly skips step 2 of §4.4 (overlay/magic mounting),
// matching `reload`'s documented semantics.
func runMount(params *mountParams, reloadOnly bool) error {
	env, err := newEnv(&params.GlobalFlags, wasExplicit(params.ConfigPath))
	if err != nil {
		return cli.ConfigInvalid("load config: %v", err)
	}
	log := env.log
	boot := state.ReadBootCount(env.paths.bootCountPath)
	if boot > 2 {
		log.Warn("boot count exceeds threshold, manager should be disabled by the shell wrapper", "boot_count", boot)
	}

	status, version := env.kernel.CheckStatus()
	decision := dispatch.Resolve(status, version, env.cfg.IgnoreProtocolMismatch)
	if decision.MismatchMessage != "" {
		log.Warn(decision.MismatchMessage)
	}

	partitions := partition.Resolve(env.cfg.Partitions)
	modeMap := moduleinfo.LoadModeMap(env.paths.modeMapPath)
	rulesMap := moduleinfo.LoadRulesMap(env.paths.rulesMapPath)
	modules, err := moduleinfo.Scan(env.cfg.ModuleDir, modeMap, rulesMap, partitions)
	if err != nil {
		return fmt.Errorf("scan modules: %w", err)
	}
	modules = filterHotUnmounted(modules, env.paths.hotUnmountDir)

	mirrorPoint := env.cfg.TempDir
	if mirrorPoint == "" {
		mirrorPoint = filepath.Join(env.paths.base, "mirror")
	}

	hymofsUsable := decision.Path == dispatch.PathHymofs
	storageHandle, syncErr := provisionAndSync(env, modules, mirrorPoint, hymofsUsable)
	if syncErr != nil && hymofsUsable {
		down, ok := dispatch.Downshift(syncErr)
		if ok {
			log.Warn(down.MismatchMessage)
			hymofsUsable = false
			// Magic-only fallback: every participating module is
			// bind-mounted straight from its source directory.
			for _, m := range modules {
				if m.Mode != moduleinfo.ModeNone {
					m.Mode = moduleinfo.ModeMagic
				}
			}
		}
	} else if syncErr != nil {
		return cli.StorageUnavailable("%v", syncErr)
	}

	plan := mountplan.Build(mountplan.Input{
		Modules:      modules,
		MirrorRoot:   mirrorPoint,
		Partitions:   partitions,
		HymofsUsable: hymofsUsable,
	})

	executor := mountexec.NewExecutor(env.kernel, mirrorPoint)
	if hymofsUsable {
		executor.InstallHymofsRules(plan.HymofsModuleIDs, partitions)
	}
	if !reloadOnly {
		activeMounts := executeMounts(env, executor, plan, modules, partitions)
		executor.Finalize(env.cfg.EnableStealth)
		overlayModuleIDs := mountexec.OverlayModuleIDs(plan)
		rewriteDescriptions(modules, executor.Stats, plan, overlayModuleIDs)

		rs := &state.RuntimeState{
			PID:              os.Getpid(),
			StorageMode:      string(storageHandleMode(storageHandle)),
			MountPoint:       mirrorPoint,
			OverlayModuleIDs: overlayModuleIDs,
			MagicModuleIDs:   plan.MagicModuleIDs,
			HymofsModuleIDs:  plan.HymofsModuleIDs,
			ActiveMounts:     activeMounts,
			HymofsMismatch:   decision.MismatchMessage != "",
			MismatchMessage:  decision.MismatchMessage,
			NukeActive:       env.cfg.EnableNuke,
		}
		if err := state.Save(env.paths.statePath, rs); err != nil {
			log.Error("failed to persist RuntimeState", "err", err)
		}
		state.SaveStats(env.paths.statsPath, executor.Stats)
	}

	log.Info("mount complete", "path", decision.Path, "modules", len(modules))
	return nil
}

func wasExplicit(path string) bool {
	return path != "" && path != "/data/adb/hymomount/config.json"
}

func provisionAndSync(env *runtimeEnv, modules []*moduleinfo.Module, mirrorPoint string, hymofsUsable bool) (*storage.Handle, error) {
	var size int64
	for _, m := range modules {
		size += dirSize(m.SourcePath)
	}
	handle, err := storage.Setup(env.cfg, mirrorPoint, size)
	if err != nil {
		return nil, err
	}
	if _, err := modsync.Sync(modules, mirrorPoint, hymofsUsable); err != nil {
		return handle, err
	}
	return handle, nil
}

func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func filterHotUnmounted(modules []*moduleinfo.Module, sentinelDir string) []*moduleinfo.Module {
	entries, err := os.ReadDir(sentinelDir)
	if err != nil {
		return modules
	}
	skip := map[string]bool{}
	for _, e := range entries {
		skip[e.Name()] = true
	}
	var out []*moduleinfo.Module
	for _, m := range modules {
		if !skip[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func executeMounts(env *runtimeEnv, executor *mountexec.Executor, plan *mountplan.Plan, modules []*moduleinfo.Module, partitions []string) []string {
	var active []string
	for _, result := range executor.ExecuteOverlays(plan.OverlayOps) {
		if result.Err != nil {
			env.log.Error("overlay mount failed", "partition", result.Partition, "err", result.Err)
			continue
		}
		active = append(active, result.Partition)
	}

	magicModules := modulesByID(modules, plan.MagicModuleIDs)
	if len(magicModules) > 0 {
		if err := executor.ExecuteMagicMounts(magicModules, partitions); err != nil {
			env.log.Error("magic mount failed", "err", err)
		} else {
			for _, p := range partitions {
				active = append(active, "/"+p)
			}
		}
	}
	return active
}

func modulesByID(modules []*moduleinfo.Module, ids []string) []*moduleinfo.Module {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	var out []*moduleinfo.Module
	for _, m := range modules {
		if set[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func storageHandleMode(h *storage.Handle) storage.Mode {
	if h == nil {
		return storage.ModeMagicOnly
	}
	return h.Mode
}

// rewriteDescriptions rewrites every module's module.prop description
// with its mount outcome and per-strategy content counts (spec §7,
// "rewritten after every mount"). A module's stats are attributed to
// the strategy plan actually resolved for it, not assumed from the
// presence of stats alone: hymofs-set and magic-set modules are both
// populated by e.Stats, and overlay-set modules only get an entry at
// all once mountexec.recordOverlayStats runs.
func rewriteDescriptions(modules []*moduleinfo.Module, stats state.MountStats, plan *mountplan.Plan, overlayModuleIDs []string) {
	hymofs := stringSet(plan.HymofsModuleIDs)
	magic := stringSet(plan.MagicModuleIDs)
	overlay := stringSet(overlayModuleIDs)

	for _, m := range modules {
		s, ok := stats[m.ID]
		if !ok {
			continue
		}
		total := s.Files + s.Symlinks + s.Whiteouts + s.Dirs
		counts := map[string]int{}
		if total > 0 {
			switch {
			case hymofs[m.ID]:
				counts["hymofs"] = total
			case magic[m.ID]:
				counts["magic"] = total
			case overlay[m.ID]:
				counts["overlay"] = total
			}
		}
		rewritten := moduleinfo.RewriteDescription(m.Description, s.Failures == 0, counts)
		m.Description = rewritten
		_ = writeDescriptionBestEffort(m, rewritten)
	}
}

func stringSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func writeDescriptionBestEffort(m *moduleinfo.Module, description string) error {
	// module.prop's description key is rewritten in place; any other
	// key is left untouched. Best effort: a write failure here never
	// fails the mount (spec §7 lists only RuntimeState-save failure as
	// a qualified fatal case for `mount`).
	raw, err := os.ReadFile(m.PropPath())
	if err != nil {
		return err
	}
	return os.WriteFile(m.PropPath(), rewritePropDescription(raw, description), 0644)
}

// rewritePropDescription replaces the description= line in a
// module.prop byte buffer, appending one if absent.
func rewritePropDescription(raw []byte, description string) []byte {
	lines := bytes.Split(raw, []byte("\n"))
	found := false
	for i, line := range lines {
		if bytes.HasPrefix(line, []byte("description=")) {
			lines[i] = []byte("description=" + description)
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, []byte("description="+description))
	}
	return bytes.Join(lines, []byte("\n"))
}
