// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package mountexec performs the mount plan built by
// [github.com/hymofs/hymomount/internal/mountplan]: HymoFS rule
// installation, overlay mounts with child-mount preservation, magic
// mounts via a flat-arena merged tree, and post-processing (spec §4.4).
package mountexec

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/hymofs/hymomount/internal/kernel"
	"github.com/hymofs/hymomount/internal/mountinfo"
	"github.com/hymofs/hymomount/internal/mountplan"
	"github.com/hymofs/hymomount/internal/partition"
	"github.com/hymofs/hymomount/internal/state"
)

// Stats accumulates the per-mount counters spec §4.4 tracks, keyed by
// module ID.
type Stats = state.ModuleStats

// Executor performs mount operations against a real kernel.Channel.
// Fatal errors are isolated per-module, never aborting the whole plan,
// per spec §4.4's header note.
type Executor struct {
	Kernel     *kernel.Channel
	MirrorRoot string
	Stats      state.MountStats
	sys        Syscaller
}

// NewExecutor returns an Executor ready to run a plan against the
// real kernel and a real Syscaller.
func NewExecutor(k *kernel.Channel, mirrorRoot string) *Executor {
	return NewExecutorWithSyscaller(k, mirrorRoot, realSyscaller{})
}

// NewExecutorWithSyscaller returns an Executor that issues mount/
// umount/mknod calls through sys instead of the real kernel syscall
// table, letting tests exercise the mount logic in mountexec.go and
// magic.go against a recording fake.
func NewExecutorWithSyscaller(k *kernel.Channel, mirrorRoot string, sys Syscaller) *Executor {
	return &Executor{Kernel: k, MirrorRoot: mirrorRoot, Stats: state.MountStats{}, sys: sys}
}

func (e *Executor) statsFor(moduleID string) *Stats {
	s, ok := e.Stats[moduleID]
	if !ok {
		s = &Stats{}
		e.Stats[moduleID] = s
	}
	return s
}

// InstallHymofsRules walks every HymoFS-set module's staged content
// and installs the corresponding kernel rules (spec §4.4 step 1).
// Kernel rule installs are idempotent; installing duplicates returns
// success, which this client relies on the LKM to guarantee.
func (e *Executor) InstallHymofsRules(moduleIDs []string, partitions []string) error {
	for _, id := range moduleIDs {
		stats := e.statsFor(id)
		for _, p := range partitions {
			root := filepath.Join(e.MirrorRoot, id, p)
			if _, err := os.Stat(root); err != nil {
				continue
			}
			if err := e.walkHymofsTree(id, "/"+p, root, stats); err != nil {
				stats.Failures++
			}
		}
	}
	return nil
}

// walkHymofsTree descends root, translating each entry into an
// ADD_RULE, HIDE_RULE, or MERGE_RULE per spec §4.4 step 1's table.
func (e *Executor) walkHymofsTree(moduleID, targetPrefix, root string, stats *Stats) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			stats.Failures++
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		target := targetPrefix
		if rel != "." {
			target = targetPrefix + "/" + filepath.ToSlash(rel)
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			stats.Failures++
			return nil
		}

		switch {
		case isWhiteout(info):
			if err := e.Kernel.HideRule(target); err != nil {
				stats.Failures++
			} else {
				stats.Whiteouts++
			}
		case d.IsDir():
			if isOpaqueMarker(path) {
				if err := e.Kernel.AddMergeRule(target, path); err != nil {
					stats.Failures++
				} else {
					stats.Dirs++
				}
			}
			// plain directories are descended into, not ruled directly
		case info.Mode()&os.ModeSymlink != 0:
			if err := e.Kernel.AddRule(target, path); err != nil {
				stats.Failures++
			} else {
				stats.Symlinks++
			}
		default:
			if err := e.Kernel.AddRule(target, path); err != nil {
				stats.Failures++
			} else {
				stats.Files++
			}
		}
		return nil
	})
}

// isWhiteout reports the char-device-rdev-0 convention.
func isWhiteout(info os.FileInfo) bool {
	sys, ok := info.Sys().(*unix.Stat_t)
	if !ok {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0 && sys.Rdev == 0
}

// isOpaqueMarker reports whether dir carries the ".replace" sentinel
// or the trusted.overlay.opaque=y xattr (spec §4.4 step 1, §8
// boundary behaviour).
func isOpaqueMarker(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".replace")); err == nil {
		return true
	}
	size, err := unix.Lgetxattr(dir, "trusted.overlay.opaque", nil)
	if err != nil || size == 0 {
		return false
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(dir, "trusted.overlay.opaque", buf)
	return err == nil && string(buf[:n]) == "y"
}

// OverlayResult reports how a single partition's overlay op fared.
type OverlayResult struct {
	Partition string
	Err       error
}

// ExecuteOverlays mounts each op's lowerdirs as a read-only overlay
// over the live partition, preserving pre-existing child mounts per
// spec §4.4 step 2.
func (e *Executor) ExecuteOverlays(ops []mountplan.OverlayOp) []OverlayResult {
	var results []OverlayResult
	for _, op := range ops {
		err := e.executeOneOverlay(op)
		results = append(results, OverlayResult{Partition: op.TargetPartition, Err: err})
	}
	return results
}

func (e *Executor) executeOneOverlay(op mountplan.OverlayOp) error {
	snapshot, err := mountinfo.Snapshot()
	if err != nil {
		return fmt.Errorf("mountexec: snapshot mountinfo: %w", err)
	}
	children := mountinfo.ChildrenUnder(snapshot, op.TargetPartition)

	options := buildOverlayOptions(op)
	if err := e.sys.MountOverlay(op.TargetPartition, options); err != nil {
		for _, lower := range op.LowerDirs {
			if id := moduleIDFromLowerDir(lower); id != "" {
				e.statsFor(id).Failures++
			}
		}
		return fmt.Errorf("mountexec: overlay mount %s: %w", op.TargetPartition, err)
	}
	e.recordOverlayStats(op)

	for _, child := range children {
		if err := e.restoreChildMount(op, child); err != nil {
			// a single child-mount restoration failure is logged by the
			// caller via stats, not fatal to the whole overlay op.
			continue
		}
	}
	e.restoreSymlinkPartitions(op.TargetPartition)
	return nil
}

// recordOverlayStats tallies each lowerdir's content into its module's
// Stats entry so overlay-set modules get a module.prop description
// rewrite too (spec §7's "rewritten after every mount"), not just
// HymoFS- and magic-set ones.
func (e *Executor) recordOverlayStats(op mountplan.OverlayOp) {
	for _, lower := range op.LowerDirs {
		id := moduleIDFromLowerDir(lower)
		if id == "" {
			continue
		}
		stats := e.statsFor(id)
		filepath.WalkDir(lower, func(path string, d fs.DirEntry, err error) error {
			if err != nil || path == lower {
				return nil
			}
			info, infoErr := d.Info()
			if infoErr != nil {
				stats.Failures++
				return nil
			}
			switch {
			case isWhiteout(info):
				stats.Whiteouts++
			case d.IsDir():
				stats.Dirs++
			case info.Mode()&os.ModeSymlink != 0:
				stats.Symlinks++
			default:
				stats.Files++
			}
			return nil
		})
	}
}

// buildOverlayOptions renders the legacy mount(2) option string
// ("lowerdir=a:b:c") used as a fallback when the new mount API is
// unavailable (spec §4.4 step 2).
func buildOverlayOptions(op mountplan.OverlayOp) string {
	lowers := append(append([]string{}, op.LowerDirs...), op.TargetPartition)
	return "lowerdir=" + strings.Join(lowers, ":")
}

// restoreChildMount restores a preexisting child mount the overlay
// mount just covered up. If none of op's lowerdirs have content under
// the child's relative path, it is simply bind-mounted back in place
// (spec §4.4 step 2's "no content beneath that child" branch).
// Otherwise the child is itself overlaid with the matching lowerdir
// subtrees on top, so module content meant to appear beneath it (e.g.
// files under /system/vendor) isn't shadowed by the plain restore.
func (e *Executor) restoreChildMount(op mountplan.OverlayOp, child mountinfo.Entry) error {
	rel, err := filepath.Rel(op.TargetPartition, child.MountPoint)
	if err != nil {
		rel = ""
	}

	var childLowers []string
	for _, lower := range op.LowerDirs {
		candidate := filepath.Join(lower, rel)
		if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() {
			childLowers = append(childLowers, candidate)
		}
	}
	if len(childLowers) == 0 {
		return e.sys.Mount(child.MountPoint, child.MountPoint, "", unix.MS_BIND|unix.MS_REC, "")
	}

	options := "lowerdir=" + strings.Join(append(childLowers, child.MountPoint), ":")
	return e.sys.MountOverlay(child.MountPoint, options)
}

// restoreSymlinkPartitions bind-mounts the root partition over any
// built-in subpartition whose original was a symlink but is now a
// plain directory after the overlay mount (e.g. /system/vendor), spec
// §4.4 step 2's final restoration step.
func (e *Executor) restoreSymlinkPartitions(targetPartition string) {
	for _, p := range partition.Builtins {
		sub := filepath.Join(targetPartition, p)
		info, err := os.Lstat(sub)
		if err != nil || info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		root := "/" + p
		if rootInfo, err := os.Stat(root); err == nil && rootInfo.IsDir() {
			e.sys.Mount(root, sub, "", unix.MS_BIND, "")
		}
	}
}

// Finalize performs post-processing: mount-ID reordering when stealth
// is enabled (spec §4.4 step 4). It does not persist RuntimeState; the
// caller saves that itself.
func (e *Executor) Finalize(enableStealth bool) error {
	if enableStealth {
		if err := e.Kernel.ReorderMountIDs(); err != nil {
			return fmt.Errorf("mountexec: reorder mount ids: %w", err)
		}
	}
	return nil
}
