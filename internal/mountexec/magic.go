// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package mountexec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/hymofs/hymomount/internal/arena"
	"github.com/hymofs/hymomount/internal/moduleinfo"
	"github.com/hymofs/hymomount/internal/mountplan"
	"github.com/hymofs/hymomount/internal/partition"
)

// ExecuteMagicMounts builds the flat-arena merged tree for the magic
// mount set, materializes it under a fresh tmpfs scratch directory, and
// MS_MOVEs it into place partition by partition (spec §4.4 step 3).
// Each module's files are bind-mounted individually onto a tmpfs
// skeleton so that no partition's inode table is ever modified directly.
func (e *Executor) ExecuteMagicMounts(modules []*moduleinfo.Module, partitions []string) error {
	scratch, err := e.newScratchDir()
	if err != nil {
		return fmt.Errorf("mountexec: magic scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := e.sys.Mount("tmpfs", scratch, "tmpfs", 0, "mode=0755"); err != nil {
		return fmt.Errorf("mountexec: mount scratch tmpfs: %w", err)
	}
	defer e.sys.Unmount(scratch, unix.MNT_DETACH)

	var firstErr error
	for _, p := range partitions {
		a := arena.New()
		for _, m := range modules {
			stats := e.statsFor(m.ID)
			srcPartition := filepath.Join(m.SourcePath, p)
			if _, statErr := os.Stat(srcPartition); statErr != nil {
				continue
			}
			insertModuleTree(a, m, srcPartition, stats)
		}
		if a.Len() <= 1 {
			continue // nothing for this partition
		}

		attach := partition.AttachmentTarget(p)
		mirrorUntouchedSiblings(a, a.Root(), attach)

		target := filepath.Join(scratch, p)
		if err := e.materializeArena(a, target); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mountexec: materialize magic tree for %s: %w", p, err)
			}
			continue
		}
		if err := e.moveMagicTree(target, attach); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mountexec: move magic tree %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// mirrorUntouchedSiblings walks the live directory the magic tree is
// about to replace and inserts a bind-mount node for every entry no
// module claimed, so MS_MOVE doesn't make untouched originals vanish
// (spec §4.4 step 3's "mirror" requirement). Entries a module already
// placed win outright; directories a module only partially populated
// are recursed into so their own untouched children are mirrored too.
func mirrorUntouchedSiblings(a *arena.Arena, parent arena.Handle, realDir string) {
	entries, err := os.ReadDir(realDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		realPath := filepath.Join(realDir, name)

		if existing, ok := a.Child(parent, name); ok {
			if node := a.Node(existing); node.Kind == arena.KindDir || node.Kind == arena.KindOpaqueDir {
				mirrorUntouchedSiblings(a, existing, realPath)
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		switch {
		case entry.IsDir():
			// No module touched anything under this directory, so the
			// whole subtree can be bind-mounted as one unit instead of
			// being walked entry by entry.
			dirHandle := a.EnsureDir(parent, name)
			a.Node(dirHandle).SourcePath = realPath
		case info.Mode()&os.ModeSymlink != 0:
			a.Insert(parent, name, arena.KindSymlink, realPath, "")
		default:
			a.Insert(parent, name, arena.KindFile, realPath, "")
		}
	}
}

// newScratchDir picks a collision-free staging directory name, using a
// random UUID rather than a PID- or timestamp-derived name since
// multiple hot-mount invocations can race during boot.
func (e *Executor) newScratchDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "hymomount-magic-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// insertModuleTree walks one module's partition content into the
// shared arena, resolving per-path rule overrides via
// mountplan.ResolveMode so a module mixing magic-mode files with
// per-path hymofs/overlay overrides is still placed correctly.
func insertModuleTree(a *arena.Arena, m *moduleinfo.Module, srcRoot string, stats *Stats) {
	entries, err := os.ReadDir(srcRoot)
	if err != nil {
		return
	}
	walkInto(a, a.Root(), m, srcRoot, "/", entries, stats)
}

func walkInto(a *arena.Arena, parent arena.Handle, m *moduleinfo.Module, srcDir, relPath string, entries []os.DirEntry, stats *Stats) {
	for _, entry := range entries {
		childPath := relPath + entry.Name()
		if mountplan.ResolveMode(m, childPath) != moduleinfo.ModeMagic {
			continue // per-path override steered this entry to another strategy
		}

		srcPath := filepath.Join(srcDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			stats.Failures++
			continue
		}

		if entry.IsDir() {
			dirHandle := a.EnsureDir(parent, entry.Name())
			sub, err := os.ReadDir(srcPath)
			if err != nil {
				stats.Failures++
				continue
			}
			walkInto(a, dirHandle, m, srcPath, childPath+"/", sub, stats)
			stats.Dirs++
			continue
		}

		kind := arena.KindFile
		if info.Mode()&os.ModeSymlink != 0 {
			kind = arena.KindSymlink
		}
		if isWhiteout(info) {
			kind = arena.KindWhiteout
		}
		if _, ok := a.Insert(parent, entry.Name(), kind, srcPath, m.ID); ok {
			switch kind {
			case arena.KindSymlink:
				stats.Symlinks++
			case arena.KindWhiteout:
				stats.Whiteouts++
			default:
				stats.Files++
			}
		}
	}
}

// materializeArena renders the arena as real directories, bind mounts
// (files and mirrored untouched subtrees), recreated symlinks, and
// whiteout char devices under target.
func (e *Executor) materializeArena(a *arena.Arena, target string) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}
	var walkErr error
	a.Walk(a.Root(), "", func(h arena.Handle, relPath string) {
		if walkErr != nil {
			return
		}
		if relPath == "" {
			return
		}
		dst := filepath.Join(target, relPath)
		node := a.Node(h)
		switch node.Kind {
		case arena.KindDir, arena.KindOpaqueDir:
			if walkErr = os.MkdirAll(dst, 0755); walkErr != nil {
				return
			}
			if node.SourcePath != "" {
				// A whole untouched subtree mirrored by
				// mirrorUntouchedSiblings: bind the real directory in
				// one shot instead of descending into it (its children
				// were never inserted into the arena).
				walkErr = e.sys.Mount(node.SourcePath, dst, "", unix.MS_BIND|unix.MS_REC, "")
			}
		case arena.KindWhiteout:
			walkErr = e.sys.Mknod(dst, unix.S_IFCHR|0000, 0)
		case arena.KindSymlink:
			walkErr = bindMountSymlinkTarget(node.SourcePath, dst)
		default:
			if _, err := os.Create(dst); err != nil {
				walkErr = err
				return
			}
			walkErr = e.sys.Mount(node.SourcePath, dst, "", unix.MS_BIND, "")
		}
	})
	return walkErr
}

// bindMountSymlinkTarget recreates the symlink src at dst with the same
// target. The target is copied as is; it is not checked against the
// source module's own tree.
func bindMountSymlinkTarget(src, dst string) error {
	linkTarget, err := os.Readlink(src)
	if err != nil {
		return err
	}
	return os.Symlink(linkTarget, dst)
}

// moveMagicTree atomically swaps the materialized scratch tree into
// place with MS_MOVE. MS_MOVE requires its source to already be a
// mountpoint, so from is first self-bind-mounted to turn the plain
// scratch directory into one.
func (e *Executor) moveMagicTree(from, to string) error {
	if err := e.sys.Mount(from, from, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("self-bind scratch tree: %w", err)
	}
	return e.sys.Mount(from, to, "", unix.MS_MOVE, "")
}
