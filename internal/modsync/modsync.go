// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package modsync replicates active module content into the backing
// store mirror, propagating SELinux labels from the live root and
// pruning stale entries (spec §4.2 "Content sync").
package modsync

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/hymofs/hymomount/internal/contenthash"
	"github.com/hymofs/hymomount/internal/moduleinfo"
	"github.com/hymofs/hymomount/internal/xattrutil"
)

// reservedDirNames are never pruned from the mirror even if their
// name is not an active module ID (spec §4.2 step 4).
var reservedDirNames = map[string]bool{
	"lost+found":       true,
	".overlay_staging": true,
}

// Result summarizes one Sync invocation. A module whose copy, label
// propagation, or segregation fails is recorded in Failed and the
// remaining modules are still synced. Within one module, the first
// entry that fails to copy stops that module's copy; failures are
// recorded per module, not counted per file.
type Result struct {
	Synced  []string
	Skipped []string
	Failed  map[string]error
}

// Sync replicates every module in modules into mirrorRoot, keyed by
// module ID, and prunes stale entries. hymofsUsable decides whether
// "auto"-mode modules count as HymoFS-set for segregation purposes
// (spec §4.3 step 1's mode resolution).
func Sync(modules []*moduleinfo.Module, mirrorRoot string, hymofsUsable bool) (*Result, error) {
	result := &Result{Failed: map[string]error{}}

	activeIDs := map[string]bool{}
	for _, m := range modules {
		activeIDs[m.ID] = true
	}

	for _, m := range modules {
		dst := filepath.Join(mirrorRoot, m.ID)
		if identical, _ := moduleUnchanged(m, dst); identical {
			result.Skipped = append(result.Skipped, m.ID)
			continue
		}
		if err := replicateModule(m.SourcePath, dst); err != nil {
			result.Failed[m.ID] = err
			continue
		}
		if err := propagateLabels(dst); err != nil {
			result.Failed[m.ID] = err
		}
		if err := segregateOverrides(m, dst, mirrorRoot, hymofsUsable); err != nil {
			result.Failed[m.ID] = err
		}
		result.Synced = append(result.Synced, m.ID)
	}

	if err := prune(mirrorRoot, activeIDs); err != nil {
		return result, err
	}
	return result, nil
}

// segregateOverrides moves any path a per-module rule pins away from
// the HymoFS strategy out of dst and into a `.overlay_staging/<id>/`
// sibling tree (spec §4.3's closing paragraph), so the HymoFS rule
// walk over dst (mountexec.InstallHymofsRules) never sees it. Only
// HymoFS-set modules need this: overlay- and magic-set modules are
// never walked wholesale as a HymoFS rule source, so their mirror
// copy is left untouched regardless of rules.
func segregateOverrides(m *moduleinfo.Module, dst, mirrorRoot string, hymofsUsable bool) error {
	if effectiveMode(m.Mode, hymofsUsable) != moduleinfo.ModeHymofs {
		return nil
	}
	for _, rule := range m.Rules {
		if rule.Mode == moduleinfo.ModeHymofs || rule.Mode == moduleinfo.ModeAuto {
			continue
		}
		src := filepath.Join(dst, rule.Path)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		staged := filepath.Join(mirrorRoot, ".overlay_staging", m.ID, rule.Path)
		if err := os.MkdirAll(filepath.Dir(staged), 0755); err != nil {
			return fmt.Errorf("modsync: stage dir for %s: %w", rule.Path, err)
		}
		os.RemoveAll(staged)
		if err := os.Rename(src, staged); err != nil {
			return fmt.Errorf("modsync: segregate %s: %w", rule.Path, err)
		}
	}
	return nil
}

// effectiveMode resolves "auto" the same way mountplan.Build does.
func effectiveMode(mode moduleinfo.Mode, hymofsUsable bool) moduleinfo.Mode {
	if mode != moduleinfo.ModeAuto {
		return mode
	}
	if hymofsUsable {
		return moduleinfo.ModeHymofs
	}
	return moduleinfo.ModeOverlay
}

// moduleUnchanged reports whether a module's destination already
// exists and its module.prop is byte-identical to the source (spec
// §4.2 step 1).
func moduleUnchanged(m *moduleinfo.Module, dst string) (bool, error) {
	srcProp := m.PropPath()
	dstProp := filepath.Join(dst, "module.prop")

	if _, err := os.Stat(dst); err != nil {
		return false, nil
	}
	if _, err := os.Stat(srcProp); err != nil {
		return false, nil
	}
	if _, err := os.Stat(dstProp); err != nil {
		return false, nil
	}
	return contenthash.SameContent(srcProp, dstProp)
}

// replicateModule removes dst (recursive delete then recreate, "atomic-ish")
// and copies src into it preserving mode, owner, symlink targets, and
// extended attributes (spec §4.2 step 2).
func replicateModule(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("modsync: remove stale %s: %w", dst, err)
	}
	return copyTree(src, dst)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dst, rel)

		info, statErr := d.Info()
		if statErr != nil {
			return statErr
		}

		switch {
		case d.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Symlink(linkTarget, target); err != nil {
				return err
			}
		case isWhiteout(info):
			if err := unix.Mknod(target, unix.S_IFCHR|0000, 0); err != nil {
				return fmt.Errorf("modsync: mknod whiteout %s: %w", target, err)
			}
		default:
			if err := copyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
		}

		copyOwnerAndXattrs(path, target)
		return nil
	})
}

// isWhiteout reports whether info describes the char-device-rdev-0
// whiteout convention (spec §3 Glossary).
func isWhiteout(info os.FileInfo) bool {
	sys, ok := info.Sys().(*unix.Stat_t)
	if !ok {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0 && sys.Rdev == 0
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = out.ReadFrom(in)
	return err
}

func copyOwnerAndXattrs(src, dst string) {
	if info, err := os.Lstat(src); err == nil {
		if sys, ok := info.Sys().(*unix.Stat_t); ok {
			unix.Lchown(dst, int(sys.Uid), int(sys.Gid))
		}
	}
	listXattrAndCopy(src, dst)
}

func listXattrAndCopy(src, dst string) {
	size, err := unix.Llistxattr(src, nil)
	if err != nil || size == 0 {
		return
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(src, buf)
	if err != nil {
		return
	}
	for _, name := range splitNulTerminated(buf[:n]) {
		if value, err := xattrutil.Get(src, name); err == nil && value != "" {
			xattrutil.Set(dst, name, value)
		}
	}
}

func splitNulTerminated(buf []byte) []string {
	var out []string
	for _, part := range strings.Split(string(buf), "\x00") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// propagateLabels walks dst and copies the SELinux label from the
// corresponding live-root path for every entry (spec §4.2 step 3). For
// the reserved upperdir/workdir helper directories, the parent's label
// is copied instead.
func propagateLabels(mirrorModuleDir string) error {
	return filepath.WalkDir(mirrorModuleDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(mirrorModuleDir, path)
		if relErr != nil || rel == "." {
			return nil
		}
		// rel is <partition>/<relative-under-partition>; the live
		// root oracle is "/" + rel.
		base := filepath.Base(path)
		if base == "upperdir" || base == "workdir" {
			return xattrutil.PropagateFromLiveRoot(filepath.Dir(rel), path)
		}
		return xattrutil.PropagateFromLiveRoot(rel, path)
	})
}

// prune removes mirror entries whose module ID is not in activeIDs,
// excluding reserved directory names (spec §4.2 step 4).
func prune(mirrorRoot string, activeIDs map[string]bool) error {
	entries, err := os.ReadDir(mirrorRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if reservedDirNames[name] || activeIDs[name] {
			continue
		}
		os.RemoveAll(filepath.Join(mirrorRoot, name))
	}
	return nil
}
