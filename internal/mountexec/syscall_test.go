// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package mountexec

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hymofs/hymomount/internal/arena"
	"github.com/hymofs/hymomount/internal/mountinfo"
	"github.com/hymofs/hymomount/internal/mountplan"
)

// fakeSyscall records every mount/unmount/mknod/overlay call it's
// asked to perform instead of touching the host's mount namespace,
// mirroring kernel_test.go's fakeTransport pattern applied to the
// syscall boundary.
type fakeSyscall struct {
	mounts   []mountCall
	unmounts []unmountCall
	mknods   []string
	overlays []overlayCall
	failNext bool
}

type mountCall struct {
	source, target, fstype, data string
	flags                        uintptr
}

type unmountCall struct {
	target string
	flags  int
}

type overlayCall struct {
	target, options string
}

func (f *fakeSyscall) Mount(source, target, fstype string, flags uintptr, data string) error {
	f.mounts = append(f.mounts, mountCall{source, target, fstype, data, flags})
	return nil
}

func (f *fakeSyscall) Unmount(target string, flags int) error {
	f.unmounts = append(f.unmounts, unmountCall{target, flags})
	return nil
}

func (f *fakeSyscall) Mknod(path string, mode uint32, dev int) error {
	f.mknods = append(f.mknods, path)
	return nil
}

func (f *fakeSyscall) MountOverlay(target, options string) error {
	f.overlays = append(f.overlays, overlayCall{target, options})
	if f.failNext {
		return fmt.Errorf("fakeSyscall: forced overlay mount failure")
	}
	return nil
}

func mustMkdirAllT(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func mustWriteFileT(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestExecuteOverlaysMountsEachOpAndRecordsStats(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "system")
	lower := filepath.Join(root, "mod", "system")
	mustMkdirAllT(t, lower)
	mustWriteFileT(t, filepath.Join(lower, "a.txt"), "x")
	mustMkdirAllT(t, target)

	sys := &fakeSyscall{}
	e := NewExecutorWithSyscaller(nil, root, sys)
	results := e.ExecuteOverlays([]mountplan.OverlayOp{
		{TargetPartition: target, LowerDirs: []string{lower}},
	})

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v, want one success", results)
	}
	if len(sys.overlays) != 1 || sys.overlays[0].target != target {
		t.Errorf("overlays = %+v, want one call against %q", sys.overlays, target)
	}
	if got := e.statsFor("mod").Files; got != 1 {
		t.Errorf("Files = %d, want 1", got)
	}
}

func TestExecuteOverlaysRecordsFailureOnMountError(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "system")
	lower := filepath.Join(root, "mod", "system")
	mustMkdirAllT(t, lower)
	mustMkdirAllT(t, target)

	sys := &fakeSyscall{failNext: true}
	e := NewExecutorWithSyscaller(nil, root, sys)
	results := e.ExecuteOverlays([]mountplan.OverlayOp{
		{TargetPartition: target, LowerDirs: []string{lower}},
	})

	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("results = %+v, want one failure", results)
	}
	if got := e.statsFor("mod").Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestRestoreChildMountBindsBackWhenNoContentBeneath(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "system")
	mustMkdirAllT(t, target)

	sys := &fakeSyscall{}
	e := NewExecutorWithSyscaller(nil, root, sys)
	child := mountinfo.Entry{MountPoint: filepath.Join(target, "vendor")}

	if err := e.restoreChildMount(mountplan.OverlayOp{TargetPartition: target}, child); err != nil {
		t.Fatal(err)
	}
	if len(sys.mounts) != 1 || sys.mounts[0].source != child.MountPoint {
		t.Errorf("mounts = %+v, want one bind-mount of %q", sys.mounts, child.MountPoint)
	}
	if len(sys.overlays) != 0 {
		t.Errorf("overlays = %+v, want none (no lowerdir content beneath child)", sys.overlays)
	}
}

func TestRestoreChildMountOverlaysWhenLowerHasContentBeneath(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "system")
	lower := filepath.Join(root, "mod", "system")
	mustMkdirAllT(t, filepath.Join(lower, "vendor"))
	mustMkdirAllT(t, target)

	sys := &fakeSyscall{}
	e := NewExecutorWithSyscaller(nil, root, sys)
	child := mountinfo.Entry{MountPoint: filepath.Join(target, "vendor")}

	if err := e.restoreChildMount(mountplan.OverlayOp{TargetPartition: target, LowerDirs: []string{lower}}, child); err != nil {
		t.Fatal(err)
	}
	if len(sys.overlays) != 1 {
		t.Errorf("overlays = %+v, want one overlay mount over the child", sys.overlays)
	}
	if len(sys.mounts) != 0 {
		t.Errorf("mounts = %+v, want no plain bind-mount", sys.mounts)
	}
}

func TestMaterializeArenaCreatesWhiteoutAndBindMountsFile(t *testing.T) {
	root := t.TempDir()
	srcFile := filepath.Join(root, "src", "keep.txt")
	mustMkdirAllT(t, filepath.Dir(srcFile))
	mustWriteFileT(t, srcFile, "x")

	a := arena.New()
	a.Insert(a.Root(), "keep.txt", arena.KindFile, srcFile, "mod")
	a.Insert(a.Root(), "gone.txt", arena.KindWhiteout, "", "mod")

	target := filepath.Join(root, "out")

	sys := &fakeSyscall{}
	e := NewExecutorWithSyscaller(nil, root, sys)
	if err := e.materializeArena(a, target); err != nil {
		t.Fatal(err)
	}
	if len(sys.mknods) != 1 {
		t.Errorf("mknods = %v, want 1 whiteout", sys.mknods)
	}
	foundFileBind := false
	for _, m := range sys.mounts {
		if m.source == srcFile {
			foundFileBind = true
		}
	}
	if !foundFileBind {
		t.Errorf("mounts = %+v, want a bind-mount sourced from %q", sys.mounts, srcFile)
	}
}

func TestMoveMagicTreeSelfBindsThenMoves(t *testing.T) {
	from := "/tmp/hymomount-test-scratch/system"
	to := "/system"

	sys := &fakeSyscall{}
	e := NewExecutorWithSyscaller(nil, "/mirror", sys)
	if err := e.moveMagicTree(from, to); err != nil {
		t.Fatal(err)
	}
	if len(sys.mounts) != 2 {
		t.Fatalf("mounts = %+v, want 2 (self-bind then move)", sys.mounts)
	}
	if sys.mounts[0].source != from || sys.mounts[0].target != from {
		t.Errorf("self-bind = %+v, want source==target==%q", sys.mounts[0], from)
	}
	if sys.mounts[1].source != from || sys.mounts[1].target != to {
		t.Errorf("move = %+v, want %q -> %q", sys.mounts[1], from, to)
	}
}
