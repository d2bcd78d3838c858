// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hymofs/hymomount/internal/clock"
	"github.com/hymofs/hymomount/internal/kernel"
	"github.com/hymofs/hymomount/internal/moduleinfo"
	"github.com/hymofs/hymomount/internal/mountplan"
	"github.com/hymofs/hymomount/internal/state"
)

func TestRewritePropDescriptionReplacesExistingLine(t *testing.T) {
	raw := []byte("id=foo\nname=Foo\ndescription=old text\nversion=1\n")
	got := rewritePropDescription(raw, "new text")
	if !strings.Contains(string(got), "description=new text") {
		t.Errorf("got %q, want it to contain the replaced description line", got)
	}
	if strings.Contains(string(got), "old text") {
		t.Errorf("got %q, old description text should be gone", got)
	}
}

func TestRewritePropDescriptionAppendsWhenAbsent(t *testing.T) {
	raw := []byte("id=foo\nname=Foo\n")
	got := rewritePropDescription(raw, "hello")
	if !strings.HasSuffix(strings.TrimRight(string(got), "\n"), "description=hello") {
		t.Errorf("got %q, want description appended", got)
	}
}

func TestFindConflictsDetectsOverlappingPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a", "system", "bin")
	b := filepath.Join(dir, "b", "system", "bin")
	mustMkdirAll(t, a)
	mustMkdirAll(t, b)
	mustWriteFile(t, filepath.Join(a, "tool"), "x")
	mustWriteFile(t, filepath.Join(b, "tool"), "y")

	modules := []*moduleinfo.Module{
		{ID: "a", SourcePath: filepath.Join(dir, "a")},
		{ID: "b", SourcePath: filepath.Join(dir, "b")},
	}
	conflicts := findConflicts(modules)
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %v", len(conflicts), conflicts)
	}
}

func TestFindConflictsNoOverlap(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a", "system", "bin")
	b := filepath.Join(dir, "b", "system", "bin")
	mustMkdirAll(t, a)
	mustMkdirAll(t, b)
	mustWriteFile(t, filepath.Join(a, "tool1"), "x")
	mustWriteFile(t, filepath.Join(b, "tool2"), "y")

	modules := []*moduleinfo.Module{
		{ID: "a", SourcePath: filepath.Join(dir, "a")},
		{ID: "b", SourcePath: filepath.Join(dir, "b")},
	}
	if conflicts := findConflicts(modules); len(conflicts) != 0 {
		t.Errorf("got %v, want no conflicts", conflicts)
	}
}

func TestFilterHotUnmountedSkipsSentineledModules(t *testing.T) {
	dir := t.TempDir()
	mustMkdirAll(t, dir)
	mustWriteFile(t, filepath.Join(dir, "a"), "")

	modules := []*moduleinfo.Module{{ID: "a"}, {ID: "b"}}
	out := filterHotUnmounted(modules, dir)
	if len(out) != 1 || out[0].ID != "b" {
		t.Errorf("got %v, want only module b", out)
	}
}

func TestFilterHotUnmountedMissingSentinelDirKeepsAll(t *testing.T) {
	modules := []*moduleinfo.Module{{ID: "a"}, {ID: "b"}}
	out := filterHotUnmounted(modules, filepath.Join(t.TempDir(), "does-not-exist"))
	if len(out) != 2 {
		t.Errorf("got %v, want both modules kept", out)
	}
}

func TestDirSizeSumsRegularFiles(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a"), "12345")
	sub := filepath.Join(dir, "sub")
	mustMkdirAll(t, sub)
	mustWriteFile(t, filepath.Join(sub, "b"), "67")
	if got := dirSize(dir); got != 7 {
		t.Errorf("dirSize() = %d, want 7", got)
	}
}

func TestRemoveModuleRulesIssuesOneDelRulePerFile(t *testing.T) {
	mirrorPoint := t.TempDir()
	modDir := filepath.Join(mirrorPoint, "a", "system")
	mustMkdirAll(t, modDir)
	mustWriteFile(t, filepath.Join(modDir, "bin"), "x")
	mustWriteFile(t, filepath.Join(modDir, "lib"), "y")

	ft := &callCountingTransport{}
	ch := kernel.NewWithTransport(ft, clock.Real())
	if err := removeModuleRules(ch, mirrorPoint, "a"); err != nil {
		t.Fatalf("removeModuleRules() error: %v", err)
	}
	if ft.delRuleCalls != 2 {
		t.Errorf("delRuleCalls = %d, want 2", ft.delRuleCalls)
	}
}

// callCountingTransport counts DEL_RULE ioctl calls without decoding
// the argument pointer, matching kernel_test.go's fakeTransport style.
type callCountingTransport struct {
	delRuleCalls int
}

func (f *callCountingTransport) Ioctl(req []byte, outBuf []byte) (int32, int, error) {
	if binary.LittleEndian.Uint32(req[0:4]) == 4 { // cmdDelRule
		f.delRuleCalls++
	}
	return 0, 0, nil
}

func TestRewriteDescriptionsAttributesEachModuleToItsResolvedStrategy(t *testing.T) {
	dir := t.TempDir()
	modules := []*moduleinfo.Module{
		{ID: "h", Description: "Hymo module", SourcePath: filepath.Join(dir, "h")},
		{ID: "m", Description: "Magic module", SourcePath: filepath.Join(dir, "m")},
		{ID: "o", Description: "Overlay module", SourcePath: filepath.Join(dir, "o")},
	}
	for _, m := range modules {
		mustMkdirAll(t, m.SourcePath)
		mustWriteFile(t, m.PropPath(), "id="+m.ID+"\ndescription="+m.Description+"\n")
	}

	stats := state.MountStats{
		"h": {Files: 3},
		"m": {Files: 2},
		"o": {Files: 1},
	}
	plan := &mountplan.Plan{
		HymofsModuleIDs: []string{"h"},
		MagicModuleIDs:  []string{"m"},
	}

	rewriteDescriptions(modules, stats, plan, []string{"o"})

	if !strings.Contains(modules[0].Description, "[hymofs:3]") {
		t.Errorf("hymofs module description = %q, want hymofs:3", modules[0].Description)
	}
	if !strings.Contains(modules[1].Description, "[magic:2]") {
		t.Errorf("magic module description = %q, want magic:2", modules[1].Description)
	}
	if !strings.Contains(modules[2].Description, "[overlay:1]") {
		t.Errorf("overlay module description = %q, want overlay:1", modules[2].Description)
	}
}

func mustMkdirAll(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
