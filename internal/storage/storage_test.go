// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hymofs/hymomount/internal/state"
)

func TestSumRegularFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0644)
	sub := filepath.Join(dir, "sub")
	os.MkdirAll(sub, 0755)
	os.WriteFile(filepath.Join(sub, "b"), make([]byte, 50), 0644)

	if got := sumRegularFiles(dir); got != 150 {
		t.Errorf("sumRegularFiles() = %d, want 150", got)
	}
}

func TestPrintStatusEmptyMountPoint(t *testing.T) {
	s := &state.RuntimeState{StorageMode: "tmpfs"}
	got := PrintStatus(s, t.TempDir())
	if got.Mode != "tmpfs" {
		t.Errorf("Mode = %q, want tmpfs", got.Mode)
	}
	if got.Size != "" {
		t.Errorf("Size should be empty when mount point is unset, got %q", got.Size)
	}
}

func TestFindToolMissing(t *testing.T) {
	if _, ok := findTool("definitely-not-a-real-tool-xyz"); ok {
		t.Error("findTool should not find a nonexistent tool")
	}
}
