// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package xattrutil

import "testing"

func TestSetGetRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if err := Set(dir, "user.hymo.test", "hello"); err != nil {
		t.Skipf("xattr not supported on test filesystem: %v", err)
	}

	got, err := Get(dir, "user.hymo.test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "hello" {
		t.Errorf("Get() = %q, want %q", got, "hello")
	}

	if err := Remove(dir, "user.hymo.test"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, err = Get(dir, "user.hymo.test")
	if err != nil {
		t.Fatalf("Get after remove: %v", err)
	}
	if got != "" {
		t.Errorf("Get() after remove = %q, want empty", got)
	}
}

func TestProbeSupport(t *testing.T) {
	dir := t.TempDir()
	// ProbeSupport should not panic or leave the attribute behind,
	// regardless of whether the underlying fs supports xattrs.
	ProbeSupport(dir)
	if value, _ := Get(dir, ProbeAttr); value != "" {
		t.Errorf("probe attribute leaked: %q", value)
	}
}
