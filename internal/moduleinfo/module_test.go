// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package moduleinfo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsActiveRequiresNonEmptyPartition(t *testing.T) {
	dir := t.TempDir()
	if IsActive(dir, nil) {
		t.Fatal("empty module directory should not be active")
	}

	systemDir := filepath.Join(dir, "system")
	if err := os.MkdirAll(systemDir, 0755); err != nil {
		t.Fatal(err)
	}
	if IsActive(dir, nil) {
		t.Fatal("module with empty system/ should not be active")
	}

	if err := os.WriteFile(filepath.Join(systemDir, "hosts"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !IsActive(dir, nil) {
		t.Fatal("module with content under system/ should be active")
	}
}

func TestIsActiveHonoursDisableMarker(t *testing.T) {
	dir := t.TempDir()
	systemDir := filepath.Join(dir, "system")
	os.MkdirAll(systemDir, 0755)
	os.WriteFile(filepath.Join(systemDir, "hosts"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "disable"), nil, 0644)

	if IsActive(dir, nil) {
		t.Fatal("disabled module should not be active")
	}
}

func TestIsActiveRecognizesBuiltinVendorWithoutExtras(t *testing.T) {
	dir := t.TempDir()
	vendorDir := filepath.Join(dir, "vendor")
	os.MkdirAll(vendorDir, 0755)
	os.WriteFile(filepath.Join(vendorDir, "lib.so"), []byte("x"), 0644)

	myStockDir := filepath.Join(dir, "my_stock")
	os.MkdirAll(myStockDir, 0755)
	os.WriteFile(filepath.Join(myStockDir, "f"), []byte("x"), 0644)

	// vendor is built in, so active regardless of extra partitions.
	if !IsActive(dir, nil) {
		t.Fatal("module with vendor/ content should be active without extra partitions")
	}
}

func TestValidID(t *testing.T) {
	cases := map[string]bool{
		"my_module":  true,
		"my-module":  true,
		"my.module":  true,
		"":           false,
		"my module":  false,
		"../escape":  false,
	}
	for id, want := range cases {
		if got := ValidID(id); got != want {
			t.Errorf("ValidID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestParsePropBasic(t *testing.T) {
	dir := t.TempDir()
	propPath := filepath.Join(dir, "module.prop")
	content := "id=demo\nname=Demo Module\n# a comment\nversion=v1.0\nauthor=tester\ndescription=hello world\n"
	os.WriteFile(propPath, []byte(content), 0644)

	name, version, author, description, err := ParseProp(propPath)
	if err != nil {
		t.Fatal(err)
	}
	if name != "Demo Module" || version != "v1.0" || author != "tester" || description != "hello world" {
		t.Errorf("got name=%q version=%q author=%q description=%q", name, version, author, description)
	}
}

func TestParsePropMissingFileIsNotError(t *testing.T) {
	_, _, _, _, err := ParseProp(filepath.Join(t.TempDir(), "module.prop"))
	if err != nil {
		t.Fatalf("missing module.prop should not error: %v", err)
	}
}

func TestRewriteDescription(t *testing.T) {
	got := RewriteDescription("Demo Module", true, map[string]int{"overlay": 3})
	want := "✅ Demo Module [overlay:3]"
	if got != want {
		t.Errorf("RewriteDescription() = %q, want %q", got, want)
	}
}

func TestScanDefaultsToAutoMode(t *testing.T) {
	moduleDir := t.TempDir()
	modDir := filepath.Join(moduleDir, "demo")
	systemDir := filepath.Join(modDir, "system")
	os.MkdirAll(systemDir, 0755)
	os.WriteFile(filepath.Join(systemDir, "hosts"), []byte("x"), 0644)

	modules, err := Scan(moduleDir, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(modules) != 1 {
		t.Fatalf("got %d modules, want 1", len(modules))
	}
	if modules[0].Mode != ModeAuto {
		t.Errorf("Mode = %q, want auto", modules[0].Mode)
	}
}
