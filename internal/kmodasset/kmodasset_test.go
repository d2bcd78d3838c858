// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package kmodasset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil)
}

func TestDecompressToFile(t *testing.T) {
	payload := []byte("fake .ko contents for android14-6.1")
	asset := Asset{KMI: "android14-6.1", Data: compress(t, payload), Size: len(payload)}
	reg := NewRegistry([]Asset{asset})

	destPath := filepath.Join(t.TempDir(), "hymofs.ko")
	if err := reg.DecompressToFile("android14-6.1", destPath); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("decompressed = %q, want %q", got, payload)
	}
}

func TestDecompressToFileUnknownKMI(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.DecompressToFile("android99-9.9", filepath.Join(t.TempDir(), "x.ko")); err == nil {
		t.Fatal("expected error for unknown KMI")
	}
}

func TestParseKMIExtractsAndroidTuple(t *testing.T) {
	cases := map[string]string{
		"5.15.104-android14-11-g1234567890ab": "android14-5.15",
		"6.1.25-android13-8-g0000000000ab":    "android13-6.1",
	}
	for release, want := range cases {
		got, err := ParseKMI(release)
		if err != nil {
			t.Fatalf("ParseKMI(%q): %v", release, err)
		}
		if got != want {
			t.Errorf("ParseKMI(%q) = %q, want %q", release, got, want)
		}
	}
}

func TestParseKMIRejectsNonGKIRelease(t *testing.T) {
	if _, err := ParseKMI("5.4.0-generic"); err == nil {
		t.Fatal("expected error for a release string with no KMI tuple")
	}
}

func TestHas(t *testing.T) {
	reg := NewRegistry([]Asset{{KMI: "android14-6.1"}})
	if !reg.Has("android14-6.1") {
		t.Error("Has should report true for known KMI")
	}
	if reg.Has("android99-9.9") {
		t.Error("Has should report false for unknown KMI")
	}
}
