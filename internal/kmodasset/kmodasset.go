// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package kmodasset implements the embedded per-KMI LKM asset registry
// described in spec §9's "Embedded LKM assets" design note: the binary
// carries one compressed .ko per supported Kernel Module Interface
// tuple, decompressed to a temp file on demand.
package kmodasset

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
)

// Asset is one compressed kernel-module blob keyed by KMI tuple
// (e.g. "android14-6.1").
type Asset struct {
	KMI  string
	Data []byte // zstd-compressed .ko contents
	Size int    // decompressed size, for sizing the output buffer
}

// Registry maps a KMI tuple to its embedded asset.
type Registry map[string]Asset

// NewRegistry builds a Registry from the supplied assets, keyed by
// their KMI field. Callers populate assets via go:embed in the
// binary's main package; this constructor stays dependency-free so it
// is trivially testable with in-memory fixtures.
func NewRegistry(assets []Asset) Registry {
	reg := make(Registry, len(assets))
	for _, a := range assets {
		reg[a.KMI] = a
	}
	return reg
}

// DecompressToFile writes the decompressed .ko for kmi to destPath.
func (r Registry) DecompressToFile(kmi, destPath string) error {
	asset, ok := r[kmi]
	if !ok {
		return fmt.Errorf("kmodasset: no embedded module for KMI %q", kmi)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("kmodasset: create decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(asset.Data, make([]byte, 0, asset.Size))
	if err != nil {
		return fmt.Errorf("kmodasset: decode %s: %w", kmi, err)
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("kmodasset: open %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, bytes.NewReader(decompressed)); err != nil {
		return fmt.Errorf("kmodasset: write %s: %w", destPath, err)
	}
	return nil
}

// Has reports whether the registry carries an asset for kmi.
func (r Registry) Has(kmi string) bool {
	_, ok := r[kmi]
	return ok
}

// kmiPattern extracts the androidN-X.Y suffix Android GKI kernel
// release strings embed, e.g. "5.15.104-android14-11-g1234567" ->
// "android14-5.15".
var kmiPattern = regexp.MustCompile(`^(\d+\.\d+)\.\d+-(android\d+)-`)

// DetectKMI determines the running kernel's KMI tuple from uname's
// release string.
func DetectKMI() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("kmodasset: uname: %w", err)
	}
	return ParseKMI(nullTerminatedString(uts.Release[:]))
}

// ParseKMI extracts the KMI tuple (e.g. "android14-5.15") from a raw
// `uname -r` release string, isolated from [DetectKMI] so it is
// testable without a real syscall.
func ParseKMI(release string) (string, error) {
	m := kmiPattern.FindStringSubmatch(release)
	if m == nil {
		return "", fmt.Errorf("kmodasset: release %q does not carry a recognizable KMI tuple", release)
	}
	version, androidVersion := m[1], m[2]
	return androidVersion + "-" + version, nil
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
