// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package contenthash computes content-identity digests used by the
// sync engine's skip-if-unchanged check (spec §4.2 step 1).
package contenthash

import (
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// File returns the blake3 digest of path's contents.
func File(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// SameContent reports whether two files have byte-identical content,
// used to short-circuit module.prop re-sync when source and
// destination are already identical.
func SameContent(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	digestA, err := File(a)
	if err != nil {
		return false, err
	}
	digestB, err := File(b)
	if err != nil {
		return false, err
	}
	return string(digestA) == string(digestB), nil
}
