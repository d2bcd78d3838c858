// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"embed"
	"io/fs"
	"strings"

	"github.com/hymofs/hymomount/internal/kmodasset"
)

//go:embed assets/kmods/*.ko.zst
var embeddedKmods embed.FS

// loadEmbeddedRegistry builds a kmodasset.Registry from every
// <kmi>.ko.zst file embedded under assets/kmods (spec §9's "Embedded
// LKM assets" design note). Sizes aren't tracked per asset here, so
// DecompressToFile's output buffer grows as needed instead of being
// pre-sized.
func loadEmbeddedRegistry() (kmodasset.Registry, error) {
	entries, err := fs.ReadDir(embeddedKmods, "assets/kmods")
	if err != nil {
		return nil, err
	}
	var assets []kmodasset.Asset
	for _, e := range entries {
		kmi, ok := strings.CutSuffix(e.Name(), ".ko.zst")
		if !ok {
			continue
		}
		data, err := fs.ReadFile(embeddedKmods, "assets/kmods/"+e.Name())
		if err != nil {
			return nil, err
		}
		assets = append(assets, kmodasset.Asset{KMI: kmi, Data: data})
	}
	return kmodasset.NewRegistry(assets), nil
}
