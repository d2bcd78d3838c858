// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/hymofs/hymomount/internal/state"
)

// Status is the JSON document `storage` emits (spec §4.1).
type Status struct {
	Path    string `json:"path"`
	PID     int    `json:"pid"`
	Size    string `json:"size"`
	Used    string `json:"used"`
	Avail   string `json:"avail"`
	Percent int    `json:"percent"`
	Mode    string `json:"mode"`
}

// PrintStatus builds the storage status document from the persisted
// RuntimeState, statfs-ing the recorded mount point and falling back
// to a recursive byte-sum when statfs reports zero used bytes despite
// files existing (spec §4.1).
func PrintStatus(s *state.RuntimeState, moduleDir string) Status {
	status := Status{
		Path: s.MountPoint,
		PID:  s.PID,
		Mode: s.StorageMode,
	}

	var statfsInfo unix.Statfs_t
	if s.MountPoint != "" && unix.Statfs(s.MountPoint, &statfsInfo) == nil {
		total := statfsInfo.Blocks * uint64(statfsInfo.Bsize)
		free := statfsInfo.Bfree * uint64(statfsInfo.Bsize)
		used := total - free

		if used == 0 {
			if sum := sumRegularFiles(s.MountPoint); sum > 0 {
				used = sum
			} else if s.StorageMode == string(ModeTmpfs) {
				used = sumRegularFiles(moduleDir)
			}
		}

		status.Size = humanize.Bytes(total)
		status.Used = humanize.Bytes(used)
		status.Avail = humanize.Bytes(free)
		if total > 0 {
			status.Percent = int(used * 100 / total)
		}
	}

	return status
}

func sumRegularFiles(root string) uint64 {
	var total uint64
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
