// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provisions the backing store where module content
// lives at runtime (spec §4.1): tmpfs, erofs, or ext4, in deterministic
// fallback order.
package storage

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/hymofs/hymomount/internal/config"
	"github.com/hymofs/hymomount/internal/xattrutil"
)

// Mode is the backend that ultimately served the mirror mount point.
type Mode string

const (
	ModeTmpfs     Mode = "tmpfs"
	ModeExt4      Mode = "ext4"
	ModeErofs     Mode = "erofs"
	ModeMagicOnly Mode = "magic_only"
)

// Handle describes the provisioned backing store.
type Handle struct {
	MountPoint string
	Mode       Mode
}

// toolSearchDirs is where mkfs.* tools are looked up, per spec §4.1.
var toolSearchDirs = []string{"/system/bin", "/vendor/bin", "/sbin"}

func findTool(name string) (string, bool) {
	for _, dir := range toolSearchDirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && info.Mode()&0111 != 0 {
			return candidate, true
		}
	}
	return "", false
}

// Setup provisions mirrorPoint using cfg.FsType's preference, falling
// back deterministically per spec §4.1. moduleDirSize is used to size
// an ext4 image when one must be created. On every successful
// non-tmpfs mount, mirrorPoint is registered with the host's
// unmountable channel so other namespaces can detach it later (spec
// §4.1's contract item), unless cfg.DisableUmount suppresses it.
func Setup(cfg *config.Config, mirrorPoint string, moduleDirSize int64) (*Handle, error) {
	if err := os.MkdirAll(mirrorPoint, 0755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", mirrorPoint, err)
	}
	if err := detachIfMounted(mirrorPoint); err != nil {
		return nil, fmt.Errorf("storage: detach existing mount at %s: %w", mirrorPoint, err)
	}

	handle, err := provision(cfg, mirrorPoint, moduleDirSize)
	if err != nil {
		return nil, err
	}
	if handle.Mode != ModeTmpfs && !cfg.DisableUmount {
		registerUnmountable(handle.MountPoint)
	}
	return handle, nil
}

func provision(cfg *config.Config, mirrorPoint string, moduleDirSize int64) (*Handle, error) {
	switch cfg.FsType {
	case config.FilesystemTmpfs:
		if h, err := setupTmpfs(mirrorPoint); err == nil {
			return h, nil
		}
		return setupAuto(mirrorPoint, moduleDirSize)
	case config.FilesystemErofs:
		if h, err := setupErofs(mirrorPoint); err == nil {
			return h, nil
		}
		return setupExt4(mirrorPoint, moduleDirSize)
	case config.FilesystemExt4:
		return setupExt4(mirrorPoint, moduleDirSize)
	default:
		return setupAuto(mirrorPoint, moduleDirSize)
	}
}

func setupAuto(mirrorPoint string, moduleDirSize int64) (*Handle, error) {
	if h, err := setupTmpfs(mirrorPoint); err == nil {
		return h, nil
	}
	if h, err := setupErofs(mirrorPoint); err == nil {
		return h, nil
	}
	if h, err := setupExt4(mirrorPoint, moduleDirSize); err == nil {
		return h, nil
	}
	return nil, fmt.Errorf("storage: all backends failed (StorageUnavailable)")
}

// setupTmpfs mounts tmpfs at mirrorPoint, accepting it only if
// extended attributes are supported (spec §4.1 step 1).
func setupTmpfs(mirrorPoint string) (*Handle, error) {
	if err := unix.Mount("tmpfs", mirrorPoint, "tmpfs", 0, "mode=0755"); err != nil {
		return nil, fmt.Errorf("storage: mount tmpfs: %w", err)
	}
	if !xattrutil.ProbeSupport(mirrorPoint) {
		unix.Unmount(mirrorPoint, unix.MNT_DETACH)
		return nil, fmt.Errorf("storage: tmpfs does not support xattrs")
	}
	return &Handle{MountPoint: mirrorPoint, Mode: ModeTmpfs}, nil
}

// setupErofs requires mkfs.erofs, builds a read-only image from the
// already-populated modules tree, and loop-mounts it (spec §4.1 step 2).
func setupErofs(mirrorPoint string) (*Handle, error) {
	tool, ok := findTool("mkfs.erofs")
	if !ok {
		return nil, fmt.Errorf("storage: mkfs.erofs not found")
	}

	imagePath := filepath.Join(filepath.Dir(mirrorPoint), "modules.erofs")
	cmd := exec.Command(tool, "-zlz4hc,9", imagePath, mirrorPoint)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("storage: mkfs.erofs: %w", err)
	}

	loopDev, err := attachLoop(imagePath)
	if err != nil {
		return nil, err
	}
	if err := unix.Mount(loopDev, mirrorPoint, "erofs", unix.MS_RDONLY|unix.MS_NOATIME, ""); err != nil {
		return nil, fmt.Errorf("storage: mount erofs: %w", err)
	}
	return &Handle{MountPoint: mirrorPoint, Mode: ModeErofs}, nil
}

// setupExt4 ensures an ext4 image exists (creating one sized
// max(moduleDirSize*1.2, 64MiB)) and loop-mounts it read-write (spec
// §4.1 step 3). Uses execve-based mkfs.ext4/mke2fs, never a shell, per
// the open-question resolution in DESIGN.md.
func setupExt4(mirrorPoint string, moduleDirSize int64) (*Handle, error) {
	imagePath := filepath.Join(filepath.Dir(mirrorPoint), "modules.img")

	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		if err := createExt4Image(imagePath, moduleDirSize); err != nil {
			return nil, err
		}
	}

	loopDev, err := attachLoop(imagePath)
	if err != nil {
		return nil, err
	}

	mountErr := unix.Mount(loopDev, mirrorPoint, "ext4", unix.MS_NOATIME, "")
	if mountErr != nil {
		// Attempt a single repair via the host fs-check tool, then retry once.
		if tool, ok := findTool("e2fsck"); ok {
			exec.Command(tool, "-y", "-f", imagePath).Run()
			mountErr = unix.Mount(loopDev, mirrorPoint, "ext4", unix.MS_NOATIME, "")
		}
	}
	if mountErr != nil {
		return nil, fmt.Errorf("storage: mount ext4: %w", mountErr)
	}

	if err := fixMirrorPermissions(mirrorPoint); err != nil {
		return nil, err
	}
	return &Handle{MountPoint: mirrorPoint, Mode: ModeExt4}, nil
}

// createExt4Image reserves max(moduleDirSize*1.2, 64MiB) bytes and
// formats the file via an execve'd mkfs.ext4 (falling back to
// mke2fs), never a shell.
func createExt4Image(imagePath string, moduleDirSize int64) error {
	const minSize = 64 * 1024 * 1024
	size := int64(float64(moduleDirSize) * 1.2)
	if size < minSize {
		size = minSize
	}

	f, err := os.OpenFile(imagePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("storage: create image %s: %w", imagePath, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("storage: truncate image: %w", err)
	}
	f.Close()

	tool, ok := findTool("mkfs.ext4")
	if !ok {
		tool, ok = findTool("mke2fs")
		if !ok {
			return fmt.Errorf("storage: neither mkfs.ext4 nor mke2fs found")
		}
		return exec.Command(tool, "-t", "ext4", "-F", imagePath).Run()
	}
	return exec.Command(tool, "-F", imagePath).Run()
}

// fixMirrorPermissions sets mode 0755, owner 0:0, default SELinux
// context after an ext4 mount (spec §4.1 contract).
func fixMirrorPermissions(mirrorPoint string) error {
	if err := os.Chmod(mirrorPoint, 0755); err != nil {
		return fmt.Errorf("storage: chmod %s: %w", mirrorPoint, err)
	}
	if err := os.Chown(mirrorPoint, 0, 0); err != nil {
		return fmt.Errorf("storage: chown %s: %w", mirrorPoint, err)
	}
	return nil
}

func detachIfMounted(path string) error {
	entries, err := mountpointEntries()
	if err != nil {
		return nil
	}
	for _, mp := range entries {
		if mp == path {
			return unix.Unmount(path, unix.MNT_DETACH)
		}
	}
	return nil
}

func mountpointEntries() ([]string, error) {
	data, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return nil, err
	}
	var out []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			line := string(data[start:i])
			var src, mp string
			fmt.Sscanf(line, "%s %s", &src, &mp)
			if mp != "" {
				out = append(out, mp)
			}
			start = i + 1
		}
	}
	return out, nil
}
