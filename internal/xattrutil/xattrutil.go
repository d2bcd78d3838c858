// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package xattrutil wraps the raw extended-attribute syscalls used for
// SELinux label propagation and tmpfs xattr-support probing. Per spec
// §9's design note, this uses lsetxattr/lgetxattr directly rather than
// a high-level library that might rewrite labels.
package xattrutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const selinuxAttr = "security.selinux"

// ProbeAttr is the xattr name the storage engine sets on a freshly
// mounted tmpfs root to check for extended-attribute support (spec
// §4.1).
const ProbeAttr = "user.hymo.probe"

// GetSELinuxLabel reads the security.selinux xattr of path. It
// returns ("", nil) if the attribute is absent.
func GetSELinuxLabel(path string) (string, error) {
	return Get(path, selinuxAttr)
}

// SetSELinuxLabel sets the security.selinux xattr of path.
func SetSELinuxLabel(path, label string) error {
	return Set(path, selinuxAttr, label)
}

// Get reads an extended attribute, returning "" if it does not exist.
func Get(path, name string) (string, error) {
	size, err := unix.Lgetxattr(path, name, nil)
	if err != nil {
		if err == unix.ENODATA || err == unix.ENOTSUP {
			return "", nil
		}
		return "", fmt.Errorf("lgetxattr %s %s: %w", path, name, err)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(path, name, buf)
	if err != nil {
		return "", fmt.Errorf("lgetxattr %s %s: %w", path, name, err)
	}
	return string(buf[:n]), nil
}

// Set writes an extended attribute.
func Set(path, name, value string) error {
	if err := unix.Lsetxattr(path, name, []byte(value), 0); err != nil {
		return fmt.Errorf("lsetxattr %s %s: %w", path, name, err)
	}
	return nil
}

// Remove deletes an extended attribute, tolerating its absence.
func Remove(path, name string) error {
	if err := unix.Lremovexattr(path, name); err != nil && err != unix.ENODATA {
		return fmt.Errorf("lremovexattr %s %s: %w", path, name, err)
	}
	return nil
}

// ProbeSupport sets, reads back, then removes [ProbeAttr] on root to
// determine whether the filesystem mounted there supports extended
// attributes (spec §4.1's tmpfs acceptance test).
func ProbeSupport(root string) bool {
	if err := Set(root, ProbeAttr, "1"); err != nil {
		return false
	}
	defer Remove(root, ProbeAttr)

	value, err := Get(root, ProbeAttr)
	return err == nil && value == "1"
}

// PropagateFromLiveRoot copies the SELinux label from the path on the
// live root filesystem corresponding to relPath onto dstPath, per
// spec §4.2 step 3. It is a no-op (never fabricates a label) when the
// live-root path does not exist or carries no label.
func PropagateFromLiveRoot(relPath, dstPath string) error {
	liveLabel, err := GetSELinuxLabel("/" + relPath)
	if err != nil || liveLabel == "" {
		return nil
	}
	return SetSELinuxLabel(dstPath, liveLabel)
}
