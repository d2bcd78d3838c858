// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package mountexec

import (
	"strings"

	"golang.org/x/sys/unix"
)

// mountOverlayNewAPI builds an overlay mount via fsopen/fsconfig/
// fsmount/move_mount, the kernel ≥5.2 API spec §4.4 step 2 prefers
// over legacy mount(2). On kernels lacking the syscalls it returns
// their error (ENOSYS), and realSyscaller.MountOverlay then falls back
// to legacy mount(2).
func mountOverlayNewAPI(target, options string) error {
	fsfd, err := unix.Fsopen("overlay", 0)
	if err != nil {
		return err
	}
	defer unix.Close(fsfd)

	for _, kv := range strings.Split(options, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if err := unix.FsconfigSetString(fsfd, parts[0], parts[1]); err != nil {
			return err
		}
	}
	if err := unix.FsconfigCreate(fsfd); err != nil {
		return err
	}

	mfd, err := unix.Fsmount(fsfd, 0, 0)
	if err != nil {
		return err
	}
	defer unix.Close(mfd)

	return unix.MoveMount(mfd, "", unix.AT_FDCWD, target, unix.MOVE_MOUNT_F_EMPTY_PATH)
}
