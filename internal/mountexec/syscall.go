// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package mountexec

import "golang.org/x/sys/unix"

// Syscaller abstracts the raw mount(2)/umount(2)/mknod(2) calls
// mountexec issues, mirroring internal/clock.Clock's real/fake split
// applied to the syscall boundary instead of time: production code
// runs against realSyscaller, tests inject a fake that records calls
// without touching the host's mount namespace.
type Syscaller interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
	Mknod(path string, mode uint32, dev int) error
	MountOverlay(target, options string) error
}

// realSyscaller issues the actual syscalls via golang.org/x/sys/unix.
type realSyscaller struct{}

func (realSyscaller) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (realSyscaller) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

func (realSyscaller) Mknod(path string, mode uint32, dev int) error {
	return unix.Mknod(path, mode, dev)
}

// MountOverlay prefers the new mount API (fsopen/fsconfig/fsmount/
// move_mount) and falls back to legacy mount(2) whenever the new API
// fails, ENOSYS or otherwise (spec §4.4 step 2).
func (realSyscaller) MountOverlay(target, options string) error {
	if err := mountOverlayNewAPI(target, options); err == nil {
		return nil
	}
	return unix.Mount("overlay", target, "overlay", 0, options)
}
