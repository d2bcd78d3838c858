// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ksuDevicePath is the host root-daemon's control device, the same
// family of ioctl-over-device-node channel internal/kernel uses for
// the LKM, but a distinct device since the "unmountable" registration
// is a host-daemon facility, not a HymoFS kernel feature.
const ksuDevicePath = "/dev/ksu"

// ksuRegisterUnmountable asks the host daemon to exclude a path from
// management-tool unmount sweeps so other namespaces can detach it
// later (spec §4.1's per-mount contract item).
const ksuRegisterUnmountable = 0xC0185301

type unmountablePathArgs struct {
	Path [256]byte
}

// registerUnmountable is best-effort: a host without the channel (an
// emulator, a kernel without the su daemon) simply has nothing happen,
// which is why callers don't propagate its error.
func registerUnmountable(path string) error {
	fd, err := unix.Open(ksuDevicePath, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	var args unmountablePathArgs
	copy(args.Path[:], path)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(ksuRegisterUnmountable), uintptr(unsafe.Pointer(&args)))
	if errno != 0 {
		return errno
	}
	return nil
}
