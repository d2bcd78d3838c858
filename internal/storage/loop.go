// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	loopCtlGetFree = 0x4C82
	loopSetFd      = 0x4C00
	loopClrFd      = 0x4C01
)

// attachLoop binds imagePath to a free /dev/loopN device and returns
// its path.
func attachLoop(imagePath string) (string, error) {
	ctl, err := os.OpenFile("/dev/loop-control", os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("storage: open /dev/loop-control: %w", err)
	}
	defer ctl.Close()

	devNum, err := unix.IoctlRetInt(int(ctl.Fd()), loopCtlGetFree)
	if err != nil {
		return "", fmt.Errorf("storage: LOOP_CTL_GET_FREE: %w", err)
	}

	devPath := fmt.Sprintf("/dev/loop%d", devNum)
	loopDev, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("storage: open %s: %w", devPath, err)
	}
	defer loopDev.Close()

	image, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("storage: open image %s: %w", imagePath, err)
	}
	defer image.Close()

	if err := unix.IoctlSetInt(int(loopDev.Fd()), loopSetFd, int(image.Fd())); err != nil {
		return "", fmt.Errorf("storage: LOOP_SET_FD: %w", err)
	}
	return devPath, nil
}

// detachLoop releases a loop device bound by attachLoop.
func detachLoop(devPath string) error {
	loopDev, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer loopDev.Close()
	return unix.IoctlSetInt(int(loopDev.Fd()), loopClrFd, 0)
}
