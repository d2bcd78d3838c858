// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the top-level mode-dispatch state
// machine over kernel status and ignore_protocol_mismatch (spec §4.7).
package dispatch

import (
	"fmt"

	"github.com/hymofs/hymomount/internal/kernel"
)

// Path is which code path the orchestrator should take.
type Path string

const (
	PathHymofs    Path = "hymofs"
	PathLegacy    Path = "legacy"
	PathMagicOnly Path = "magic_only"
)

// Decision is the outcome of [Resolve]: which path to take, and an
// optional mismatch message to record in RuntimeState.
type Decision struct {
	Path            Path
	MismatchMessage string
}

// Resolve implements spec §4.7's table over kernel status and the
// ignore_protocol_mismatch config flag.
func Resolve(status kernel.Status, version uint32, ignoreMismatch bool) Decision {
	switch status {
	case kernel.StatusAvailable:
		return Decision{Path: PathHymofs}
	case kernel.StatusKernelTooOld, kernel.StatusModuleTooOld:
		msg := mismatchMessage(status, version)
		if ignoreMismatch {
			return Decision{Path: PathHymofs, MismatchMessage: msg}
		}
		return Decision{Path: PathLegacy, MismatchMessage: msg}
	default: // kernel.StatusNotPresent
		return Decision{Path: PathLegacy}
	}
}

func mismatchMessage(status kernel.Status, version uint32) string {
	switch status {
	case kernel.StatusKernelTooOld:
		return fmt.Sprintf("kernel module reports protocol version %d, client expects %d (kernel module too old)", version, kernel.ExpectedProtocolVersion)
	case kernel.StatusModuleTooOld:
		return fmt.Sprintf("kernel module reports protocol version %d, client expects %d (client too old for this kernel module)", version, kernel.ExpectedProtocolVersion)
	default:
		return ""
	}
}

// Downshift reports the magic-only fallback decision spec §4.7's last
// paragraph describes: when mirror provisioning or content sync fails
// within the fast path, fall back to binding directly from source
// directories instead of failing the whole mount.
func Downshift(provisioningErr error) (Decision, bool) {
	if provisioningErr == nil {
		return Decision{}, false
	}
	return Decision{
		Path:            PathMagicOnly,
		MismatchMessage: fmt.Sprintf("mirror provisioning failed, falling back to magic-only: %v", provisioningErr),
	}, true
}
