// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ErrorKind classifies the failures enumerated in spec §7 so the
// command dispatcher can map a returned error to an exit code and a
// consistent log line without string-matching error text.
type ErrorKind string

const (
	// KindConfigInvalid means the config JSON was unparsable or a
	// required field was missing. mount refuses to proceed;
	// show-config falls back to defaults.
	KindConfigInvalid ErrorKind = "config_invalid"

	// KindStorageUnavailable means every permitted storage backend
	// failed. Fatal in the legacy path; triggers the magic-only
	// fallback in the HymoFS fast path.
	KindStorageUnavailable ErrorKind = "storage_unavailable"

	// KindKernelProtocolMismatch means the LKM's protocol version did
	// not match EXPECTED_PROTOCOL_VERSION. Non-fatal unless the fast
	// path was forced via ignore_protocol_mismatch.
	KindKernelProtocolMismatch ErrorKind = "kernel_protocol_mismatch"

	// KindKernelUnavailable means the control channel FD could not be
	// acquired or an ioctl failed outright.
	KindKernelUnavailable ErrorKind = "kernel_unavailable"

	// KindMountFailed means a single overlay or bind operation failed.
	// Logged and counted; the plan continues.
	KindMountFailed ErrorKind = "mount_failed"

	// KindSyncFailed means content replication failed for one module.
	// That module is skipped; others proceed.
	KindSyncFailed ErrorKind = "sync_failed"

	// KindInvalidInput means a CLI argument failed validation.
	KindInvalidInput ErrorKind = "invalid_input"
)

// Error is a classified error returned by CLI commands and the engines
// underneath them. It wraps an inner error, preserving the chain for
// errors.Is/errors.As, while adding the kind needed to pick an exit
// code and an optional hint appended when the error reaches a
// terminal.
type Error struct {
	// Kind classifies the failure per spec §7.
	Kind ErrorKind

	// Err is the underlying error with the human-readable message.
	Err error

	// Hint, if set, is appended to Error() on its own paragraph.
	Hint string
}

// Error returns the underlying message, plus the hint paragraph if set.
func (e *Error) Error() string {
	if e.Hint == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + "\n\n" + e.Hint
}

// Unwrap allows errors.Is and errors.As to walk the chain through Error.
func (e *Error) Unwrap() error { return e.Err }

// WithHint attaches a hint and returns the receiver for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// ExitCode maps Kind to the exit code promised by spec §7: 0 on
// success, 1 for every documented failure (no finer-grained codes are
// promised for any command).
func (e *Error) ExitCode() int {
	return 1
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ConfigInvalid reports a config load/parse failure.
func ConfigInvalid(format string, args ...any) *Error {
	return newError(KindConfigInvalid, format, args...)
}

// StorageUnavailable reports that every permitted storage backend failed.
func StorageUnavailable(format string, args ...any) *Error {
	return newError(KindStorageUnavailable, format, args...)
}

// KernelProtocolMismatch reports an LKM protocol version mismatch.
func KernelProtocolMismatch(format string, args ...any) *Error {
	return newError(KindKernelProtocolMismatch, format, args...)
}

// KernelUnavailable reports that the control channel could not be reached.
func KernelUnavailable(format string, args ...any) *Error {
	return newError(KindKernelUnavailable, format, args...)
}

// MountFailed reports that a single overlay or bind operation failed.
func MountFailed(format string, args ...any) *Error {
	return newError(KindMountFailed, format, args...)
}

// SyncFailed reports that content replication failed for one module.
func SyncFailed(format string, args ...any) *Error {
	return newError(KindSyncFailed, format, args...)
}

// InvalidInput reports a CLI argument validation failure.
func InvalidInput(format string, args ...any) *Error {
	return newError(KindInvalidInput, format, args...)
}
