// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the hymomount
// binary.
//
// The central type is [Command], which represents a named subcommand
// with optional nested [Command.Subcommands], a [pflag.FlagSet]
// factory, and a Run function. Commands are assembled into a tree in
// cmd/hymomount/main.go and dispatched via [Command.Execute], which
// handles flag parsing, subcommand routing, and structured help
// output with examples.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match.
//
// [Error] classifies the error kinds from spec §7
// (ConfigInvalid, StorageUnavailable, KernelProtocolMismatch, ...) so
// that the dispatcher in main.go can map a failure to the documented
// exit code without string-matching error text.
package cli
