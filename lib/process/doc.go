// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the dircache
// binaries: reporting a fatal startup error before the structured
// logger exists, and mapping errors to exit codes.
package process
