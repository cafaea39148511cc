// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which build of dircached or dircachectl is
// running.
//
// Release builds set the commit with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/dircache/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without it, the VCS stamp that the go command embeds is used.
package version
