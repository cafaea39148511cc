// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds Unix socket helpers shared by the name-service
// server and the control socket: classifying ordinary disconnects and
// reading the caller's credentials.
package netutil
