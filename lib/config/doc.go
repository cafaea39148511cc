// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the dircached configuration file.
//
// Configuration comes from a single file named by either the
// DIRCACHE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no search path and no per-key environment
// override. YAML is the native format; files ending in .json or .jsonc
// are read as JSON with comments.
//
// Unknown keys are rejected so a misspelled option fails at startup
// instead of silently keeping its default.
//
// ${VAR} and ${VAR:-default} are expanded in socket paths, the cache
// path, the bind DN, the bind password and the bind password file after
// loading.
//
// Key exports:
//
//   - [Config] -- master struct with LDAP, Maps, Server, Cache, NSS,
//     PAM and Invalidate sections
//   - [Default] -- returns a Config with the built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
