// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags -X at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// build describes the running binary.
type build struct {
	commit string
	dirty  bool
	time   string
}

// current prefers the ldflags values and falls back to the VCS stamp
// the go command embeds in module builds.
func current() build {
	if GitCommit != "unknown" {
		return build{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return build{commit: GitCommit, time: BuildTime}
	}
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) build {
	result := build{commit: "unknown", time: "unknown"}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			result.commit = setting.Value
			if len(result.commit) > 7 {
				result.commit = result.commit[:7]
			}
		case "vcs.modified":
			result.dirty = setting.Value == "true"
		case "vcs.time":
			result.time = setting.Value
		}
	}
	return result
}

// Info returns the --version string, e.g.
// "0.1.0-dev (abc1234-dirty, 2026-10-01T00:00:00Z)".
func Info() string {
	b := current()
	dirty := ""
	if b.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, b.commit, dirty, b.time)
}

// UserAgent identifies a program in the control status response, e.g.
// "dircached/0.1.0-dev+abc1234".
func UserAgent(program string) string {
	b := current()
	if b.commit == "unknown" {
		return program + "/" + Version
	}
	return program + "/" + Version + "+" + b.commit
}
