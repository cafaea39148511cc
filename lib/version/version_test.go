// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

// withBuild overrides the ldflags variables for one test.
func withBuild(t *testing.T, commit, dirty, buildTime string) {
	t.Helper()
	savedCommit, savedDirty, savedTime := GitCommit, GitDirty, BuildTime
	GitCommit, GitDirty, BuildTime = commit, dirty, buildTime
	t.Cleanup(func() {
		GitCommit, GitDirty, BuildTime = savedCommit, savedDirty, savedTime
	})
}

func TestInfo(t *testing.T) {
	withBuild(t, "abc1234", "false", "2026-10-01T00:00:00Z")
	want := Version + " (abc1234, 2026-10-01T00:00:00Z)"
	if got := Info(); got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}

	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("Info() = %q, want dirty marker", got)
	}
}

func TestUserAgent(t *testing.T) {
	withBuild(t, "abc1234", "false", "unknown")
	if got := UserAgent("dircached"); got != "dircached/"+Version+"+abc1234" {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestFromBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-10-01T00:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}}
	got := fromBuildInfo(info)
	want := build{commit: "0123456", dirty: true, time: "2026-10-01T00:00:00Z"}
	if got != want {
		t.Errorf("fromBuildInfo = %+v, want %+v", got, want)
	}

	if got := fromBuildInfo(&debug.BuildInfo{}); got.commit != "unknown" || got.dirty {
		t.Errorf("fromBuildInfo(empty) = %+v", got)
	}
}
