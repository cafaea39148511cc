// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// recordingTB captures Fatalf instead of stopping the test. Fatalf
// panics so helpers do not run past the failure, matching
// testing.T.FailNow.
type recordingTB struct {
	message string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.message = fmt.Sprintf(format, args...)
	panic(r)
}

func expectFatal(t *testing.T, want string, body func(tb TB)) {
	t.Helper()
	recorder := &recordingTB{}
	func() {
		defer func() {
			if recovered := recover(); recovered != nil && recovered != recorder {
				panic(recovered)
			}
		}()
		body(recorder)
	}()
	if !strings.Contains(recorder.message, want) {
		t.Errorf("Fatalf message %q does not contain %q", recorder.message, want)
	}
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second, "value"); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}

	expectFatal(t, "timed out", func(tb TB) {
		RequireReceive(tb, make(chan int), 10*time.Millisecond, "never sent")
	})

	closed := make(chan int)
	close(closed)
	expectFatal(t, "channel closed", func(tb TB) {
		RequireReceive(tb, closed, time.Second, "closed")
	})
}

func TestRequireSend(t *testing.T) {
	ch := make(chan string, 1)
	RequireSend(t, ch, "x", time.Second, "buffered")
	if got := <-ch; got != "x" {
		t.Errorf("received %q, want x", got)
	}

	expectFatal(t, "timed out", func(tb TB) {
		RequireSend(tb, make(chan string), "y", 10*time.Millisecond, "no reader")
	})
}

func TestRequireClosed(t *testing.T) {
	ready := make(chan struct{})
	close(ready)
	RequireClosed(t, ready, time.Second, "ready")

	expectFatal(t, "waiting for channel close: worker 3", func(tb TB) {
		RequireClosed(tb, make(chan struct{}), 10*time.Millisecond, "worker %d", 3)
	})
}

func TestRequireEventually(t *testing.T) {
	calls := 0
	RequireEventually(t, func() bool {
		calls++
		return calls == 3
	}, time.Second, "third call")

	expectFatal(t, "condition not met", func(tb TB) {
		RequireEventually(tb, func() bool { return false }, 30*time.Millisecond, "never")
	})
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		args []any
		want string
	}{
		{nil, "(no message)"},
		{[]any{"plain"}, "plain"},
		{[]any{42}, "42"},
		{[]any{"worker %d of %d", 2, 5}, "worker 2 of 5"},
	}
	for _, test := range tests {
		if got := formatMessage(test.args); got != test.want {
			t.Errorf("formatMessage(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}

func TestUniqueID(t *testing.T) {
	first := UniqueID("user")
	second := UniqueID("user")
	if first == second {
		t.Errorf("UniqueID returned %q twice", first)
	}
	if !strings.HasPrefix(first, "user-") {
		t.Errorf("UniqueID(%q) = %q, want user- prefix", "user", first)
	}
}
