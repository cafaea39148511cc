// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	c := Fake(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Errorf("Now() = %v, want %v", got, epoch)
	}
	// Time stands still.
	if got := c.Now(); !got.Equal(epoch) {
		t.Errorf("Now() moved without Advance: %v", got)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	c := Fake(epoch)
	c.Advance(10 * time.Second)
	if got := c.Now().Sub(epoch); got != 10*time.Second {
		t.Errorf("after Advance(10s), elapsed = %v", got)
	}
	c.Advance(-15 * time.Second)
	if got := c.Now().Sub(epoch); got != -5*time.Second {
		t.Errorf("after Advance(-15s), elapsed = %v", got)
	}
}

func TestFakeClockSet(t *testing.T) {
	c := Fake(epoch)
	later := epoch.Add(72 * time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("Now() = %v, want %v", got, later)
	}
}

func TestFakeClockConcurrentAccess(t *testing.T) {
	c := Fake(epoch)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = c.Now()
		}()
	}
	wg.Wait()
	if got := c.Now().Sub(epoch); got != 10*time.Second {
		t.Errorf("elapsed = %v, want 10s", got)
	}
}

func TestImplementsClock(t *testing.T) {
	var _ Clock = Fake(epoch)
	var _ Clock = Real()
}

func TestRealClockMovesForward(t *testing.T) {
	c := Real()
	first := c.Now()
	if c.Now().Before(first) {
		t.Error("real clock went backwards")
	}
}
