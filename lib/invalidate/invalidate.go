// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package invalidate tells the system name-service cache (nscd) to drop
// its entries for a database after the directory reconnects or an
// operator asks for it.
//
// [Invalidator.Notify] never blocks: it marks databases pending and
// wakes the background loop started by [Invalidator.Run], which runs
// "<command> -i <database>" once per pending database. A database
// notified again while pending is invalidated once.
package invalidate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// Databases lists the name-service databases the system cache knows.
var Databases = map[string]bool{
	"aliases":   true,
	"ethers":    true,
	"group":     true,
	"hosts":     true,
	"netgroup":  true,
	"networks":  true,
	"passwd":    true,
	"protocols": true,
	"rpc":       true,
	"services":  true,
	"shadow":    true,
}

// commandTimeout bounds one invalidation command.
const commandTimeout = 30 * time.Second

// maxOutput is how much command output is kept for the log.
const maxOutput = 1024

// RunFunc runs one command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config configures an Invalidator.
type Config struct {
	// Command is the cache control program. Default: nscd.
	Command string
	// Reconnect lists the databases NotifyReconnect invalidates.
	Reconnect []string
	// Run overrides how the command is executed.
	Run    RunFunc
	Logger *slog.Logger
}

// Invalidator queues and runs cache invalidations.
type Invalidator struct {
	command   string
	reconnect []string
	run       RunFunc
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]bool
	wake    chan struct{}
}

// New validates config and returns an Invalidator. Nothing runs until
// Run is called.
func New(config Config) (*Invalidator, error) {
	if config.Logger == nil {
		return nil, errors.New("invalidate: logger is required")
	}
	if config.Command == "" {
		config.Command = "nscd"
	}
	var errs []error
	for _, database := range config.Reconnect {
		if !Databases[database] {
			errs = append(errs, fmt.Errorf("invalidate: unknown database %q", database))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	run := config.Run
	if run == nil {
		run = runCommand
	}
	return &Invalidator{
		command:   config.Command,
		reconnect: append([]string(nil), config.Reconnect...),
		run:       run,
		logger:    config.Logger,
		pending:   make(map[string]bool),
		wake:      make(chan struct{}, 1),
	}, nil
}

// Notify marks databases for invalidation. Unknown names are logged and
// ignored. A nil Invalidator ignores every notification.
func (i *Invalidator) Notify(databases ...string) {
	if i == nil || len(databases) == 0 {
		return
	}
	i.mu.Lock()
	for _, database := range databases {
		if !Databases[database] {
			i.logger.Warn("ignoring invalidation of unknown database", "database", database)
			continue
		}
		i.pending[database] = true
	}
	i.mu.Unlock()

	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// NotifyReconnect invalidates the databases configured for directory
// reconnection.
func (i *Invalidator) NotifyReconnect() {
	if i == nil {
		return
	}
	i.Notify(i.reconnect...)
}

// Run processes notifications until ctx is cancelled.
func (i *Invalidator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-i.wake:
		}
		for _, database := range i.take() {
			if ctx.Err() != nil {
				return nil
			}
			i.invalidate(ctx, database)
		}
	}
}

// take empties the pending set, returning it sorted.
func (i *Invalidator) take() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	databases := make([]string, 0, len(i.pending))
	for database := range i.pending {
		databases = append(databases, database)
	}
	clear(i.pending)
	sort.Strings(databases)
	return databases
}

func (i *Invalidator) invalidate(ctx context.Context, database string) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	args := []string{"-i", database}
	i.logger.Debug("invalidating name-service cache", "command", i.command, "database", database)
	output, err := i.run(ctx, i.command, args...)
	if len(output) > maxOutput {
		output = output[:maxOutput]
	}
	text := strings.TrimSpace(string(output))
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) && exitError.ExitCode() > 0 {
			// nscd exits non-zero when it is not running.
			i.logger.Debug("name-service cache invalidation failed",
				"database", database,
				"exit_code", exitError.ExitCode(),
				"output", text,
			)
			return
		}
		i.logger.Warn("name-service cache invalidation failed",
			"command", i.command,
			"database", database,
			"error", err,
			"output", text,
		)
		return
	}
	i.logger.Debug("name-service cache invalidated", "database", database, "output", text)
}

// runCommand runs name with a fixed PATH and working directory,
// returning stdout and stderr combined.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var output bytes.Buffer
	command := exec.CommandContext(ctx, name, args...)
	command.Dir = "/"
	command.Env = []string{"PATH=/usr/sbin:/usr/bin:/sbin:/bin"}
	command.Stdout = &output
	command.Stderr = &output
	err := command.Run()
	return output.Bytes(), err
}
