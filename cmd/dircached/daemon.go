// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/clock"
	"github.com/bureau-foundation/dircache/lib/config"
	"github.com/bureau-foundation/dircache/lib/control"
	"github.com/bureau-foundation/dircache/lib/directory"
	"github.com/bureau-foundation/dircache/lib/dispatch"
	"github.com/bureau-foundation/dircache/lib/invalidate"
	"github.com/bureau-foundation/dircache/lib/nss"
	"github.com/bureau-foundation/dircache/lib/secret"
)

// controlSocketMode lets every local user reach the read-only control
// actions. Privileged actions check the caller's credentials.
const controlSocketMode = 0o666

// daemonOptions carries the dependencies tests replace.
type daemonOptions struct {
	logger *slog.Logger
	clock  clock.Clock
	// dial replaces real LDAP connections.
	dial directory.DialFunc
	// runCommand replaces running the invalidation command.
	runCommand invalidate.RunFunc
}

// Daemon owns every long-lived component of dircached.
type Daemon struct {
	registry    *nss.Registry
	cache       *cache.Cache
	writer      *cache.Writer
	dispatcher  *dispatch.Dispatcher
	server      *dispatch.Server
	control     *control.Server
	invalidator *invalidate.Invalidator

	directory directory.Config
	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger
}

// newRegistry builds the record kinds and request handlers described by
// cfg.
func newRegistry(cfg *config.Config) (*nss.Registry, error) {
	scope, err := directory.ParseScope(cfg.LDAP.Scope)
	if err != nil {
		return nil, err
	}
	maps := make(map[string]nss.MapOverride, len(cfg.Maps))
	for name, mapConfig := range cfg.Maps {
		override := nss.MapOverride{
			Bases:      mapConfig.Bases,
			Filter:     mapConfig.Filter,
			Attributes: mapConfig.Attributes,
		}
		if mapConfig.Scope != "" {
			mapScope, err := directory.ParseScope(mapConfig.Scope)
			if err != nil {
				return nil, fmt.Errorf("maps.%s: %w", name, err)
			}
			override.Scope = &mapScope
		}
		maps[name] = override
	}
	return nss.NewRegistry(nss.Options{
		Bases:                   cfg.LDAP.Base,
		Scope:                   scope,
		Maps:                    maps,
		MinUID:                  cfg.NSS.MinUID,
		UIDOffset:               cfg.NSS.UIDOffset,
		GIDOffset:               cfg.NSS.GIDOffset,
		DisableEnumeration:      cfg.NSS.DisableEnumeration,
		PasswordProhibitMessage: cfg.PAM.PasswordProhibitMessage,
	})
}

// bindPassword returns the configured bind password, reading it from
// bind_password_file when that is set.
func bindPassword(cfg *config.LDAPConfig) (string, error) {
	if cfg.BindPasswordFile == "" {
		return cfg.BindPassword, nil
	}
	buffer, err := secret.ReadFromPath(cfg.BindPasswordFile)
	if err != nil {
		return "", fmt.Errorf("reading bind password: %w", err)
	}
	defer buffer.Close()
	return buffer.String(), nil
}

// databasesFor maps record kind names to the system cache databases
// they belong to, sorted and without duplicates. Kinds with no system
// cache database are skipped.
func databasesFor(registry *nss.Registry, kinds []string) ([]string, error) {
	seen := make(map[string]bool)
	var databases []string
	var errs []error
	for _, name := range kinds {
		kind, ok := registry.Kind(name)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown kind %q", name))
			continue
		}
		if kind.Database == "" || seen[kind.Database] {
			continue
		}
		seen[kind.Database] = true
		databases = append(databases, kind.Database)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	slices.Sort(databases)
	return databases, nil
}

// newDaemon builds every component from cfg. Nothing listens until Run.
// On error, anything already opened is closed.
func newDaemon(cfg *config.Config, options daemonOptions) (_ *Daemon, err error) {
	logger := options.logger
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	clk := options.clock
	if clk == nil {
		clk = clock.Real()
	}

	d := &Daemon{clock: clk, startedAt: clk.Now(), logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.registry, err = newRegistry(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Invalidate.Enabled {
		reconnect, err := databasesFor(d.registry, cfg.Invalidate.Kinds)
		if err != nil {
			return nil, fmt.Errorf("invalidate.kinds: %w", err)
		}
		d.invalidator, err = invalidate.New(invalidate.Config{
			Command:   cfg.Invalidate.Command,
			Reconnect: reconnect,
			Run:       options.runCommand,
			Logger:    logger.With("component", "invalidate"),
		})
		if err != nil {
			return nil, err
		}
	}

	deref, err := directory.ParseDeref(cfg.LDAP.Deref)
	if err != nil {
		return nil, err
	}
	password, err := bindPassword(&cfg.LDAP)
	if err != nil {
		return nil, err
	}
	d.directory = directory.Config{
		URIs:           cfg.LDAP.URIs,
		BindDN:         cfg.LDAP.BindDN,
		BindPassword:   password,
		StartTLS:       cfg.LDAP.StartTLS,
		TLSConfig:      &tls.Config{InsecureSkipVerify: cfg.LDAP.TLSSkipVerify},
		ConnectTimeout: cfg.LDAP.BindTimeout.Std(),
		SearchTimeout:  cfg.LDAP.SearchTimeout.Std(),
		ReconnectRetry: cfg.LDAP.ReconnectRetry.Std(),
		PageSize:       cfg.LDAP.PageSize,
		Deref:          deref,
		Dial:           options.dial,
		OnConnect:      d.invalidator.NotifyReconnect,
		Clock:          clk,
	}

	if cfg.Cache.Path != "" {
		d.cache, err = cache.Open(cache.Config{
			Path:     cfg.Cache.Path,
			PoolSize: cfg.Cache.PoolSize,
			Schemas:  d.registry.Schemas(),
			Clock:    clk,
			Logger:   logger.With("component", "cache"),
		})
		if err != nil {
			return nil, err
		}
		d.writer = cache.NewWriter(d.cache, logger.With("component", "cache"), cfg.Cache.QueueDepth)
	} else {
		logger.Warn("cache disabled, lookups fail while the directory is unreachable")
	}

	d.dispatcher, err = dispatch.New(dispatch.Config{
		Registry:     d.registry,
		Cache:        d.cache,
		Writer:       d.writer,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	socketMode, err := cfg.Server.FileMode()
	if err != nil {
		return nil, err
	}
	d.server, err = dispatch.NewServer(dispatch.ServerConfig{
		SocketPath: cfg.Server.Socket,
		SocketMode: socketMode,
		Workers:    cfg.Server.Threads,
		Sessions:   d.openSession,
		Dispatcher: d.dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Server.ControlSocket != "" {
		d.control = control.NewServer(cfg.Server.ControlSocket, controlSocketMode, logger.With("component", "control"))
		d.registerActions(d.control)
	}
	return d, nil
}

// openSession gives each worker its own directory connection.
func (d *Daemon) openSession(worker int) (directory.Session, error) {
	connConfig := d.directory
	connConfig.Logger = d.logger.With("worker", worker)
	conn, err := directory.New(connConfig)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Run serves until ctx is cancelled or a server fails, then shuts every
// component down. It returns every component failure joined.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := func(name string, serve func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serve(ctx); err != nil {
				d.logger.Error("component failed", "component", name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				cancel()
			}
		}()
	}

	start("name-service socket", d.server.Serve)
	if d.control != nil {
		start("control socket", d.control.Serve)
	}
	if d.invalidator != nil {
		start("invalidator", d.invalidator.Run)
	}

	<-ctx.Done()
	d.logger.Info("shutting down")
	wg.Wait()

	if err := d.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close drains the cache writer and closes the cache. It is safe to
// call on a partially built Daemon.
func (d *Daemon) Close() error {
	if d.writer != nil {
		d.writer.Close()
		d.writer = nil
	}
	if d.cache != nil {
		err := d.cache.Close()
		d.cache = nil
		if err != nil {
			return fmt.Errorf("closing cache: %w", err)
		}
	}
	return nil
}
