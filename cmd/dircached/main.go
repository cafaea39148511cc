// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dircache/lib/config"
	"github.com/bureau-foundation/dircache/lib/process"
	"github.com/bureau-foundation/dircache/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("dircached", pflag.ContinueOnError)
	var (
		configPath  string
		debug       bool
		checkOnly   bool
		showVersion bool
	)
	flags.StringVarP(&configPath, "config", "c", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flags.BoolVarP(&debug, "debug", "d", false, "log at debug level")
	flags.BoolVar(&checkOnly, "check", false, "validate the configuration and exit")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &process.ExitError{Code: 2, Err: err}
	}
	if flags.NArg() > 0 {
		return &process.ExitError{Code: 2, Err: fmt.Errorf("unexpected arguments: %v", flags.Args())}
	}

	if showVersion {
		fmt.Printf("dircached %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if checkOnly {
		if _, err := newRegistry(cfg); err != nil {
			return err
		}
		fmt.Println("configuration ok")
		return nil
	}

	daemon, err := newDaemon(cfg, daemonOptions{logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("dircached starting",
		"version", version.Info(),
		"socket", cfg.Server.Socket,
		"control_socket", cfg.Server.ControlSocket,
		"cache", cfg.Cache.Path,
	)
	return daemon.Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
