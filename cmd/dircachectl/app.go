// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/dircache/lib/codec"
	"github.com/bureau-foundation/dircache/lib/config"
	"github.com/bureau-foundation/dircache/lib/control"
	"github.com/bureau-foundation/dircache/lib/nssclient"
	"github.com/bureau-foundation/dircache/lib/process"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/secret"
	"github.com/bureau-foundation/dircache/lib/version"
)

// app holds the state shared by every command: where output goes and
// the values of the flags parsed for the running command.
type app struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer

	controlSocket string
	socket        string
	outputJSON    bool
	pamService    string
	passwordFile  string
}

func (a *app) root() *Command {
	return &Command{
		Name:    "dircachectl",
		Summary: "Inspect and control a running dircached.",
		Subcommands: []*Command{
			a.statusCommand(),
			a.cacheStatsCommand(),
			a.invalidateCommand(),
			a.flushCommand(),
			a.callCommand(),
			a.getentCommand(),
			a.authCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(a.stdout, "dircachectl %s\n", version.Info())
					return nil
				},
			},
		},
	}
}

// controlFlags binds the flags of commands that use the control socket.
func (a *app) controlFlags(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringVar(&a.controlSocket, "control", config.Default().Server.ControlSocket, "dircached control socket")
	flags.BoolVar(&a.outputJSON, "json", false, "output as JSON")
	return flags
}

// lookupFlags binds the flags of commands that use the name-service
// socket.
func (a *app) lookupFlags(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringVar(&a.socket, "socket", config.Default().Server.Socket, "name-service socket")
	return flags
}

func (a *app) control() *control.Client {
	return control.NewClient(a.controlSocket)
}

// logger returns a text logger when stderr is a terminal and a JSON
// logger otherwise.
func (a *app) logger() *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if file, ok := a.stderr.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return slog.New(slog.NewTextHandler(a.stderr, options))
	}
	return slog.New(slog.NewJSONHandler(a.stderr, options))
}

func (a *app) writeJSON(value any) error {
	encoder := json.NewEncoder(a.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func usageError(format string, args ...any) error {
	return &process.ExitError{Code: 2, Err: fmt.Errorf(format, args...)}
}

func (a *app) statusCommand() *Command {
	return &Command{
		Name:    "status",
		Summary: "Show daemon health and request counters",
		Flags:   func() *pflag.FlagSet { return a.controlFlags("status") },
		Run: func(args []string) error {
			if len(args) != 0 {
				return usageError("status takes no arguments")
			}
			var status control.Status
			if err := a.control().Call(a.ctx, control.ActionStatus, nil, &status); err != nil {
				return err
			}
			if a.outputJSON {
				return a.writeJSON(status)
			}
			cache := "disabled"
			if status.CacheEnabled {
				cache = "enabled"
			}
			reachable := "no"
			if status.Dispatcher.DirectoryReachable {
				reachable = "yes"
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "version:\t%s\n", status.Version)
			fmt.Fprintf(tw, "uptime:\t%s\n", time.Duration(status.UptimeSeconds)*time.Second)
			fmt.Fprintf(tw, "cache:\t%s\n", cache)
			fmt.Fprintf(tw, "workers:\t%d (%d active)\n", status.Server.Workers, status.Server.Active)
			fmt.Fprintf(tw, "requests:\t%d\n", status.Dispatcher.Requests)
			fmt.Fprintf(tw, "cache fallbacks:\t%d\n", status.Dispatcher.Fallbacks)
			fmt.Fprintf(tw, "directory failures:\t%d\n", status.Dispatcher.DirectoryFailures)
			fmt.Fprintf(tw, "directory reachable:\t%s\n", reachable)
			return tw.Flush()
		},
	}
}

func formatUnix(seconds int64) string {
	if seconds == 0 {
		return "-"
	}
	return time.Unix(seconds, 0).UTC().Format(time.RFC3339)
}

func (a *app) cacheStatsCommand() *Command {
	return &Command{
		Name:    "cache-stats",
		Summary: "Show cached record counts per kind",
		Flags:   func() *pflag.FlagSet { return a.controlFlags("cache-stats") },
		Run: func(args []string) error {
			if len(args) != 0 {
				return usageError("cache-stats takes no arguments")
			}
			var stats control.CacheStats
			if err := a.control().Call(a.ctx, control.ActionCacheStats, nil, &stats); err != nil {
				return err
			}
			if a.outputJSON {
				return a.writeJSON(stats)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tRECORDS\tNEWEST\tOLDEST")
			for _, table := range stats.Tables {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", table.Kind, table.Records, formatUnix(table.Newest), formatUnix(table.Oldest))
			}
			return tw.Flush()
		},
	}
}

func (a *app) invalidateCommand() *Command {
	return &Command{
		Name:    "invalidate",
		Summary: "Drop system name-service cache entries for record kinds",
		Usage:   "dircachectl invalidate [KIND...] [flags]",
		Examples: []Example{
			{Description: "Invalidate every database", Command: "dircachectl invalidate"},
			{Description: "Invalidate users and groups", Command: "dircachectl invalidate passwd group"},
		},
		Flags: func() *pflag.FlagSet { return a.controlFlags("invalidate") },
		Run: func(args []string) error {
			var result control.InvalidateResult
			fields := map[string]any{"kinds": args}
			if err := a.control().Call(a.ctx, control.ActionInvalidate, fields, &result); err != nil {
				return err
			}
			if a.outputJSON {
				return a.writeJSON(result)
			}
			a.logger().Info("invalidation queued", "databases", result.Databases)
			return nil
		},
	}
}

func (a *app) flushCommand() *Command {
	return &Command{
		Name:    "flush",
		Summary: "Wait until pending cache writes are stored",
		Flags:   func() *pflag.FlagSet { return a.controlFlags("flush") },
		Run: func(args []string) error {
			if len(args) != 0 {
				return usageError("flush takes no arguments")
			}
			if err := a.control().Call(a.ctx, control.ActionFlush, nil, nil); err != nil {
				return err
			}
			a.logger().Info("cache writes flushed")
			return nil
		},
	}
}

// parseFields turns key=value arguments into request fields. A value
// containing commas becomes a list.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("field %q is not key=value", arg)
		}
		if key == "action" {
			return nil, errors.New(`field "action" is reserved`)
		}
		if strings.Contains(value, ",") {
			fields[key] = strings.Split(value, ",")
		} else {
			fields[key] = value
		}
	}
	return fields, nil
}

func (a *app) callCommand() *Command {
	return &Command{
		Name:    "call",
		Summary: "Call a control action and print the raw response",
		Usage:   "dircachectl call ACTION [key=value...] [flags]",
		Examples: []Example{
			{Command: "dircachectl call cache-stats"},
			{Command: "dircachectl call invalidate kinds=passwd,group"},
		},
		Flags: func() *pflag.FlagSet { return a.controlFlags("call") },
		Run: func(args []string) error {
			if len(args) == 0 {
				return usageError("call requires an action")
			}
			fields, err := parseFields(args[1:])
			if err != nil {
				return usageError("%v", err)
			}
			data, err := a.control().CallRaw(a.ctx, args[0], fields)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				fmt.Fprintln(a.stdout, "ok")
				return nil
			}
			diagnostic, err := codec.Diagnose(data)
			if err != nil {
				return fmt.Errorf("rendering response: %w", err)
			}
			fmt.Fprintln(a.stdout, diagnostic)
			return nil
		},
	}
}

func (a *app) getentCommand() *Command {
	return &Command{
		Name:    "getent",
		Summary: "Look up entries through the name-service socket",
		Usage:   "dircachectl getent DATABASE [KEY] [flags]",
		Examples: []Example{
			{Description: "List every user", Command: "dircachectl getent passwd"},
			{Description: "Look up a service by port", Command: "dircachectl getent services 22/tcp"},
			{Description: "Show a user's groups", Command: "dircachectl getent initgroups alice"},
		},
		Flags: func() *pflag.FlagSet { return a.lookupFlags("getent") },
		Run: func(args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return usageError("getent requires a database and at most one key (databases: %s)",
					strings.Join(nssclient.Databases(), ", "))
			}
			var key string
			if len(args) == 2 {
				key = args[1]
			}
			lines, err := nssclient.New(a.socket).Getent(a.ctx, args[0], key)
			if errors.Is(err, nssclient.ErrNotFound) {
				return &process.ExitError{Code: 2}
			}
			if errors.Is(err, nssclient.ErrUnknownDatabase) {
				return usageError("%v (databases: %s)", err, strings.Join(nssclient.Databases(), ", "))
			}
			if errors.Is(err, nssclient.ErrKeyRequired) {
				return usageError("%v", err)
			}
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(a.stdout, line)
			}
			return nil
		},
	}
}

// authResult is the JSON form of an authentication answer.
type authResult struct {
	Username       string `json:"username"`
	DN             string `json:"dn"`
	Authenticated  bool   `json:"authenticated"`
	Authentication string `json:"authentication"`
	Authorization  string `json:"authorization"`
	Message        string `json:"message,omitempty"`
}

func (a *app) authCommand() *Command {
	return &Command{
		Name:    "auth",
		Summary: "Check a password the way the PAM module does",
		Usage:   "dircachectl auth USER [flags]",
		Flags: func() *pflag.FlagSet {
			flags := a.lookupFlags("auth")
			flags.StringVar(&a.pamService, "service", "login", "PAM service name sent with the request")
			flags.StringVar(&a.passwordFile, "password-file", "", "read the password from this file (- for stdin) instead of prompting")
			flags.BoolVar(&a.outputJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return usageError("auth requires exactly one user name")
			}
			password, err := readPassword(a.passwordFile, a.stderr)
			if err != nil {
				return err
			}
			defer password.Close()

			result, err := nssclient.New(a.socket).Authenticate(a.ctx, args[0], a.pamService, password.Bytes())
			if err != nil {
				return err
			}
			if a.outputJSON {
				if err := a.writeJSON(authResult{
					Username:       result.Username,
					DN:             result.DN,
					Authenticated:  result.Authc == protocol.PAMSuccess,
					Authentication: result.Authc.String(),
					Authorization:  result.Authz.String(),
					Message:        result.Message,
				}); err != nil {
					return err
				}
			} else if result.Authc == protocol.PAMSuccess {
				fmt.Fprintf(a.stdout, "authenticated %s as %s\n", result.Username, result.DN)
				if result.Message != "" {
					fmt.Fprintln(a.stdout, result.Message)
				}
			}
			if result.Authc != protocol.PAMSuccess {
				message := result.Authc.String()
				if result.Message != "" {
					message += ": " + result.Message
				}
				return &process.ExitError{Code: 1, Err: fmt.Errorf("authentication failed: %s", message)}
			}
			return nil
		},
	}
}

// readPassword reads the password from path, or prompts on the
// terminal when path is empty.
func readPassword(path string, prompt io.Writer) (*secret.Buffer, error) {
	if path != "" {
		return secret.ReadFromPath(path)
	}
	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return nil, usageError("no terminal available for the password prompt (use --password-file)")
	}
	fmt.Fprint(prompt, "Password: ")
	password, err := term.ReadPassword(stdin)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	buffer, err := secret.NewFromBytes(password)
	if err != nil {
		secret.Zero(password)
		return nil, err
	}
	return buffer, nil
}
