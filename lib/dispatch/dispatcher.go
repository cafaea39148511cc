// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/dircache/lib/cache"
	"github.com/bureau-foundation/dircache/lib/directory"
	"github.com/bureau-foundation/dircache/lib/netutil"
	"github.com/bureau-foundation/dircache/lib/nss"
	"github.com/bureau-foundation/dircache/lib/protocol"
	"github.com/bureau-foundation/dircache/lib/wire"
)

var (
	// ErrVersionMismatch is returned for a request with a protocol
	// version other than protocol.Version.
	ErrVersionMismatch = errors.New("unsupported protocol version")
	// ErrUnknownAction is returned for an action code with no handler.
	ErrUnknownAction = errors.New("unknown action")
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 60 * time.Second
)

// Config configures a Dispatcher.
type Config struct {
	Registry *nss.Registry
	// Cache answers requests while the directory is unreachable. Nil
	// disables the fallback.
	Cache *cache.Cache
	// Writer mirrors live records into Cache. Nil disables mirroring.
	Writer *cache.Writer

	// ReadTimeout bounds the wait for each request, including the
	// idle time between requests on one connection.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing each response.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Stats are the dispatcher's counters since start.
type Stats struct {
	Requests uint64 `json:"requests"`
	// Fallbacks counts responses built from the cache.
	Fallbacks uint64 `json:"fallbacks"`
	// DirectoryFailures counts lookups that found the directory
	// unreachable.
	DirectoryFailures uint64 `json:"directory_failures"`
	// DirectoryReachable reports the outcome of the most recent
	// directory lookup. It is true before the first lookup.
	DirectoryReachable bool `json:"directory_reachable"`
}

// Dispatcher answers requests. It is safe for concurrent use by every
// worker.
type Dispatcher struct {
	registry     *nss.Registry
	cache        *cache.Cache
	writer       *cache.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	requests    atomic.Uint64
	fallbacks   atomic.Uint64
	failures    atomic.Uint64
	unreachable atomic.Bool
}

// New validates config and returns a Dispatcher.
func New(config Config) (*Dispatcher, error) {
	if config.Registry == nil {
		return nil, errors.New("dispatch: Registry is required")
	}
	if config.Logger == nil {
		return nil, errors.New("dispatch: Logger is required")
	}
	if config.Writer != nil && config.Cache == nil {
		return nil, errors.New("dispatch: Writer requires Cache")
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	return &Dispatcher{
		registry:     config.Registry,
		cache:        config.Cache,
		writer:       config.Writer,
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
		logger:       config.Logger,
	}, nil
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Requests:           d.requests.Load(),
		Fallbacks:          d.fallbacks.Load(),
		DirectoryFailures:  d.failures.Load(),
		DirectoryReachable: !d.unreachable.Load(),
	}
}

// request is a decoded request.
type request struct {
	handler *nss.Handler
	query   nss.Query
}

// ServeConn answers requests on conn until the client closes it, a
// read fails or times out, or ctx is cancelled. It closes conn.
func (d *Dispatcher) ServeConn(ctx context.Context, conn net.Conn, session directory.Session) {
	defer conn.Close()

	peer, peerErr := netutil.PeerCredentials(conn)
	logger := d.logger.With(
		"session", uuid.NewString(),
		"peer_uid", peer.UID,
		"peer_pid", peer.PID,
	)
	if peerErr != nil {
		logger.Debug("peer credentials unavailable", "error", peerErr)
	}
	env := &nss.Env{Session: session, CallerUID: peer.UID, Logger: logger}

	// Unblock reads and writes when the server shuts down.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	reader := wire.NewReader(conn)
	writer := wire.NewWriter(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(d.readTimeout))
		request, err := d.readRequest(reader)
		if errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrUnknownAction) {
			skipped, resyncErr := d.resync(reader)
			logger.Warn("ignoring request", "error", err, "skipped_bytes", skipped)
			if resyncErr == nil {
				continue
			}
			err = resyncErr
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), netutil.IsExpectedCloseError(err):
			return
		case errors.Is(err, os.ErrDeadlineExceeded):
			logger.Debug("connection idle, closing")
			return
		default:
			logger.Warn("reading request failed", "error", err)
			return
		}

		conn.SetWriteDeadline(time.Now().Add(d.writeTimeout))
		if err := d.respond(ctx, writer, env, request); err != nil {
			logger.Debug("writing response failed", "error", err)
			return
		}
	}
}

// Handle reads one request from r and writes its response to w. It
// returns ErrVersionMismatch or ErrUnknownAction, wrapped, for requests
// that get no response.
func (d *Dispatcher) Handle(ctx context.Context, r *wire.Reader, w *wire.Writer, env *nss.Env) error {
	request, err := d.readRequest(r)
	if err != nil {
		return err
	}
	return d.respond(ctx, w, env, request)
}

// maxResyncBytes bounds how much input a rejected request may leave
// behind before the connection is dropped.
const maxResyncBytes = 64 * 1024

// resync drops the parameters of a rejected request, whose length is
// unknown, by advancing to the next supported version and action pair.
func (d *Dispatcher) resync(r *wire.Reader) (int, error) {
	return r.SkipToHeader(maxResyncBytes, func(version, action int32) bool {
		if version != protocol.Version {
			return false
		}
		_, ok := d.registry.Handler(protocol.Action(action))
		return ok
	})
}

func (d *Dispatcher) readRequest(r *wire.Reader) (request, error) {
	version := r.Int32()
	if err := r.Err(); err != nil {
		return request{}, err
	}
	if version != protocol.Version {
		return request{}, fmt.Errorf("%w: 0x%08x", ErrVersionMismatch, version)
	}
	action := protocol.Action(r.Int32())
	if err := r.Err(); err != nil {
		return request{}, err
	}
	handler, ok := d.registry.Handler(action)
	if !ok {
		return request{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	query, err := handler.Read(r)
	if err != nil {
		return request{}, err
	}
	return request{handler: handler, query: query}, nil
}

// respond runs the lookup and writes the complete response.
func (d *Dispatcher) respond(ctx context.Context, w *wire.Writer, env *nss.Env, request request) error {
	d.requests.Add(1)
	handler := request.handler
	logger := env.Logger.With("action", handler.Action.String())
	scoped := *env
	scoped.Logger = logger

	records, source := d.lookup(ctx, &scoped, request)

	w.Int32(protocol.Version)
	w.Int32(int32(handler.Action))
	written := 0
	for _, record := range records {
		shaped, ok := handler.Shape(&scoped, request.query, record)
		if !ok {
			continue
		}
		shaped.Write(w)
		written++
	}
	w.Int32(protocol.ResultEnd)
	logger.Debug("request answered", "records", written, "source", source)
	return w.Flush()
}

// lookup produces the unshaped records for a request, from the
// directory when it answers and from the cache when it is unreachable.
func (d *Dispatcher) lookup(ctx context.Context, env *nss.Env, request request) ([]nss.Record, string) {
	handler := request.handler
	var live []nss.Record
	err := handler.Lookup(ctx, env, request.query, func(record nss.Record) error {
		live = append(live, record)
		return nil
	})
	if err == nil {
		if handler.Kind != nil {
			d.unreachable.Store(false)
		}
		d.mirror(handler, live, env.Logger)
		return live, "directory"
	}

	if !directory.IsConnectivity(err) {
		env.Logger.Error("lookup failed", "error", err)
		return nil, "none"
	}
	d.failures.Add(1)
	d.unreachable.Store(true)
	if handler.Kind == nil || d.cache == nil {
		env.Logger.Warn("directory unavailable", "error", err)
		return nil, "none"
	}

	env.Logger.Warn("directory unavailable, answering from cache", "error", err)
	d.fallbacks.Add(1)
	var cached []nss.Record
	err = handler.Cached(ctx, d.cache.Table(handler.Kind.Name), request.query, func(record nss.Record) error {
		cached = append(cached, record)
		return nil
	})
	if err != nil {
		env.Logger.Warn("cache lookup failed", "error", err)
		return nil, "none"
	}
	return cached, "cache"
}

// mirror queues live records for the cache.
func (d *Dispatcher) mirror(handler *nss.Handler, records []nss.Record, logger *slog.Logger) {
	if d.writer == nil || handler.Kind == nil || len(records) == 0 {
		return
	}
	encoded := make([]cache.Record, 0, len(records))
	for _, record := range records {
		stored, err := handler.Kind.Encode(record)
		if err != nil {
			logger.Warn("record not cacheable", "error", err)
			continue
		}
		encoded = append(encoded, stored)
	}
	d.writer.Enqueue(handler.Kind.Name, encoded)
}
