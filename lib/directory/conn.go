// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/bureau-foundation/dircache/lib/clock"
)

// Client is the subset of *ldap.Conn used by Conn. Tests substitute
// an in-memory implementation through Config.Dial.
type Client interface {
	Search(request *ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchWithPaging(request *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	SimpleBind(request *ldap.SimpleBindRequest) (*ldap.SimpleBindResult, error)
	Close() error
}

// DialFunc opens a client connection to one directory URI.
type DialFunc func(uri string) (Client, error)

// SearchRequest describes one search against one base.
type SearchRequest struct {
	Base       string
	Scope      Scope
	Filter     string
	Attributes []string
}

// Session is the directory surface consumed by the search pipeline and
// the authentication handler. *Conn implements it.
type Session interface {
	// Search runs one search. It returns an error wrapping
	// ErrNoSuchObject when the base does not exist and ErrUnavailable
	// when the server cannot be reached.
	Search(ctx context.Context, request SearchRequest) ([]*Entry, error)

	// Authenticate binds as dn with password on a separate
	// connection. A rejected password is reported in the result, not
	// as an error.
	Authenticate(ctx context.Context, dn, password string) (BindResult, error)
}

// Config holds the parameters for a directory connection.
type Config struct {
	// URIs are tried in order until one accepts a connection.
	URIs []string

	// BindDN and BindPassword authenticate the lookup connection.
	// Empty BindDN means anonymous.
	BindDN       string
	BindPassword string

	// StartTLS upgrades ldap:// connections before binding.
	StartTLS bool

	// TLSConfig is cloned per connection; ServerName is filled in
	// from the URI when empty.
	TLSConfig *tls.Config

	// ConnectTimeout bounds connection setup. SearchTimeout bounds
	// every request on an established connection.
	ConnectTimeout time.Duration
	SearchTimeout  time.Duration

	// ReconnectRetry is how long operations fail fast after every URI
	// was found unreachable, before connecting is attempted again.
	ReconnectRetry time.Duration

	// PageSize enables the paged results control when positive.
	PageSize uint32

	// Deref controls alias dereferencing.
	Deref Deref

	// Dial overrides how client connections are opened.
	Dial DialFunc

	// OnConnect is called after the first successful search, and
	// after the first successful search following a connectivity
	// failure.
	OnConnect func()

	Clock  clock.Clock
	Logger *slog.Logger
}

// Conn is a lazily connected, self-healing directory connection.
type Conn struct {
	config Config
	dial   DialFunc
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.Mutex
	client      Client
	uri         string
	needsNotify bool
	lastFailure time.Time
}

// New creates a Conn. No connection is made until the first operation.
func New(config Config) (*Conn, error) {
	if len(config.URIs) == 0 {
		return nil, fmt.Errorf("directory: at least one URI is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	dial := config.Dial
	if dial == nil {
		dial = defaultDial(config)
	}
	return &Conn{
		config:      config,
		dial:        dial,
		clock:       clk,
		logger:      logger,
		needsNotify: true,
	}, nil
}

// defaultDial opens real LDAP connections with go-ldap.
func defaultDial(config Config) DialFunc {
	return func(uri string) (Client, error) {
		tlsConfig := tlsConfigFor(config.TLSConfig, uri)
		conn, err := ldap.DialURL(uri,
			ldap.DialWithDialer(&net.Dialer{Timeout: config.ConnectTimeout}),
			ldap.DialWithTLSConfig(tlsConfig),
		)
		if err != nil {
			return nil, err
		}
		if config.StartTLS && !strings.HasPrefix(strings.ToLower(uri), "ldaps://") {
			if err := conn.StartTLS(tlsConfig); err != nil {
				conn.Close()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
		if config.SearchTimeout > 0 {
			conn.SetTimeout(config.SearchTimeout)
		}
		return conn, nil
	}
}

func tlsConfigFor(base *tls.Config, uri string) *tls.Config {
	var tlsConfig *tls.Config
	if base != nil {
		tlsConfig = base.Clone()
	} else {
		tlsConfig = &tls.Config{}
	}
	if tlsConfig.ServerName == "" {
		if parsed, err := url.Parse(uri); err == nil {
			tlsConfig.ServerName = parsed.Hostname()
		}
	}
	return tlsConfig
}

// Search implements Session.
func (c *Conn) Search(ctx context.Context, request SearchRequest) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastError error
	for attempt := 0; attempt < 2; attempt++ {
		client, err := c.connectLocked()
		if err != nil {
			return nil, err
		}

		result, err := c.searchLocked(client, request)
		if err == nil {
			c.succeededLocked()
			entries := make([]*Entry, 0, len(result.Entries))
			for _, entry := range result.Entries {
				if entry.DN == "" {
					continue
				}
				entries = append(entries, fromLDAP(entry))
			}
			return entries, nil
		}
		if isNoSuchObject(err) {
			c.succeededLocked()
			return nil, fmt.Errorf("searching %s: %w", request.Base, ErrNoSuchObject)
		}
		if !IsConnectivity(err) {
			return nil, fmt.Errorf("searching %s: %w", request.Base, err)
		}

		c.logger.Warn("directory connection failed",
			"uri", c.uri,
			"base", request.Base,
			"error", err,
		)
		c.dropLocked()
		lastError = err
	}
	return nil, fmt.Errorf("%w: searching %s: %v", ErrUnavailable, request.Base, lastError)
}

func (c *Conn) searchLocked(client Client, request SearchRequest) (*ldap.SearchResult, error) {
	timeLimit := 0
	if c.config.SearchTimeout > 0 {
		timeLimit = int(c.config.SearchTimeout / time.Second)
	}
	ldapRequest := ldap.NewSearchRequest(
		request.Base,
		request.Scope.ldap(),
		c.config.Deref.ldap(),
		0,
		timeLimit,
		false,
		request.Filter,
		request.Attributes,
		nil,
	)
	if c.config.PageSize > 0 {
		return client.SearchWithPaging(ldapRequest, c.config.PageSize)
	}
	return client.Search(ldapRequest)
}

// connectLocked returns the live client, dialing and binding if there
// is none.
func (c *Conn) connectLocked() (Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	if !c.lastFailure.IsZero() && c.config.ReconnectRetry > 0 &&
		c.clock.Now().Sub(c.lastFailure) < c.config.ReconnectRetry {
		return nil, fmt.Errorf("%w: no server reachable since %s",
			ErrUnavailable, c.lastFailure.Format(time.RFC3339))
	}

	var failures []error
	for _, uri := range c.config.URIs {
		client, err := c.openLocked(uri)
		if err != nil {
			c.logger.Warn("failed to connect to directory", "uri", uri, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", uri, err))
			continue
		}
		c.client = client
		c.uri = uri
		c.lastFailure = time.Time{}
		c.logger.Debug("connected to directory", "uri", uri)
		return client, nil
	}

	c.lastFailure = c.clock.Now()
	c.needsNotify = true
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(failures...))
}

func (c *Conn) openLocked(uri string) (Client, error) {
	client, err := c.dial(uri)
	if err != nil {
		return nil, err
	}
	if c.config.BindDN != "" {
		_, err := client.SimpleBind(&ldap.SimpleBindRequest{
			Username: c.config.BindDN,
			Password: c.config.BindPassword,
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("binding as %s: %w", c.config.BindDN, err)
		}
	}
	return client, nil
}

// dropLocked closes the current client so the next operation
// reconnects.
func (c *Conn) dropLocked() {
	if c.client != nil {
		c.client.Close()
	}
	c.client = nil
	c.needsNotify = true
}

// succeededLocked fires OnConnect once after a (re)connection has
// proven usable.
func (c *Conn) succeededLocked() {
	if !c.needsNotify {
		return
	}
	c.needsNotify = false
	c.logger.Info("connected to directory server", "uri", c.uri)
	if c.config.OnConnect != nil {
		c.config.OnConnect()
	}
}

// Close closes the underlying connection, if any.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
