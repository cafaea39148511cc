// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/dircache/lib/directory"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "DIRCACHE_CONFIG"

// Config is the daemon configuration.
type Config struct {
	// LDAP configures the directory connection.
	LDAP LDAPConfig `yaml:"ldap"`

	// Maps overrides the search definition of individual record kinds,
	// keyed by kind name (passwd, group, shadow, ...).
	Maps map[string]MapConfig `yaml:"maps"`

	// Server configures the name-service and control sockets.
	Server ServerConfig `yaml:"server"`

	// Cache configures the offline cache.
	Cache CacheConfig `yaml:"cache"`

	// NSS tunes name-service answers.
	NSS NSSConfig `yaml:"nss"`

	// PAM configures authentication answers.
	PAM PAMConfig `yaml:"pam"`

	// Invalidate configures system name-service cache invalidation.
	Invalidate InvalidateConfig `yaml:"invalidate"`
}

// LDAPConfig configures the directory connection.
type LDAPConfig struct {
	// URIs are tried in order. Schemes: ldap, ldaps, ldapi.
	URIs []string `yaml:"uris"`

	// Base lists the default search bases.
	Base []string `yaml:"base"`

	// Scope is sub, one or base. Default: sub.
	Scope string `yaml:"scope"`

	// Deref is never, searching, finding or always. Default: never.
	Deref string `yaml:"deref"`

	// BindDN and BindPassword authenticate lookups. Empty BindDN binds
	// anonymously. BindPassword supports ${VAR} expansion so the
	// secret can stay out of the file.
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`

	// BindPasswordFile names a file whose first line is the bind
	// password. Mutually exclusive with BindPassword.
	BindPasswordFile string `yaml:"bind_password_file"`

	StartTLS      bool `yaml:"start_tls"`
	TLSSkipVerify bool `yaml:"tls_skip_verify"`

	// BindTimeout bounds connection setup. Default: 10s.
	BindTimeout Duration `yaml:"bind_timeout"`

	// SearchTimeout bounds each search. Default: 10s.
	SearchTimeout Duration `yaml:"search_timeout"`

	// ReconnectRetry is how long lookups fail fast after every URI was
	// unreachable. Default: 10s.
	ReconnectRetry Duration `yaml:"reconnect_retry"`

	// PageSize enables paged searches when positive.
	PageSize uint32 `yaml:"page_size"`
}

// MapConfig overrides one kind's search definition.
type MapConfig struct {
	Bases  []string `yaml:"bases"`
	Scope  string   `yaml:"scope"`
	Filter string   `yaml:"filter"`

	// Attributes maps logical field names to an attribute, a quoted
	// expression, or lower()/upper() of an attribute.
	Attributes map[string]string `yaml:"attributes"`
}

// ServerConfig configures the sockets.
type ServerConfig struct {
	// Socket is the name-service socket the NSS and PAM modules
	// connect to. Default: /var/run/nslcd/socket.
	Socket string `yaml:"socket"`

	// SocketMode is the octal file mode of Socket. Default: 0666.
	SocketMode string `yaml:"socket_mode"`

	// ControlSocket is the administrative socket used by dircachectl.
	// Empty disables it. Default: /run/dircache/control.sock.
	ControlSocket string `yaml:"control_socket"`

	// Threads is the number of connections served concurrently.
	// Default: 5.
	Threads int `yaml:"threads"`

	// ReadTimeout bounds waiting for a request. Default: 60s.
	ReadTimeout Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing a response. Default: 60s.
	WriteTimeout Duration `yaml:"write_timeout"`
}

// CacheConfig configures the offline cache.
type CacheConfig struct {
	// Path is the SQLite database. Empty disables the cache.
	// Default: /var/cache/dircache/cache.db.
	Path string `yaml:"path"`

	// PoolSize is the number of database connections. Default: 4.
	PoolSize int `yaml:"pool_size"`

	// QueueDepth is how many result batches may wait to be written.
	// Default: 256.
	QueueDepth int `yaml:"queue_depth"`
}

// NSSConfig tunes name-service answers.
type NSSConfig struct {
	// MinUID hides accounts with a lower uid.
	MinUID int64 `yaml:"min_uid"`

	// UIDOffset and GIDOffset are added to ids read from the
	// directory.
	UIDOffset int64 `yaml:"uid_offset"`
	GIDOffset int64 `yaml:"gid_offset"`

	// DisableEnumeration answers every enumeration with no entries.
	DisableEnumeration bool `yaml:"disable_enumeration"`
}

// PAMConfig configures authentication answers.
type PAMConfig struct {
	// PasswordProhibitMessage, when set, tells the PAM module to refuse
	// password changes with this message.
	PasswordProhibitMessage string `yaml:"password_prohibit_message"`
}

// InvalidateConfig configures system name-service cache invalidation.
type InvalidateConfig struct {
	Enabled bool `yaml:"enabled"`

	// Command is the cache control program. Default: nscd.
	Command string `yaml:"command"`

	// Kinds lists the record kinds invalidated when the directory
	// connection is (re)established.
	Kinds []string `yaml:"kinds"`
}

// Duration is a time.Duration written as a Go duration string
// ("10s", "1m30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used as the base before a file is
// loaded.
func Default() *Config {
	return &Config{
		LDAP: LDAPConfig{
			Scope:          "sub",
			Deref:          "never",
			BindTimeout:    Duration(10 * time.Second),
			SearchTimeout:  Duration(10 * time.Second),
			ReconnectRetry: Duration(10 * time.Second),
		},
		Server: ServerConfig{
			Socket:        "/var/run/nslcd/socket",
			SocketMode:    "0666",
			ControlSocket: "/run/dircache/control.sock",
			Threads:       5,
			ReadTimeout:   Duration(60 * time.Second),
			WriteTimeout:  Duration(60 * time.Second),
		},
		Cache: CacheConfig{
			Path:       "/var/cache/dircache/cache.db",
			PoolSize:   4,
			QueueDepth: 256,
		},
		Invalidate: InvalidateConfig{
			Command: "nscd",
		},
	}
}

// Load loads the file named by DIRCACHE_CONFIG. There is no search
// path: an unset variable is an error.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your dircache.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads and validates the configuration at path. Files ending
// in .json or .jsonc are read as JSON with comments; anything else is
// YAML. Unknown keys are errors.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in paths and the
// bind credentials.
func (c *Config) expandVariables() {
	c.LDAP.BindDN = expandVars(c.LDAP.BindDN)
	c.LDAP.BindPassword = expandVars(c.LDAP.BindPassword)
	c.LDAP.BindPasswordFile = expandVars(c.LDAP.BindPasswordFile)
	c.Server.Socket = expandVars(c.Server.Socket)
	c.Server.ControlSocket = expandVars(c.Server.ControlSocket)
	c.Cache.Path = expandVars(c.Cache.Path)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration, reporting every problem.
func (c *Config) Validate() error {
	var errs []error

	if len(c.LDAP.URIs) == 0 {
		errs = append(errs, errors.New("ldap.uris: at least one URI is required"))
	}
	for _, uri := range c.LDAP.URIs {
		parsed, err := url.Parse(uri)
		if err != nil {
			errs = append(errs, fmt.Errorf("ldap.uris: %w", err))
			continue
		}
		switch parsed.Scheme {
		case "ldap", "ldaps", "ldapi":
		default:
			errs = append(errs, fmt.Errorf("ldap.uris: %q: scheme must be ldap, ldaps or ldapi", uri))
		}
	}
	if len(c.LDAP.Base) == 0 {
		errs = append(errs, errors.New("ldap.base: at least one search base is required"))
	}
	if _, err := directory.ParseScope(c.LDAP.Scope); err != nil {
		errs = append(errs, fmt.Errorf("ldap.scope: %w", err))
	}
	if _, err := directory.ParseDeref(c.LDAP.Deref); err != nil {
		errs = append(errs, fmt.Errorf("ldap.deref: %w", err))
	}
	if (c.LDAP.BindPassword != "" || c.LDAP.BindPasswordFile != "") && c.LDAP.BindDN == "" {
		errs = append(errs, errors.New("ldap.bind_password is set without ldap.bind_dn"))
	}
	if c.LDAP.BindPassword != "" && c.LDAP.BindPasswordFile != "" {
		errs = append(errs, errors.New("ldap.bind_password and ldap.bind_password_file are mutually exclusive"))
	}
	for name, value := range map[string]Duration{
		"ldap.bind_timeout":    c.LDAP.BindTimeout,
		"ldap.search_timeout":  c.LDAP.SearchTimeout,
		"ldap.reconnect_retry": c.LDAP.ReconnectRetry,
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
	} {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	for kind, override := range c.Maps {
		if override.Scope != "" {
			if _, err := directory.ParseScope(override.Scope); err != nil {
				errs = append(errs, fmt.Errorf("maps.%s.scope: %w", kind, err))
			}
		}
	}

	if c.Server.Socket == "" {
		errs = append(errs, errors.New("server.socket is required"))
	}
	if _, err := c.Server.FileMode(); err != nil {
		errs = append(errs, fmt.Errorf("server.socket_mode: %w", err))
	}
	if c.Server.Threads < 1 {
		errs = append(errs, errors.New("server.threads must be at least 1"))
	}

	if c.Cache.Path != "" && c.Cache.PoolSize < 1 {
		errs = append(errs, errors.New("cache.pool_size must be at least 1"))
	}
	if c.Cache.QueueDepth < 0 {
		errs = append(errs, errors.New("cache.queue_depth must not be negative"))
	}

	if c.NSS.MinUID < 0 {
		errs = append(errs, errors.New("nss.min_uid must not be negative"))
	}

	if c.Invalidate.Enabled && c.Invalidate.Command == "" {
		errs = append(errs, errors.New("invalidate.command is required when invalidation is enabled"))
	}

	return errors.Join(errs...)
}

// FileMode parses SocketMode as an octal permission mode.
func (s ServerConfig) FileMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(s.SocketMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("%q is not an octal mode", s.SocketMode)
	}
	if mode > 0o777 {
		return 0, fmt.Errorf("%q has bits outside 0777", s.SocketMode)
	}
	return os.FileMode(mode), nil
}
