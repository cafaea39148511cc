// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// minimal is the smallest configuration that validates.
const minimal = `
ldap:
  uris: [ldap://ldap.example.com]
  base: [dc=example,dc=com]
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Socket != "/var/run/nslcd/socket" {
		t.Errorf("expected socket=/var/run/nslcd/socket, got %s", cfg.Server.Socket)
	}
	if cfg.Server.Threads != 5 {
		t.Errorf("expected threads=5, got %d", cfg.Server.Threads)
	}
	if cfg.Server.ReadTimeout.Std() != 60*time.Second {
		t.Errorf("expected read_timeout=60s, got %s", cfg.Server.ReadTimeout.Std())
	}
	if cfg.Invalidate.Command != "nscd" {
		t.Errorf("expected invalidate command=nscd, got %s", cfg.Invalidate.Command)
	}
	mode, err := cfg.Server.FileMode()
	if err != nil || mode != 0o666 {
		t.Errorf("FileMode() = %o, %v; want 666", mode, err)
	}

	// Defaults alone are incomplete: the directory must be named.
	if err := cfg.Validate(); err == nil {
		t.Error("expected default config without URIs to fail validation")
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DIRCACHE_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "DIRCACHE_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, "dircache.yaml", minimal+`
server:
  threads: 8
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Threads != 8 {
		t.Errorf("expected threads=8, got %d", cfg.Server.Threads)
	}
	// Unset keys keep their defaults.
	if cfg.Server.Socket != "/var/run/nslcd/socket" {
		t.Errorf("expected default socket, got %s", cfg.Server.Socket)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "dircache.yaml", `
ldap:
  uris: [ldaps://a.example.com, ldap://b.example.com]
  base: [ou=people,dc=example,dc=com, ou=groups,dc=example,dc=com]
  scope: one
  deref: always
  bind_dn: cn=reader,dc=example,dc=com
  bind_password: secret
  search_timeout: 3s
  page_size: 500
maps:
  passwd:
    bases: [ou=staff,dc=example,dc=com]
    filter: (objectClass=user)
    attributes:
      uid: sAMAccountName
      gecos: '"${displayName:-$cn}"'
server:
  socket_mode: "0660"
cache:
  path: ""
nss:
  min_uid: 1000
  uid_offset: 100
  disable_enumeration: true
pam:
  password_prohibit_message: use the web portal
invalidate:
  enabled: true
  kinds: [passwd, group]
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if len(cfg.LDAP.URIs) != 2 || cfg.LDAP.URIs[0] != "ldaps://a.example.com" {
		t.Errorf("unexpected uris: %v", cfg.LDAP.URIs)
	}
	if len(cfg.LDAP.Base) != 2 {
		t.Errorf("expected 2 bases, got %v", cfg.LDAP.Base)
	}
	if cfg.LDAP.SearchTimeout.Std() != 3*time.Second {
		t.Errorf("expected search_timeout=3s, got %s", cfg.LDAP.SearchTimeout.Std())
	}
	if cfg.LDAP.BindTimeout.Std() != 10*time.Second {
		t.Errorf("expected default bind_timeout=10s, got %s", cfg.LDAP.BindTimeout.Std())
	}
	if cfg.LDAP.PageSize != 500 {
		t.Errorf("expected page_size=500, got %d", cfg.LDAP.PageSize)
	}

	passwd, ok := cfg.Maps["passwd"]
	if !ok {
		t.Fatal("expected a passwd map override")
	}
	if passwd.Filter != "(objectClass=user)" {
		t.Errorf("unexpected filter %q", passwd.Filter)
	}
	if passwd.Attributes["gecos"] != `"${displayName:-$cn}"` {
		t.Errorf("expression mapping was altered: %q", passwd.Attributes["gecos"])
	}

	mode, err := cfg.Server.FileMode()
	if err != nil || mode != 0o660 {
		t.Errorf("FileMode() = %o, %v; want 660", mode, err)
	}
	if cfg.Cache.Path != "" {
		t.Errorf("expected cache disabled, got path %q", cfg.Cache.Path)
	}
	if cfg.NSS.MinUID != 1000 || cfg.NSS.UIDOffset != 100 || !cfg.NSS.DisableEnumeration {
		t.Errorf("unexpected nss section: %+v", cfg.NSS)
	}
	if cfg.PAM.PasswordProhibitMessage != "use the web portal" {
		t.Errorf("unexpected prohibit message %q", cfg.PAM.PasswordProhibitMessage)
	}
	if !cfg.Invalidate.Enabled || len(cfg.Invalidate.Kinds) != 2 {
		t.Errorf("unexpected invalidate section: %+v", cfg.Invalidate)
	}
}

func TestLoadFile_JSONWithComments(t *testing.T) {
	path := writeConfig(t, "dircache.jsonc", `{
  // Primary and fallback servers.
  "ldap": {
    "uris": ["ldap://ldap.example.com"],
    "base": ["dc=example,dc=com"], /* trailing comma below */
  },
  "server": {"threads": 2},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Server.Threads != 2 {
		t.Errorf("expected threads=2, got %d", cfg.Server.Threads)
	}
}

func TestLoadFile_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "dircache.yaml", minimal+`
server:
  thread: 8
`)
	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected error for misspelled key")
	}
	if !strings.Contains(err.Error(), "thread") {
		t.Errorf("error should name the unknown key: %v", err)
	}
}

func TestLoadFile_BadDuration(t *testing.T) {
	path := writeConfig(t, "dircache.yaml", minimal+`
  search_timeout: soon
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("DIRCACHE_TEST_VAR", "/custom/value")
	t.Setenv("DIRCACHE_TEST_EMPTY", "")

	tests := []struct {
		input    string
		expected string
	}{
		{"${DIRCACHE_TEST_VAR}/cache.db", "/custom/value/cache.db"},
		{"${DIRCACHE_TEST_UNSET:-/default}/cache.db", "/default/cache.db"},
		{"${DIRCACHE_TEST_EMPTY:-fallback}", "fallback"},
		{"${DIRCACHE_TEST_VAR:-ignored}", "/custom/value"},
		{"no variables", "no variables"},
		{"${DIRCACHE_TEST_UNSET}", ""},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			if got := expandVars(test.input); got != test.expected {
				t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.expected)
			}
		})
	}
}

func TestLoadFile_ExpandsBindPassword(t *testing.T) {
	t.Setenv("DIRCACHE_TEST_SECRET", "hunter2")
	path := writeConfig(t, "dircache.yaml", minimal+`
  bind_dn: cn=reader,dc=example,dc=com
  bind_password: ${DIRCACHE_TEST_SECRET}
cache:
  path: ${DIRCACHE_TEST_STATE:-/tmp/state}/cache.db
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.LDAP.BindPassword != "hunter2" {
		t.Errorf("expected expanded password, got %q", cfg.LDAP.BindPassword)
	}
	if cfg.Cache.Path != "/tmp/state/cache.db" {
		t.Errorf("expected expanded cache path, got %q", cfg.Cache.Path)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.LDAP.URIs = []string{"ldap://ldap.example.com"}
		cfg.LDAP.Base = []string{"dc=example,dc=com"}
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"no uris", func(c *Config) { c.LDAP.URIs = nil }, "ldap.uris"},
		{"bad scheme", func(c *Config) { c.LDAP.URIs = []string{"http://x"} }, "scheme"},
		{"no base", func(c *Config) { c.LDAP.Base = nil }, "ldap.base"},
		{"bad scope", func(c *Config) { c.LDAP.Scope = "children" }, "ldap.scope"},
		{"bad deref", func(c *Config) { c.LDAP.Deref = "sometimes" }, "ldap.deref"},
		{"password without dn", func(c *Config) { c.LDAP.BindPassword = "x" }, "bind_dn"},
		{"password file without dn", func(c *Config) { c.LDAP.BindPasswordFile = "/etc/dircache/bindpw" }, "bind_dn"},
		{"both passwords", func(c *Config) {
			c.LDAP.BindDN = "cn=reader,dc=example,dc=com"
			c.LDAP.BindPassword = "x"
			c.LDAP.BindPasswordFile = "/etc/dircache/bindpw"
		}, "mutually exclusive"},
		{"zero timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "server.read_timeout"},
		{"bad map scope", func(c *Config) {
			c.Maps = map[string]MapConfig{"group": {Scope: "wide"}}
		}, "maps.group.scope"},
		{"no socket", func(c *Config) { c.Server.Socket = "" }, "server.socket"},
		{"decimal mode", func(c *Config) { c.Server.SocketMode = "666x" }, "socket_mode"},
		{"mode too wide", func(c *Config) { c.Server.SocketMode = "7777" }, "socket_mode"},
		{"no threads", func(c *Config) { c.Server.Threads = 0 }, "server.threads"},
		{"no pool", func(c *Config) { c.Cache.PoolSize = 0 }, "cache.pool_size"},
		{"negative min uid", func(c *Config) { c.NSS.MinUID = -1 }, "nss.min_uid"},
		{"invalidate without command", func(c *Config) {
			c.Invalidate.Enabled = true
			c.Invalidate.Command = ""
		}, "invalidate.command"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := valid()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), test.message) {
				t.Errorf("error %q does not mention %q", err, test.message)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Server.Threads = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"ldap.uris", "ldap.base", "server.threads"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestDisabledCacheSkipsPoolCheck(t *testing.T) {
	cfg := Default()
	cfg.LDAP.URIs = []string{"ldapi:///"}
	cfg.LDAP.Base = []string{"dc=example,dc=com"}
	cfg.Cache.Path = ""
	cfg.Cache.PoolSize = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}
