// Package uri provides parsing and validation for the veralog:// URI scheme.
//
// URI format: veralog://[host]:[port]/[database]
//
// Examples:
//
//	veralog://ledger.example.com:3322/defaultdb
//	veralog://localhost/audit_trail          (default port, database "audit_trail")
//	veralog://10.0.0.7:3322                  (default database)
//
// The host is the ledger server to dial. The port defaults to 3322 when
// omitted. The database is the logical ledger on that server; it also keys
// the local trust anchor, so two URIs naming different databases never share
// verification state.
package uri

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

const scheme = "veralog"

// DefaultPort is used when a URI names no port.
const DefaultPort = "3322"

// DefaultDatabase is used when a URI names no database.
const DefaultDatabase = "defaultdb"

// Database names are lowercase, at most 64 characters.
var dbNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// URI represents a parsed veralog:// URI.
type URI struct {
	Host     string // e.g. "ledger.example.com" — server to dial (url.Host)
	Port     string // e.g. "3322"               — listener port, DefaultPort when omitted
	Database string // e.g. "defaultdb"          — logical database, keys the trust anchor
	raw      string
}

// Parse parses a veralog:// URI string.
//
// The expected structure is:
//
//	veralog://{host}:{port}/{database}
func Parse(raw string) (*URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URI: %w", err)
	}

	if u.Scheme != scheme {
		return nil, fmt.Errorf("unsupported scheme %q: expected %q", u.Scheme, scheme)
	}

	if u.User != nil {
		return nil, fmt.Errorf("URI %q carries credentials: pass them to Login instead", raw)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("missing host in URI %q", raw)
	}

	port := u.Port()
	if port == "" {
		port = DefaultPort
	}

	// Path: /{database}, optional.
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		db = DefaultDatabase
	}
	if strings.Contains(db, "/") {
		return nil, fmt.Errorf("URI %q must name at most one database", raw)
	}

	if err := ValidateDatabase(db); err != nil {
		return nil, err
	}

	return &URI{
		Host:     host,
		Port:     port,
		Database: db,
		raw:      raw,
	}, nil
}

// String returns the canonical veralog:// URI string.
func (u *URI) String() string {
	return fmt.Sprintf("%s://%s/%s", scheme, u.Addr(), u.Database)
}

// Addr returns the host:port dial target.
func (u *URI) Addr() string {
	return net.JoinHostPort(u.Host, u.Port)
}

// MustParse parses a URI and panics on error. Useful in tests and init blocks.
func MustParse(raw string) *URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// ValidateDatabase checks that a database name is usable: lowercase
// letters, digits, underscore or hyphen, between 1 and 64 characters.
func ValidateDatabase(name string) error {
	if name == "" {
		return fmt.Errorf("database name must not be empty")
	}
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("database name %q contains invalid characters", name)
	}
	return nil
}
