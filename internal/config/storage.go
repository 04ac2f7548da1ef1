package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// PostgresConnectionString returns the keyword/value DSN consumed by
// pgxpool. Every value goes through escapeDSN so passwords containing
// spaces, quotes or = survive parsing.
func (c *Config) PostgresConnectionString() string {
	pairs := []string{
		"host=" + escapeDSN(c.PostgresHost),
		"port=" + strconv.Itoa(c.PostgresPort),
		"user=" + escapeDSN(c.PostgresUser),
		"password=" + escapeDSN(c.PostgresPassword),
		"dbname=" + escapeDSN(c.PostgresDBName),
		"sslmode=" + escapeDSN(c.PostgresSSLMode),
	}
	return strings.Join(pairs, " ")
}

// escapeDSN single-quotes a keyword/value DSN value, escaping backslashes
// and embedded quotes.
func escapeDSN(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

// PostgresURL returns the URL form of the connection, used by
// golang-migrate. url.URL handles credential escaping.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		Path:     "/" + c.PostgresDBName,
		RawQuery: url.Values{"sslmode": []string{c.PostgresSSLMode}}.Encode(),
	}
	return u.String()
}

// applyDatabaseURL overlays a postgres:// URL onto the individual
// postgres_* fields. Cloud platforms hand out a single DATABASE_URL, and
// it takes priority over per-field settings. Components absent from the
// URL leave the corresponding field untouched.
func (c *Config) applyDatabaseURL(raw string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_URL scheme must be postgres or postgresql, got %q", u.Scheme)
	}

	if host := u.Hostname(); host != "" {
		c.PostgresHost = host
	}
	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port in DATABASE_URL: %w", err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			c.PostgresUser = name
		}
		if password, ok := u.User.Password(); ok {
			c.PostgresPassword = password
		}
	}
	if dbname := strings.TrimPrefix(u.Path, "/"); dbname != "" {
		c.PostgresDBName = dbname
	}
	if sslmode := u.Query().Get("sslmode"); sslmode != "" {
		c.PostgresSSLMode = sslmode
	}
	return nil
}
