package metadata

import (
	"regexp"
	"sync"
)

// useRegex matches `USE db`, `use `db``, with optional trailing semicolon.
var useRegex = regexp.MustCompile("(?is)^\\s*use\\s+`?([^`\\s;]+)`?\\s*;?\\s*$")

// ParseUse returns the database named by a USE statement.
//
// Example:
//
//	ParseUse("USE orders")   // "orders", true
//	ParseUse("use `b`;")     // "b", true
//	ParseUse("SELECT 1")     // "", false
func ParseUse(statement string) (string, bool) {
	m := useRegex.FindStringSubmatch(statement)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Session tracks the instance info of a single connection.
//
// The database starts as the configured one and follows every successful
// USE statement executed on that connection. Other connections are never
// affected.
type Session struct {
	mu   sync.RWMutex
	info Info
}

// NewSession starts tracking a connection described by info.
func NewSession(info Info) *Session {
	return &Session{info: info}
}

// Info returns the connection's info as of now.
func (s *Session) Info() Info {
	if s == nil {
		return Info{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Database returns the database the connection currently points at.
func (s *Session) Database() string {
	return s.Info().Database
}

// Observe records the outcome of a statement run on the connection.
// It reports whether the current database changed.
func (s *Session) Observe(statement string, err error) bool {
	if s == nil || err != nil {
		return false
	}

	db, ok := ParseUse(statement)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Database == db {
		return false
	}
	s.info.Database = db
	return true
}
