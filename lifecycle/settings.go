package lifecycle

import (
	"os"
	"sync"
	"sync/atomic"
)

// Settings holds the reporting toggles.
//
// Both toggles default to enabled and may be flipped while operations are
// in flight; every span reads them when it opens.
type Settings struct {
	instanceOff atomic.Bool
	databaseOff atomic.Bool
}

// NewSettings returns settings with both toggles enabled.
func NewSettings() *Settings {
	return &Settings{}
}

// InstanceReporting reports whether host and port attributes are recorded.
func (s *Settings) InstanceReporting() bool {
	return s == nil || !s.instanceOff.Load()
}

// SetInstanceReporting enables or disables host and port attributes.
func (s *Settings) SetInstanceReporting(enabled bool) {
	s.instanceOff.Store(!enabled)
}

// DatabaseNameReporting reports whether the database_name attribute is recorded.
func (s *Settings) DatabaseNameReporting() bool {
	return s == nil || !s.databaseOff.Load()
}

// SetDatabaseNameReporting enables or disables the database_name attribute.
func (s *Settings) SetDatabaseNameReporting(enabled bool) {
	s.databaseOff.Store(!enabled)
}

var hostname = sync.OnceValue(func() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
})

// Hostname returns the machine's hostname, resolved once per process.
// Loopback hosts are reported as this value.
func Hostname() string {
	return hostname()
}
