package metadata

import (
	"net/netip"
	"strconv"
	"strings"
)

// Info is what a datastore span reports about the instance it talked to.
//
// Empty fields are omitted from spans rather than reported as blanks.
type Info struct {
	// Host is the configured host, before any loopback substitution.
	Host string

	// PortPathOrID is the TCP port, or the unix socket path when the
	// connection uses one.
	PortPathOrID string

	// Database is the database the statement runs against.
	Database string
}

// IsZero reports whether nothing is known about the instance.
func (i Info) IsZero() bool {
	return i == Info{}
}

// WithDatabase returns a copy of the info reporting db as the database.
func (i Info) WithDatabase(db string) Info {
	i.Database = db
	return i
}

// Extract derives instance info from a configuration.
//
// A missing host becomes "localhost". A socket path takes the port position;
// otherwise a missing port becomes 3306.
//
// Example:
//
//	Extract(Config{Host: "db1", Port: 5000, Database: "orders"})
//	// Info{Host: "db1", PortPathOrID: "5000", Database: "orders"}
//
//	Extract(Config{SocketPath: "/tmp/mysql.sock"})
//	// Info{Host: "localhost", PortPathOrID: "/tmp/mysql.sock"}
func Extract(cfg Config) Info {
	info := Info{
		Host:     cfg.Host,
		Database: cfg.Database,
	}
	if info.Host == "" {
		info.Host = DefaultHost
	}

	switch {
	case cfg.SocketPath != "":
		info.PortPathOrID = cfg.SocketPath
	case cfg.Port > 0:
		info.PortPathOrID = strconv.Itoa(cfg.Port)
	default:
		info.PortPathOrID = strconv.Itoa(DefaultPort)
	}

	return info
}

// FromDSN parses dsn and extracts its instance info.
func FromDSN(dsn string) (Info, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return Info{}, err
	}
	return Extract(cfg), nil
}

// IsLoopback reports whether host names the local machine.
//
// Such hosts are meaningless to anyone reading the trace elsewhere, so
// callers replace them with the machine's hostname.
func IsLoopback(host string) bool {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsUnspecified()
}
