package sql

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Kind is the completion convention of the driver entry point being
// installed. It is recorded per installation; both conventions are served
// by the same wrapper.
type Kind uint8

const (
	// KindCallback entry points complete through callbacks or rows.
	KindCallback Kind = iota

	// KindPromise entry points complete through futures.
	KindPromise
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindPromise {
		return "promise"
	}
	return "callback"
}

// Registry remembers which drivers and handles are instrumented, so that
// installing the same thing again never adds a second layer of spans.
//
// Go's sql.Register is process-wide and panics on duplicate names; the
// registry registers each name at most once.
type Registry struct {
	mu      sync.Mutex
	drivers map[any]*Driver
	names   map[string]*Driver
	pools   map[*sql.DB]*Pool
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		drivers: make(map[any]*Driver),
		names:   make(map[string]*Driver),
		pools:   make(map[*sql.DB]*Pool),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

var defaultRegistry = NewRegistry(zerolog.Nop())

// DefaultRegistry returns the process-wide registry used by the package
// level functions.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// identity returns the key under which d is remembered: the pointer for
// pointer drivers, otherwise the dynamic type.
func identity(d driver.Driver) any {
	t := reflect.TypeOf(d)
	if t.Kind() == reflect.Pointer {
		return d
	}
	return t
}

// Install instruments d and reports whether a new wrapper was created.
//
// Installing a driver that is already instrumented, either the *Driver
// itself or a base driver installed before, returns the existing wrapper and
// false; options of later installs are ignored. A nil driver is an
// unsupported shape: it is logged and Install returns nil, false.
func (r *Registry) Install(d driver.Driver, kind Kind, opts ...Option) (*Driver, bool) {
	if d == nil {
		r.logger.Debug().Err(ErrUnsupportedShape).Msg("install skipped: nil driver")
		return nil, false
	}
	if wrapped, ok := d.(*Driver); ok {
		r.logger.Debug().Err(ErrAlreadyWrapped).Str("kind", kind.String()).Msg("install skipped")
		return wrapped, false
	}

	key := identity(d)

	r.mu.Lock()
	defer r.mu.Unlock()

	if wrapped, ok := r.drivers[key]; ok {
		r.logger.Debug().
			Err(ErrAlreadyWrapped).
			Str("driver", fmt.Sprintf("%T", d)).
			Str("kind", kind.String()).
			Str("installed_kind", wrapped.kind.String()).
			Msg("install skipped")
		return wrapped, false
	}

	wrapped := newDriver(r, d, kind, newConfig(opts...))
	r.drivers[key] = wrapped
	r.logger.Info().
		Str("driver", fmt.Sprintf("%T", d)).
		Str("kind", kind.String()).
		Msg("driver instrumented")

	return wrapped, true
}

// Lookup returns the wrapper of d, if d was installed.
func (r *Registry) Lookup(d driver.Driver) (*Driver, bool) {
	if d == nil {
		return nil, false
	}
	if wrapped, ok := d.(*Driver); ok {
		return wrapped, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	wrapped, ok := r.drivers[identity(d)]
	return wrapped, ok
}

// Register installs d and registers the wrapper with database/sql as name.
//
// Registering the same driver under the same name again is a no-op. A name
// database/sql already knows for anything else yields ErrNameTaken instead
// of the panic sql.Register would raise.
//
// Example:
//
//	drv, err := sentinelsql.DefaultRegistry().Register("mysql-traced", &mysql.MySQLDriver{}, sentinelsql.KindCallback)
//	db, err := sql.Open("mysql-traced", dsn)
func (r *Registry) Register(name string, d driver.Driver, kind Kind, opts ...Option) (*Driver, error) {
	wrapped, _ := r.Install(d, kind, opts...)
	if wrapped == nil {
		return nil, fmt.Errorf("register %q: %w", name, ErrUnsupportedShape)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.names[name]; ok {
		if existing != wrapped {
			return nil, fmt.Errorf("register %q: %w", name, ErrNameTaken)
		}
		return wrapped, nil
	}
	if slices.Contains(sql.Drivers(), name) {
		return nil, fmt.Errorf("register %q: %w", name, ErrNameTaken)
	}

	sql.Register(name, wrapped)
	r.names[name] = wrapped
	return wrapped, nil
}

// Open instruments the driver registered with database/sql as driverName
// and opens a pool on dsn through it.
//
// The instrumented driver is not registered under a new name, so independent
// registries can each open pools on the same base driver.
//
// Example:
//
//	import _ "github.com/go-sql-driver/mysql"
//
//	pool, err := sentinelsql.Open("mysql", "user:pass@tcp(db1:3306)/orders")
//	rows, err := pool.Query(ctx, "SELECT * FROM orders WHERE id = ?", 42)
func (r *Registry) Open(driverName, dsn string, opts ...Option) (*Pool, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	base := db.Driver()
	_ = db.Close()

	wrapped, _ := r.Install(base, KindCallback, opts...)
	if wrapped == nil {
		return nil, fmt.Errorf("open %q: %w", driverName, ErrUnsupportedShape)
	}
	return wrapped.OpenPool(dsn)
}

// Instrument wraps an existing handle in a Pool. The same handle always
// yields the same Pool, including handles opened by Driver.OpenPool.
//
// Pool operations are traced either way. Statement spans need the handle to
// be opened through an instrumented driver; otherwise that is logged once as
// an unsupported shape.
func (r *Registry) Instrument(db *sql.DB, opts ...Option) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[db]; ok {
		return p
	}

	var p *Pool
	if drv, ok := db.Driver().(*Driver); ok {
		probe := &config{}
		for _, opt := range opts {
			opt(probe)
		}
		p = newPool(db, drv, drv.cfg, probe.Info)
	} else {
		cfg := newConfig(opts...)
		cfg.Logger.Debug().
			Err(ErrUnsupportedShape).
			Str("driver", fmt.Sprintf("%T", db.Driver())).
			Msg("handle not opened through an instrumented driver; statement spans unavailable")
		p = newPool(db, nil, cfg, cfg.Info)
	}

	p.setRegistry(r)
	r.pools[db] = p
	return p
}

// Install instruments d in the default registry.
func Install(d driver.Driver, kind Kind, opts ...Option) (*Driver, bool) {
	return defaultRegistry.Install(d, kind, opts...)
}

// Register installs d in the default registry and registers it as name.
func Register(name string, d driver.Driver, kind Kind, opts ...Option) (*Driver, error) {
	return defaultRegistry.Register(name, d, kind, opts...)
}

// Open instruments driverName in the default registry and opens a pool.
func Open(driverName, dsn string, opts ...Option) (*Pool, error) {
	return defaultRegistry.Open(driverName, dsn, opts...)
}

// Instrument wraps db in a Pool using the default registry.
func Instrument(db *sql.DB, opts ...Option) *Pool {
	return defaultRegistry.Instrument(db, opts...)
}

// track remembers p as the Pool of its handle.
func (r *Registry) track(p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.setRegistry(r)
	r.pools[p.db] = p
}

// forget drops the Pool of a closed handle.
func (r *Registry) forget(db *sql.DB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pools, db)
}
