package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/sentinel-mysql/lifecycle"
	"github.com/kroma-labs/sentinel-mysql/metadata"
)

// Compile-time interface checks.
var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.DriverContext = (*Driver)(nil)
	_ driver.Connector     = (*connector)(nil)
	_ driver.Connector     = (*dsnConnector)(nil)
)

// Span actions of driver level operations.
const (
	ActionConnect       = "Connection#connect"
	ActionBegin         = "Connection#beginTransaction"
	ActionCommit        = "Connection#commit"
	ActionRollback      = "Connection#rollback"
	ActionPing          = "Connection#ping"
	ActionQuery         = "Pool#query"
	ActionExec          = "Pool#exec"
	ActionGetConnection = "Pool#getConnection"
	ActionClusterGet    = "PoolCluster#getConnection"
)

// Driver is an instrumented driver.Driver.
//
// Obtain one from Registry.Install; it is safe to register with
// database/sql or to use directly through Connect, OpenPool and NewCluster.
type Driver struct {
	base   driver.Driver
	kind   Kind
	cfg    *config
	reg    *Registry
	logger zerolog.Logger

	shapeOnce sync.Once
}

func newDriver(reg *Registry, base driver.Driver, kind Kind, cfg *config) *Driver {
	return &Driver{
		base:   base,
		kind:   kind,
		cfg:    cfg,
		reg:    reg,
		logger: cfg.Logger.With().Str("component", "driver").Str("driver", fmt.Sprintf("%T", base)).Logger(),
	}
}

// Unwrap returns the instrumented base driver.
func (d *Driver) Unwrap() driver.Driver { return d.base }

// Kind returns the completion convention recorded at install time.
func (d *Driver) Kind() Kind { return d.kind }

// Manager returns the span lifecycle manager of the driver.
func (d *Driver) Manager() *lifecycle.Manager { return d.cfg.Manager }

// Open implements driver.Driver.
func (d *Driver) Open(name string) (driver.Conn, error) {
	conn, err := d.base.Open(name)
	if err != nil {
		return nil, err
	}
	return d.newConn(conn, d.describe(name)), nil
}

// OpenConnector implements driver.DriverContext.
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	info := d.describe(name)

	if dc, ok := d.base.(driver.DriverContext); ok {
		base, err := dc.OpenConnector(name)
		if err != nil {
			return nil, err
		}
		return &connector{base: base, drv: d, info: info}, nil
	}

	d.logger.Debug().
		Err(ErrUnsupportedShape).
		Str("member", "DriverContext").
		Msg("falling back to Open for connections")
	// Fallback for drivers that don't implement DriverContext
	return &dsnConnector{dsn: name, drv: d, info: info}, nil
}

// describe extracts instance info from a data source name. Unparseable
// names yield empty info, which omits the attributes.
func (d *Driver) describe(dsn string) metadata.Info {
	info, err := metadata.FromDSN(dsn)
	if err != nil {
		d.logger.Debug().Err(err).Msg("instance metadata unavailable")
		return metadata.Info{}
	}
	return info
}

// Connect opens a single dedicated connection to dsn.
//
// The connection is backed by its own one-connection handle; Close releases
// both.
func (d *Driver) Connect(ctx context.Context, dsn string) (*Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(c)
	db.SetMaxOpenConns(1)

	sc, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Conn{conn: sc, owned: db}, nil
}

// OpenPool opens a connection pool on dsn.
func (d *Driver) OpenPool(dsn string) (*Pool, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	p := newPool(sql.OpenDB(c), d, d.cfg, d.describe(dsn))
	if d.reg != nil {
		d.reg.track(p)
	}
	return p, nil
}

// NewCluster creates an empty pool cluster whose pools use this driver.
func (d *Driver) NewCluster(opts ...ClusterOption) *Cluster {
	return newCluster(d, opts...)
}

// checkShape logs, once per driver, the optional members of conn that the
// base driver does not provide.
func (d *Driver) checkShape(conn driver.Conn) {
	d.shapeOnce.Do(func() {
		missing := make([]string, 0, 6)
		if _, ok := conn.(driver.ExecerContext); !ok {
			if _, ok := conn.(driver.Execer); !ok { //nolint:staticcheck // legacy fallback
				missing = append(missing, "ExecerContext")
			}
		}
		if _, ok := conn.(driver.QueryerContext); !ok {
			if _, ok := conn.(driver.Queryer); !ok { //nolint:staticcheck // legacy fallback
				missing = append(missing, "QueryerContext")
			}
		}
		if _, ok := conn.(driver.ConnBeginTx); !ok {
			missing = append(missing, "ConnBeginTx")
		}
		if _, ok := conn.(driver.Pinger); !ok {
			missing = append(missing, "Pinger")
		}
		if _, ok := conn.(driver.SessionResetter); !ok {
			missing = append(missing, "SessionResetter")
		}
		if _, ok := conn.(driver.Validator); !ok {
			missing = append(missing, "Validator")
		}
		if len(missing) > 0 {
			d.logger.Debug().
				Err(ErrUnsupportedShape).
				Strs("members", missing).
				Msg("optional driver members skipped")
		}
	})
}

// connector wraps a driver.Connector with instrumentation.
type connector struct {
	base driver.Connector
	drv  *Driver
	info metadata.Info
}

// Connect implements driver.Connector.
func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	ctx, h := c.drv.cfg.Manager.Begin(ctx, lifecycle.ActionOf(ActionConnect, c.info))
	conn, err := c.base.Connect(ctx)
	h.Finish(err)
	if err != nil {
		return nil, err
	}
	return c.drv.newConn(conn, c.info), nil
}

// Driver implements driver.Connector.
func (c *connector) Driver() driver.Driver {
	return c.drv
}

// dsnConnector is a fallback connector for drivers that don't implement DriverContext.
type dsnConnector struct {
	dsn  string
	drv  *Driver
	info metadata.Info
}

// Connect implements driver.Connector.
func (c *dsnConnector) Connect(ctx context.Context) (driver.Conn, error) {
	_, h := c.drv.cfg.Manager.Begin(ctx, lifecycle.ActionOf(ActionConnect, c.info))
	conn, err := c.drv.base.Open(c.dsn)
	h.Finish(err)
	if err != nil {
		return nil, err
	}
	return c.drv.newConn(conn, c.info), nil
}

// Driver implements driver.Connector.
func (c *dsnConnector) Driver() driver.Driver {
	return c.drv
}
