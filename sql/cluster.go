package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kroma-labs/sentinel-mysql/cluster"
	"github.com/kroma-labs/sentinel-mysql/completion"
	"github.com/kroma-labs/sentinel-mysql/lifecycle"
	"github.com/kroma-labs/sentinel-mysql/metadata"
)

// AttrClusterGroup is the span attribute naming the group a cluster
// acquisition resolved to.
const AttrClusterGroup = "db.cluster.group"

// clusterConfig holds the configuration of a Cluster.
type clusterConfig struct {
	// CanRetry retries a failed acquisition on the next eligible group.
	// Default: true
	CanRetry bool

	// RemoveNodeErrorCount takes a group offline after that many
	// consecutive failed acquisitions. Zero disables health tracking.
	// Default: 5
	RemoveNodeErrorCount uint32

	// RestoreNodeTimeout brings an offline group back for a trial after
	// this long. Zero removes the group and closes its pool.
	// Default: 0
	RestoreNodeTimeout time.Duration

	// DefaultStrategy is used when an acquisition names no strategy.
	// Default: cluster.Random
	DefaultStrategy cluster.Strategy

	// RetryBackOff creates the backoff that paces the retries of one
	// acquisition.
	// Default: no wait between attempts
	RetryBackOff func() backoff.BackOff
}

// ClusterOption configures a Cluster.
type ClusterOption func(*clusterConfig)

// WithCanRetry enables or disables retrying a failed acquisition on
// another group.
func WithCanRetry(enabled bool) ClusterOption {
	return func(cfg *clusterConfig) {
		cfg.CanRetry = enabled
	}
}

// WithRemoveNodeErrorCount sets how many consecutive failed acquisitions
// take a group offline. Zero disables health tracking.
func WithRemoveNodeErrorCount(n uint32) ClusterOption {
	return func(cfg *clusterConfig) {
		cfg.RemoveNodeErrorCount = n
	}
}

// WithRestoreNodeTimeout sets how long an offline group stays offline
// before a trial acquisition. Zero removes failing groups.
func WithRestoreNodeTimeout(d time.Duration) ClusterOption {
	return func(cfg *clusterConfig) {
		cfg.RestoreNodeTimeout = d
	}
}

// WithDefaultStrategy sets the strategy used when none is given.
func WithDefaultStrategy(s cluster.Strategy) ClusterOption {
	return func(cfg *clusterConfig) {
		cfg.DefaultStrategy = s
	}
}

// WithRetryBackOff sets the wait between retried acquisitions. fn is
// called once per acquisition, since backoffs carry state.
//
// Example:
//
//	c := drv.NewCluster(sentinelsql.WithRetryBackOff(func() backoff.BackOff {
//	    b := backoff.NewExponentialBackOff()
//	    b.InitialInterval = 10 * time.Millisecond
//	    return b
//	}))
func WithRetryBackOff(fn func() backoff.BackOff) ClusterOption {
	return func(cfg *clusterConfig) {
		cfg.RetryBackOff = fn
	}
}

// Cluster is a set of named pool groups behind one acquisition API.
//
// Example:
//
//	c := drv.NewCluster()
//	_ = c.AddDSN("MASTER", "app@tcp(db-master:3306)/orders")
//	_ = c.AddDSN("REPLICA1", "app@tcp(db-replica1:3306)/orders")
//	_ = c.AddDSN("REPLICA2", "app@tcp(db-replica2:3306)/orders")
//
//	conn, err := c.GetConnection(ctx, "REPLICA*", cluster.Order)
//	defer conn.Close()
type Cluster struct {
	drv    *Driver
	mgr    *lifecycle.Manager
	cfg    clusterConfig
	router *cluster.Router[*Pool]
	logger zerolog.Logger

	mu     sync.Mutex
	pools  map[string]*Pool
	closed atomic.Bool
}

func newCluster(drv *Driver, opts ...ClusterOption) *Cluster {
	cfg := clusterConfig{
		CanRetry:             true,
		RemoveNodeErrorCount: 5,
		DefaultStrategy:      cluster.Random,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RetryBackOff == nil {
		cfg.RetryBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}

	c := &Cluster{
		drv:    drv,
		mgr:    drv.cfg.Manager,
		cfg:    cfg,
		logger: drv.cfg.Logger.With().Str("component", "cluster").Logger(),
		pools:  make(map[string]*Pool),
	}
	c.router = cluster.New[*Pool](cluster.Config{
		DefaultStrategy:      cfg.DefaultStrategy,
		RemoveNodeErrorCount: cfg.RemoveNodeErrorCount,
		RestoreNodeTimeout:   cfg.RestoreNodeTimeout,
		OnRemove:             c.onRemove,
	})
	return c
}

// Add opens a pool on cfg and adds it as group name. An empty name adds an
// anonymous group.
func (c *Cluster) Add(name string, cfg metadata.Config) error {
	return c.AddDSN(name, cfg.DSN())
}

// AddDSN opens a pool on dsn and adds it as group name.
func (c *Cluster) AddDSN(name, dsn string) error {
	if c.closed.Load() {
		return ErrClusterClosed
	}
	p, err := c.drv.OpenPool(dsn)
	if err != nil {
		return fmt.Errorf("cluster group %q: %w", name, err)
	}
	if err := c.AddPool(name, p); err != nil {
		_ = p.Close()
		return err
	}
	return nil
}

// AddPool adds an already open pool as group name. The cluster owns the
// pool from then on and closes it on Remove or Close.
func (c *Cluster) AddPool(name string, p *Pool) error {
	if c.closed.Load() {
		return ErrClusterClosed
	}
	node, err := c.router.Add(name, p)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.pools[node.ID] = p
	c.mu.Unlock()

	c.logger.Debug().
		Str("group", node.ID).
		Str("host", p.Info().Host).
		Msg("cluster group added")
	return nil
}

// Remove drops every group matching pattern and closes their pools.
func (c *Cluster) Remove(pattern string) error {
	removed := c.router.Remove(pattern)
	ids := make([]string, 0, len(removed))
	for _, n := range removed {
		ids = append(ids, n.ID)
	}
	return c.closePools(ids)
}

// Groups returns the ids of all groups in the order they were added.
func (c *Cluster) Groups() []string {
	nodes := c.router.Nodes()
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Of returns a namespace that acquires from the groups matching selector.
func (c *Cluster) Of(selector string, strategy ...cluster.Strategy) *Namespace {
	var s cluster.Strategy
	if len(strategy) > 0 {
		s = strategy[0]
	}
	return &Namespace{c: c, selector: selector, strategy: s}
}

// GetConnection reserves a connection from a group matching selector.
// An empty strategy uses the cluster default.
//
// When nothing matches the error matches cluster.ErrNoMatchingGroup.
func (c *Cluster) GetConnection(ctx context.Context, selector string, strategy cluster.Strategy) (*Conn, error) {
	ctx, h := c.mgr.Begin(ctx, lifecycle.ActionOf(ActionClusterGet, metadata.Info{}))
	conn, err := c.acquire(ctx, h, selector, strategy)
	h.Finish(err)
	return conn, err
}

// GetConnectionFunc reserves a connection on a new goroutine and passes it
// to fn.
func (c *Cluster) GetConnectionFunc(
	ctx context.Context,
	selector string,
	strategy cluster.Strategy,
	fn func(*Conn, error),
) {
	ctx, h := c.mgr.Begin(ctx, lifecycle.ActionOf(ActionClusterGet, metadata.Info{}))
	callback(h, func() (*Conn, error) {
		return c.acquire(ctx, h, selector, strategy)
	}, fn)
}

// GetConnectionAsync reserves a connection on a new goroutine and returns
// a future of it.
func (c *Cluster) GetConnectionAsync(
	ctx context.Context,
	selector string,
	strategy cluster.Strategy,
) *completion.Future[*Conn] {
	ctx, h := c.mgr.Begin(ctx, lifecycle.ActionOf(ActionClusterGet, metadata.Info{}))
	return deferred(h, func() (*Conn, error) {
		return c.acquire(ctx, h, selector, strategy)
	})
}

// acquire resolves a group and reserves a connection from its pool,
// retrying on other groups when allowed.
func (c *Cluster) acquire(
	ctx context.Context,
	h *lifecycle.Handle,
	selector string,
	strategy cluster.Strategy,
) (*Conn, error) {
	if c.closed.Load() {
		return nil, ErrClusterClosed
	}

	tries := uint(1)
	if c.cfg.CanRetry {
		tries = uint(max(1, len(c.router.Candidates(selector))))
		if c.cfg.RemoveNodeErrorCount > 0 {
			tries *= uint(c.cfg.RemoveNodeErrorCount)
		}
	}

	var attempt int
	span := h.Span()
	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(c.cfg.RetryBackOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			attempt++
			span.AddEvent("cluster.retry", trace.WithAttributes(
				attribute.Int("cluster.retry.attempt", attempt),
				attribute.String("cluster.retry.error", err.Error()),
				attribute.Float64("cluster.retry.delay_seconds", next.Seconds()),
			))
			c.logger.Debug().
				Err(err).
				Int("attempt", attempt).
				Str("selector", selector).
				Msg("retrying cluster acquisition")
		}),
	}

	return backoff.Retry(ctx, func() (*Conn, error) {
		if c.closed.Load() {
			return nil, backoff.Permanent(ErrClusterClosed)
		}

		node, err := c.router.Resolve(selector, strategy)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		h.SetAttributes(attribute.String(AttrClusterGroup, node.ID))
		h.Annotate(node.Target.Info())

		done, err := node.Allow()
		if err != nil {
			return nil, fmt.Errorf("cluster group %s: %w", node.ID, err)
		}

		conn, err := node.Target.conn(ctx)
		done(err)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("group", node.ID).
				Msg("cluster acquisition failed")
			return nil, fmt.Errorf("cluster group %s: %w", node.ID, err)
		}
		return conn, nil
	}, retryOpts...)
}

// Close closes every pool of the cluster. Acquisitions after Close fail
// with ErrClusterClosed.
func (c *Cluster) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.Remove("*")
}

func (c *Cluster) onRemove(id string) {
	c.logger.Warn().
		Str("group", id).
		Msg("cluster group removed after consecutive failures")
	if err := c.closePools([]string{id}); err != nil {
		c.logger.Error().Err(err).Str("group", id).Msg("failed to close removed group")
	}
}

func (c *Cluster) closePools(ids []string) error {
	c.mu.Lock()
	pools := make([]*Pool, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.pools[id]; ok {
			pools = append(pools, p)
			delete(c.pools, id)
		}
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, p := range pools {
		g.Go(p.Close)
	}
	return g.Wait()
}

// Namespace acquires from a fixed selector and strategy.
type Namespace struct {
	c        *Cluster
	selector string
	strategy cluster.Strategy
}

// GetConnection reserves a connection from the namespace.
func (n *Namespace) GetConnection(ctx context.Context) (*Conn, error) {
	return n.c.GetConnection(ctx, n.selector, n.strategy)
}

// GetConnectionFunc reserves a connection on a new goroutine and passes it
// to fn.
func (n *Namespace) GetConnectionFunc(ctx context.Context, fn func(*Conn, error)) {
	n.c.GetConnectionFunc(ctx, n.selector, n.strategy, fn)
}

// GetConnectionAsync reserves a connection on a new goroutine and returns
// a future of it.
func (n *Namespace) GetConnectionAsync(ctx context.Context) *completion.Future[*Conn] {
	return n.c.GetConnectionAsync(ctx, n.selector, n.strategy)
}

// Query reserves a connection, runs query on it and releases it.
func (n *Namespace) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	conn, err := n.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	records, err := conn.queryRecords(ctx, query, args...)
	return records, errors.Join(err, conn.Close())
}

// Exec reserves a connection, runs a statement on it and releases it.
func (n *Namespace) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := n.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	res, err := conn.Exec(ctx, query, args...)
	return res, errors.Join(err, conn.Close())
}
