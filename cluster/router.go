// Package cluster routes acquisitions across named groups of connection
// pools.
//
// Groups are addressed by selector:
//
//	""  or "*"   every group, named and anonymous
//	"REPLICA*"   every named group whose name starts with REPLICA
//	"MASTER"     exactly the group named MASTER
//
// Among the matching online groups ORDER picks the first added and RANDOM
// (the default) picks uniformly, independently on every call.
package cluster

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Strategy selects one group among the candidates.
type Strategy string

const (
	// Order picks the earliest added candidate.
	Order Strategy = "ORDER"

	// Random picks a candidate uniformly at random.
	Random Strategy = "RANDOM"
)

// AnonymousPrefix prefixes the generated IDs of unnamed groups.
const AnonymousPrefix = "CLUSTER::"

// Config configures a Router.
type Config struct {
	// DefaultStrategy is used when Resolve gets an empty strategy.
	// Defaults to Random.
	DefaultStrategy Strategy

	// RemoveNodeErrorCount takes a group offline after that many
	// consecutive failed acquisitions. Zero disables health tracking.
	RemoveNodeErrorCount uint32

	// RestoreNodeTimeout brings an offline group back for a trial after
	// this long. Zero removes failing groups permanently.
	RestoreNodeTimeout time.Duration

	// OnRemove is called with groups removed for failing. It runs without
	// the router lock held.
	OnRemove func(id string)
}

// Router holds the groups of a cluster.
type Router[T any] struct {
	mu    sync.RWMutex
	cfg   Config
	nodes []*Node[T]
	anon  int
	intn  func(n int) int
}

// New creates an empty router.
func New[T any](cfg Config) *Router[T] {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = Random
	}
	return &Router[T]{
		cfg:  cfg,
		intn: rand.IntN,
	}
}

// Add registers target as a group. An empty name registers an anonymous
// group with a generated CLUSTER::<n> id.
func (r *Router[T]) Add(name string, target T) (*Node[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node := &Node[T]{ID: name, Target: target}
	if name == "" {
		r.anon++
		node.ID = fmt.Sprintf("%s%d", AnonymousPrefix, r.anon)
		node.Anonymous = true
	}

	if slices.ContainsFunc(r.nodes, func(n *Node[T]) bool { return n.ID == node.ID }) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGroup, node.ID)
	}

	if r.cfg.RemoveNodeErrorCount > 0 {
		node.breaker = r.newBreaker(node.ID)
	}

	r.nodes = append(r.nodes, node)
	return node, nil
}

func (r *Router[T]) newBreaker(id string) *gobreaker.TwoStepCircuitBreaker[struct{}] {
	threshold := r.cfg.RemoveNodeErrorCount
	timeout := r.cfg.RestoreNodeTimeout

	return gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			if to != gobreaker.StateOpen || timeout > 0 {
				return
			}
			// Called with the breaker's lock held; remove asynchronously.
			go r.removeFailed(name)
		},
	})
}

func (r *Router[T]) removeFailed(id string) {
	if len(r.Remove(id)) > 0 && r.cfg.OnRemove != nil {
		r.cfg.OnRemove(id)
	}
}

// Remove drops every group matching pattern and returns them.
func (r *Router[T]) Remove(pattern string) []*Node[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Node[T]
	r.nodes = slices.DeleteFunc(r.nodes, func(n *Node[T]) bool {
		if match(pattern, n) {
			removed = append(removed, n)
			return true
		}
		return false
	})
	return removed
}

// Nodes returns every group in insertion order.
func (r *Router[T]) Nodes() []*Node[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.nodes)
}

// Len returns the number of groups.
func (r *Router[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Candidates returns the online groups matching selector, in insertion order.
func (r *Router[T]) Candidates(selector string) []*Node[T] {
	matched, _ := r.candidates(selector)
	return matched
}

// candidates also reports whether any group matched before the online filter.
func (r *Router[T]) candidates(selector string) ([]*Node[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Node[T]
	var found bool
	for _, n := range r.nodes {
		if !match(selector, n) {
			continue
		}
		found = true
		if n.Online() {
			out = append(out, n)
		}
	}
	return out, found
}

// Resolve picks one group for selector using strategy. An empty strategy
// uses the router default.
//
// When nothing is eligible Resolve returns a *NoMatchingGroupError, which
// matches ErrNoMatchingGroup.
func (r *Router[T]) Resolve(selector string, strategy Strategy) (*Node[T], error) {
	if strategy == "" {
		strategy = r.cfg.DefaultStrategy
	}
	strategy = Strategy(strings.ToUpper(string(strategy)))
	if strategy != Order && strategy != Random {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	nodes, matched := r.candidates(selector)
	if len(nodes) == 0 {
		return nil, &NoMatchingGroupError{Selector: selector, Offline: matched}
	}

	if strategy == Order {
		return nodes[0], nil
	}
	return nodes[r.intn(len(nodes))], nil
}

// match reports whether n is addressed by selector. Prefix selectors only
// address named groups.
func match[T any](selector string, n *Node[T]) bool {
	switch {
	case selector == "" || selector == "*":
		return true
	case strings.HasSuffix(selector, "*"):
		return !n.Anonymous && strings.HasPrefix(n.ID, strings.TrimSuffix(selector, "*"))
	default:
		return selector == n.ID
	}
}
