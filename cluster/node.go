package cluster

import (
	"github.com/sony/gobreaker/v2"
)

// Node is one group of a cluster.
type Node[T any] struct {
	// ID is the group name, or CLUSTER::<n> for anonymous groups.
	ID string

	// Anonymous is true when the group was added without a name.
	Anonymous bool

	// Target is what the group resolves to, typically a connection pool.
	Target T

	breaker *gobreaker.TwoStepCircuitBreaker[struct{}]
}

// Online reports whether the node accepts acquisitions.
func (n *Node[T]) Online() bool {
	return n.breaker == nil || n.breaker.State() != gobreaker.StateOpen
}

// Allow asks the node's health breaker for permission to acquire from it.
// The returned done function must be called with the acquisition error,
// nil on success.
//
// A node whose breaker is open returns gobreaker.ErrOpenState.
func (n *Node[T]) Allow() (func(err error), error) {
	if n.breaker == nil {
		return func(error) {}, nil
	}
	return n.breaker.Allow()
}

// Counts returns the node's recent acquisition outcomes.
func (n *Node[T]) Counts() gobreaker.Counts {
	if n.breaker == nil {
		return gobreaker.Counts{}
	}
	return n.breaker.Counts()
}
