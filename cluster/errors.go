package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatchingGroup is returned when a selector matches no online group.
	ErrNoMatchingGroup = errors.New("cluster: no matching group")

	// ErrDuplicateGroup is returned when adding a group under a taken name.
	ErrDuplicateGroup = errors.New("cluster: duplicate group")

	// ErrUnknownStrategy is returned for a strategy other than ORDER or RANDOM.
	ErrUnknownStrategy = errors.New("cluster: unknown selection strategy")
)

// NoMatchingGroupError reports the selector that resolved to nothing.
type NoMatchingGroupError struct {
	Selector string

	// Offline is true when groups matched but all of them were offline.
	Offline bool
}

// Error implements error.
func (e *NoMatchingGroupError) Error() string {
	if e.Offline {
		return fmt.Sprintf("cluster: no online group matches selector %q", e.Selector)
	}
	return fmt.Sprintf("cluster: no group matches selector %q", e.Selector)
}

// Is makes errors.Is(err, ErrNoMatchingGroup) hold.
func (e *NoMatchingGroupError) Is(target error) bool {
	return target == ErrNoMatchingGroup
}
