package sql

import "errors"

var (
	// ErrAlreadyWrapped marks an install of a driver that is already
	// instrumented. Install treats it as a no-op; it is only logged.
	ErrAlreadyWrapped = errors.New("sentinelsql: driver already instrumented")

	// ErrUnsupportedShape marks a driver, or one of its optional members,
	// that cannot be instrumented. The member is skipped and logged.
	ErrUnsupportedShape = errors.New("sentinelsql: unsupported driver shape")

	// ErrNameTaken is returned when registering under a name database/sql
	// already knows for a different driver.
	ErrNameTaken = errors.New("sentinelsql: driver name already registered")

	// ErrClusterClosed is returned by acquisitions on a closed cluster.
	ErrClusterClosed = errors.New("sentinelsql: cluster closed")
)
