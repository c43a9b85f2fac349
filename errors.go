package golineage

import "errors"

var (
	// ErrInvalidTarget is returned when a request names no target.
	ErrInvalidTarget = errors.New("golineage: invalid target")

	// ErrInvalidSession is returned when a request carries no session.
	ErrInvalidSession = errors.New("golineage: invalid session")

	// ErrNoEvidence marks a build that found no evidence chunks.
	ErrNoEvidence = errors.New("golineage: no evidence found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("golineage: invalid configuration")

	// ErrPersistenceDisabled is returned by run-log queries when the engine
	// was created without a store.
	ErrPersistenceDisabled = errors.New("golineage: persistence disabled")
)
