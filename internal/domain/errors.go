// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidDecision indicates a pause decision outside the closed
// approve/reject/allow/block set.
var ErrInvalidDecision = errors.New("invalid decision")

// ErrNoPausedRun indicates a continue was submitted while no run is paused.
var ErrNoPausedRun = errors.New("no paused run")

// ErrValidation wraps request validation failures.
var ErrValidation = errors.New("validation failed")
