// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrExecutorNotRegistered indicates a task names a category with no executor bound.
var ErrExecutorNotRegistered = errors.New("executor not registered")

// ErrOracleUnavailable indicates the completion service could not be reached
// or rejected the call.
var ErrOracleUnavailable = errors.New("oracle unavailable")

// ErrMalformedPlan indicates the completion service returned output that
// could not be parsed into a usable plan.
var ErrMalformedPlan = errors.New("malformed plan")
