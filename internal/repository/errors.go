// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as services
// and handlers to distinguish between different failure scenarios.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own, such as releasing another user's seat hold.
// Handlers should translate this into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write cannot be applied because the row is
// no longer in the expected state, for example a compare-and-swap status
// update that matched nothing.  Handlers should translate this into an HTTP
// 409 response.
var ErrConflict = errors.New("conflict")
