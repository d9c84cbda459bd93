package sentinel

import "errors"

// Infrastructure facts returned by stores and sinks, optionally wrapped.
// Services and handlers translate them; they never describe validation.
//
// - ErrNotFound: no record with the requested ID
// - ErrConflict: a record with the same ID was already appended
// - ErrUnavailable: a backend (broker, database) cannot be reached right now
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
