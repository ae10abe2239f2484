package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so the service can translate them into domain errors.
//
//   - ErrNotFound: a referenced contact does not exist in the store
//   - ErrUnavailable: the store cannot be reached or has been closed
//   - ErrInvalidState: a stored record breaks a link invariant
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
)
