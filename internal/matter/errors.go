package matter

import "errors"

// Sentinel errors for the matter package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, matter.ErrDuplicateEndpoint) {
//	    // handle duplicate endpoint id
//	}
var (
	// ErrNotStarted indicates the environment has not been started.
	ErrNotStarted = errors.New("matter: environment not started")

	// ErrStopped indicates the environment has been stopped.
	ErrStopped = errors.New("matter: environment stopped")

	// ErrDuplicateEndpoint indicates an endpoint id is already attached.
	ErrDuplicateEndpoint = errors.New("matter: duplicate endpoint id")

	// ErrUnknownAttribute indicates a write named an attribute outside
	// the endpoint's declared clusters.
	ErrUnknownAttribute = errors.New("matter: unknown attribute")

	// ErrEndpointClosed indicates the endpoint has been detached and
	// no longer accepts writes.
	ErrEndpointClosed = errors.New("matter: endpoint closed")

	// ErrInvalidEndpoint indicates endpoint construction parameters
	// were invalid.
	ErrInvalidEndpoint = errors.New("matter: invalid endpoint")
)
