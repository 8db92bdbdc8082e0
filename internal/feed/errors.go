package feed

import "errors"

var (
	// ErrConnectCalledMultipleTimes is returned when Connect has been called multiple times on a single client
	ErrConnectCalledMultipleTimes = errors.New("tried to call Connect multiple times")
	// ErrNoAuthorizer is returned when the client was built without an authorization collaborator
	ErrNoAuthorizer = errors.New("no authorizer configured")
	// ErrConnectionLost is the last error recorded when the transport
	// closed without a more specific cause
	ErrConnectionLost = errors.New("connection lost")
)
