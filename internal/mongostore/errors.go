package mongostore

import "errors"

var (
	// ErrSessionType indicates a session handle that is not a *mongo.Session.
	ErrSessionType = errors.New("mongostore: unsupported session type")
	// ErrClosed is returned by calls on a closed store.
	ErrClosed = errors.New("mongostore: closed")
)
