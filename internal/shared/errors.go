package shared

import "errors"

var (
	// ErrNotConnected is returned by operations that need a live transport
	// and cannot establish one.
	ErrNotConnected = errors.New("not connected")

	// ErrSessionNotReady is returned when an operation requiring a
	// negotiated session id runs before the hello handshake completed, or
	// after the server invalidated the session.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrRequestTimeout is returned when a single-shot text exchange sees
	// no terminal event within the request timeout.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrDisposed is returned by any operation invoked after Dispose.
	ErrDisposed = errors.New("client disposed")
)
