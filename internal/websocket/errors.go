package websocket

import "errors"

var (
	ErrAuthenticationFailure   = errors.New("authentication failed")
	ErrConnectionLimitExceeded = errors.New("per-user connection limit exceeded")
	ErrConnectionNotFound      = errors.New("connection not found")
	ErrClientDisconnected      = errors.New("client disconnected")
	ErrInvalidMessage          = errors.New("invalid message")
	ErrForbidden               = errors.New("operation not permitted on channel")
	ErrTooManySubscriptions    = errors.New("subscription limit exceeded")
	ErrHandshakeTimeout        = errors.New("handshake timed out")
)
