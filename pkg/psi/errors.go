package psi

import "errors"

var (
	// ErrProtocolMismatch is returned when the two parties disagree on
	// the parameter set or on the OPRF key epoch. It is fatal to the session.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrTransport wraps any channel send or receive failure, including
	// a peer disconnecting.
	ErrTransport = errors.New("transport failure")
	// ErrIncompleteResult is returned when fewer result parts than
	// declared by the query response were received.
	ErrIncompleteResult = errors.New("incomplete result")
	// ErrMalformedMessage is returned when a message does not have the
	// type expected at a given protocol step, or cannot be decoded.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrDatabaseBusy is returned by non-blocking insertions when
	// another batch is being applied to the sender database.
	ErrDatabaseBusy = errors.New("sender database busy")
	// ErrInternal signals a broken internal invariant.
	ErrInternal = errors.New("internal consistency error")
)
