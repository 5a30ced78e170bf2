// Package rooms holds the authoritative in-memory state of every non-finished
// support room and serializes all mutations per room.
package rooms

import "errors"

var (
	ErrUnauthorized   = errors.New("participant is not allowed to perform this action")
	ErrConflict       = errors.New("concurrent room creation for the same shopper")
	ErrAlreadyClaimed = errors.New("room already claimed")
	ErrRoomClosed     = errors.New("room is finished")
	ErrPersistence    = errors.New("message store unavailable")
	ErrNotFound       = errors.New("room not found")
	ErrInvalidState   = errors.New("room is not in a valid state for this operation")
	ErrInvalidMessage = errors.New("message body must not be empty")
	ErrInvalidRequest = errors.New("malformed request")
)

// Wire codes carried in ack errors.
const (
	CodeUnauthorized   = "unauthorized"
	CodeConflict       = "conflict"
	CodeAlreadyClaimed = "already_claimed"
	CodeRoomClosed     = "room_closed"
	CodePersistence    = "persistence_failed"
	CodeNotFound       = "not_found"
	CodeInvalidState   = "invalid_state"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal"
)

var taxonomy = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, CodeUnauthorized},
	{ErrConflict, CodeConflict},
	{ErrAlreadyClaimed, CodeAlreadyClaimed},
	{ErrRoomClosed, CodeRoomClosed},
	{ErrPersistence, CodePersistence},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidState, CodeInvalidState},
	{ErrInvalidMessage, CodeInvalidRequest},
	{ErrInvalidRequest, CodeInvalidRequest},
}

// Code maps an error to the stable code the client adapters switch on.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.code
		}
	}
	return CodeInternal
}

// PublicMessage returns the text safe to show a client: the matching
// sentinel's message, never the wrapped store error.
func PublicMessage(err error) string {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.err.Error()
		}
	}
	return "internal error"
}
