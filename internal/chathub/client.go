package chathub

import (
	"context"

	"supportchat/backend/internal/models"
)

// Client is one live participant connection. The hub only ever talks to
// clients through this interface, so tests can swap in in-memory fakes.
type Client interface {
	// GetUserID returns the participant id the connection authenticated as.
	GetUserID() string
	// Participant returns the authenticated identity with its role.
	Participant() models.Participant

	// Deliver queues a frame for the connection without blocking. It reports
	// false when the connection is closed or its buffer is full.
	Deliver(env models.Envelope) bool

	// Run starts the read and write pumps.
	Run()
	// Close shuts the connection down. It is safe to call more than once.
	Close()
}

// Dispatcher handles the request frames a client reads off its connection.
type Dispatcher interface {
	// Dispatch executes one request and returns the ack frame for it.
	Dispatch(ctx context.Context, c Client, req models.Envelope) models.Envelope
	// Disconnect is called once when the client's read pump exits.
	Disconnect(c Client)
}
