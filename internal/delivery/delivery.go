// Package delivery holds control commands until the command streams of
// matching stations pick them up.
package delivery

import "meteomesh/internal/station"

// Queue accepts issued commands and hands them to subscribed streams.
type Queue interface {
	Publish(cmd station.Command)
	Subscribe(stationID string, stationType station.Type) Subscription
	// Len is the number of commands currently held.
	Len() int
}

// Subscription is one stream's view of a Queue.
type Subscription interface {
	// Pending returns the commands for this station that arrived since the
	// last call.
	Pending() []station.Command
	// Ready is closed when new commands may be pending. A nil channel means
	// the reader has to poll.
	Ready() <-chan struct{}
	Close()
}

const (
	ModeMailbox = "mailbox"
	ModeShared  = "shared"
)

// New returns the queue implementation for mode.
func New(mode string, capacity int) Queue {
	if mode == ModeShared {
		return NewSharedQueue()
	}
	return NewMailbox(capacity)
}
