package conversation

import "fmt"

// Status is a conversation's lifecycle position.
type Status uint8

const (
	// StatusNotStarted is a locally created conversation whose Begin method
	// has not run yet.
	StatusNotStarted Status = iota

	// StatusActive is a conversation waiting on the peer or on the
	// application.
	StatusActive

	// StatusDoneSuccess is a conversation that completed its exchange.
	StatusDoneSuccess

	// StatusDoneFailure is a conversation that ended without completing:
	// version mismatch, a declined request, or a refused store.
	StatusDoneFailure
)

// Terminal reports whether the conversation is finished. Terminal states
// reject every further message.
func (s Status) Terminal() bool {
	return s == StatusDoneSuccess || s == StatusDoneFailure
}

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not-started"
	case StatusActive:
		return "active"
	case StatusDoneSuccess:
		return "done-success"
	case StatusDoneFailure:
		return "done-failure"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Role distinguishes the device that opened the conversation from the one
// that answered it.
type Role uint8

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}
