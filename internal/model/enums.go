package model

type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusActive  SessionStatus = "active"
	SessionStatusRevoked SessionStatus = "revoked"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusActive, SessionStatusRevoked:
		return true
	}
	return false
}

// RequestState tracks one outbound call. Resolved, Rejected and TimedOut are
// terminal.
type RequestState string

const (
	RequestStateCreated  RequestState = "created"
	RequestStateSent     RequestState = "sent"
	RequestStateResolved RequestState = "resolved"
	RequestStateRejected RequestState = "rejected"
	RequestStateTimedOut RequestState = "timed_out"
)

func (s RequestState) Terminal() bool {
	return s == RequestStateResolved || s == RequestStateRejected || s == RequestStateTimedOut
}
