package models

import "time"

// Timestamp layouts used across the live ticket documents. Kiosks and
// counter displays parse these strings directly, so they are part of the
// wire contract.
const (
	TimestampLayout = "01/02/2006 15:04:05"
	DateLayout      = "01/02/2006"
)

// Ticket is one person's place in a service queue. Position and Person are
// embedded so that the JSON document stays flat, the shape the display
// clients subscribe to.
type Ticket struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Position
	Person
	CreatedAt      string  `json:"created_at"`
	CreatedAtDate  string  `json:"created_at_date"`
	UpdatedAt      *string `json:"updated_at"`
	WaitedUntil    *string `json:"waitedUntil,omitempty"`
	TransferReason string  `json:"transferReason,omitempty"`
	Version        int     `json:"version"`
}

// Position is the denormalized service counter identity carried on a
// ticket. Transfers overwrite the whole value at once.
type Position struct {
	PositionID   string `json:"attentionPositionId"`
	PositionName string `json:"attentionPositionName"`
	BusinessID   string `json:"attentionPositionBusinessId"`
	BusinessName string `json:"attentionPositionBusinessName"`
}

// Person is the requester identity snapshot copied onto a ticket at
// creation time. It is never mutated by any transition.
type Person struct {
	DocumentID string `json:"personDocumentId"`
	FirstNames string `json:"personFirstNames"`
	LastNames  string `json:"personLastNames"`
	Email      string `json:"personEmail,omitempty"`
	Career     string `json:"personCareer,omitempty"`
	PeriodName string `json:"personPeriodName,omitempty"`
	Gender     string `json:"personGender,omitempty"`
}

const (
	StatePending     = "pending"
	StateCalling     = "calling"
	StateAttending   = "attending"
	StateAttended    = "attended"
	StateTransferred = "transferred"
	StateCancelled   = "cancelled"
)

// TerminalState reports whether no further transition may leave the state.
func TerminalState(state string) bool {
	switch state {
	case StateAttended, StateTransferred, StateCancelled:
		return true
	default:
		return false
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
