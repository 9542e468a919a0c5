package store

import (
	"context"
	"encoding/json"
	"time"

	"ponti/attention-service/internal/models"
)

type CreateTicketInput struct {
	RequestID string
	Position  models.Position
	Person    models.Person
	CreatedAt time.Time
}

// TicketActionInput drives the call/attend/cancel transitions. Version, when
// positive, is the optimistic-concurrency token the caller last observed; a
// stale token yields ErrVersionConflict instead of a silent overwrite.
type TicketActionInput struct {
	TicketID   string
	Version    int
	OccurredAt time.Time
}

type TransferTicketInput struct {
	TicketID   string
	Version    int
	Position   models.Position
	Reason     string
	OccurredAt time.Time
}

type FinishTicketInput struct {
	TicketID    string
	Version     int
	Description string
	FinishedAt  time.Time
}

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	SnapshotTickets(ctx context.Context, businessID, positionID string) ([]models.Ticket, error)
	CallTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	AttendTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	CancelTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	TransferTicket(ctx context.Context, input TransferTicketInput) (models.Ticket, error)
	FinishTicket(ctx context.Context, input FinishTicketInput) (models.Ticket, models.AttentionRecord, error)
	DeleteTicket(ctx context.Context, ticketID string) error
	ListAttentions(ctx context.Context, businessID string, limit int) ([]models.AttentionRecord, error)
	ListOutboxEvents(ctx context.Context, offset Offset, limit int) ([]OutboxEvent, error)
	GetStaffByEmail(ctx context.Context, email string) (Staff, error)
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Staff struct {
	StaffID      string
	Email        string
	DisplayName  string
	PasswordHash string
}

type Session struct {
	SessionID string
	StaffID   string
	CSRFToken string
	ExpiresAt time.Time
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Offset marks the last outbox event a consumer has seen.
type Offset struct {
	LastEventTime time.Time
	LastEventID   string
}
