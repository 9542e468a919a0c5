package models

import "time"

// AttentionRecord is the durable result of a finished ticket. It is written
// once, inside the finish transaction, and never updated afterwards.
type AttentionRecord struct {
	AttentionID  string          `json:"attention_id"`
	PositionID   string          `json:"position_id"`
	PositionName string          `json:"position_name"`
	BusinessID   string          `json:"business_id"`
	BusinessName string          `json:"business_name"`
	Person       Person          `json:"person"`
	Description  string          `json:"description"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Ticket       TicketReference `json:"ticket"`
}

// TicketReference points the durable record back at the live ticket it was
// built from.
type TicketReference struct {
	ID          string  `json:"id"`
	CreatedAt   string  `json:"createdAt"`
	WaitedUntil *string `json:"waitedUntil"`
}
