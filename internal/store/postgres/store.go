package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"ponti/attention-service/internal/models"
	"ponti/attention-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ticketColumns = `
	ticket_id, state, position_id, position_name, business_id, business_name,
	person_document_id, person_first_names, person_last_names, person_email,
	person_career, person_period_name, person_gender,
	created_at, created_at_date, updated_at, waited_until, transfer_reason, version
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var updatedAtNull sql.NullString
	var waitedUntilNull sql.NullString
	if err := row.Scan(
		&ticket.ID, &ticket.State,
		&ticket.PositionID, &ticket.PositionName, &ticket.BusinessID, &ticket.BusinessName,
		&ticket.DocumentID, &ticket.FirstNames, &ticket.LastNames, &ticket.Email,
		&ticket.Career, &ticket.PeriodName, &ticket.Gender,
		&ticket.CreatedAt, &ticket.CreatedAtDate, &updatedAtNull, &waitedUntilNull,
		&ticket.TransferReason, &ticket.Version,
	); err != nil {
		return models.Ticket{}, err
	}
	if updatedAtNull.Valid {
		ticket.UpdatedAt = &updatedAtNull.String
	}
	if waitedUntilNull.Valid {
		ticket.WaitedUntil = &waitedUntilNull.String
	}
	return ticket, nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findTicketByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return existing, false, nil
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ticketID := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, request_id, state,
			position_id, position_name, business_id, business_name,
			person_document_id, person_first_names, person_last_names, person_email,
			person_career, person_period_name, person_gender,
			created_at, created_at_date, updated_at, waited_until, transfer_reason, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NULL,NULL,'',1)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+ticketColumns+`
	`, ticketID, input.RequestID, models.StatePending,
		input.Position.PositionID, input.Position.PositionName, input.Position.BusinessID, input.Position.BusinessName,
		input.Person.DocumentID, input.Person.FirstNames, input.Person.LastNames, input.Person.Email,
		input.Person.Career, input.Person.PeriodName, input.Person.Gender,
		models.FormatTimestamp(createdAt), models.FormatDate(createdAt))

	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.created", ticket); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE request_id = $1
	`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) SnapshotTickets(ctx context.Context, businessID, positionID string) ([]models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE state IN ('pending','calling','attending')
	`
	args := []interface{}{}
	if businessID != "" {
		args = append(args, businessID)
		query += " AND business_id = $1"
	}
	if positionID != "" {
		args = append(args, positionID)
		if len(args) == 1 {
			query += " AND position_id = $1"
		} else {
			query += " AND position_id = $2"
		}
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) CallTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.applyAction(ctx, "call", input, false)
}

func (s *Store) AttendTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.applyAction(ctx, "attend", input, true)
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.applyAction(ctx, "cancel", input, true)
}

// applyAction performs one guarded transition: the UPDATE only matches when
// the current state is allowed for the action, so racing writers observe
// ErrInvalidState or ErrVersionConflict instead of overwriting each other.
func (s *Store) applyAction(ctx context.Context, action string, input store.TicketActionInput, stampWaited bool) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	stamp := models.FormatTimestamp(occurredAt)

	query := `
		UPDATE tickets
		SET state = $2,
			version = version + 1,
			updated_at = $5
		WHERE ticket_id = $1 AND state = ANY($3) AND ($4 = 0 OR version = $4)
		RETURNING ` + ticketColumns
	if stampWaited {
		query = `
			UPDATE tickets
			SET state = $2,
				version = version + 1,
				updated_at = $5,
				waited_until = $5
			WHERE ticket_id = $1 AND state = ANY($3) AND ($4 = 0 OR version = $4)
			RETURNING ` + ticketColumns
	}

	row := tx.QueryRow(ctx, query, input.TicketID, store.TargetState(action), store.AllowedStates(action), input.Version, stamp)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.classifyMiss(ctx, tx, action, input.TicketID, input.Version)
			return models.Ticket{}, err
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket."+ticket.State, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// classifyMiss decides why a guarded update matched nothing.
func (s *Store) classifyMiss(ctx context.Context, tx pgx.Tx, action, ticketID string, version int) error {
	var state string
	var current int
	row := tx.QueryRow(ctx, `SELECT state, version FROM tickets WHERE ticket_id = $1`, ticketID)
	if err := row.Scan(&state, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTicketNotFound
		}
		return err
	}
	if !store.ValidTransition(action, state) {
		return store.ErrInvalidState
	}
	if version != 0 && version != current {
		return store.ErrVersionConflict
	}
	return store.ErrInvalidState
}

func (s *Store) TransferTicket(ctx context.Context, input store.TransferTicketInput) (models.Ticket, error) {
	if input.Position.PositionID == "" || input.Position.BusinessID == "" {
		return models.Ticket{}, store.ErrPositionRequired
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET state = $2,
			position_id = $5,
			position_name = $6,
			business_id = $7,
			business_name = $8,
			transfer_reason = $9,
			version = version + 1,
			updated_at = $10
		WHERE ticket_id = $1 AND state = ANY($3) AND ($4 = 0 OR version = $4)
		RETURNING `+ticketColumns+`
	`, input.TicketID, models.StateTransferred, store.AllowedStates("transfer"), input.Version,
		input.Position.PositionID, input.Position.PositionName, input.Position.BusinessID, input.Position.BusinessName,
		input.Reason, models.FormatTimestamp(occurredAt))
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.classifyMiss(ctx, tx, "transfer", input.TicketID, input.Version)
			return models.Ticket{}, err
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.transferred", ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// FinishTicket writes the durable attention record and moves the ticket to
// attended in a single transaction. If the record insert fails the whole
// transaction rolls back and the ticket keeps its prior state.
func (s *Store) FinishTicket(ctx context.Context, input store.FinishTicketInput) (models.Ticket, models.AttentionRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, models.AttentionRecord{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
		FOR UPDATE
	`, input.TicketID)
	current, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return models.Ticket{}, models.AttentionRecord{}, err
	}
	if !store.ValidTransition("finish", current.State) {
		err = store.ErrInvalidState
		return models.Ticket{}, models.AttentionRecord{}, err
	}
	if input.Version != 0 && input.Version != current.Version {
		err = store.ErrVersionConflict
		return models.Ticket{}, models.AttentionRecord{}, err
	}

	finishedAt := input.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	record := models.AttentionRecord{
		AttentionID:  uuid.NewString(),
		PositionID:   current.PositionID,
		PositionName: current.PositionName,
		BusinessID:   current.BusinessID,
		BusinessName: current.BusinessName,
		Person:       current.Person,
		Description:  input.Description,
		StartedAt:    attentionStart(current),
		FinishedAt:   finishedAt,
		Ticket: models.TicketReference{
			ID:          current.ID,
			CreatedAt:   current.CreatedAt,
			WaitedUntil: current.WaitedUntil,
		},
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO attentions (
			attention_id, ticket_id, position_id, position_name, business_id, business_name,
			person_document_id, person_first_names, person_last_names, person_email,
			person_career, person_period_name, person_gender,
			description, started_at, finished_at, ticket_created_at, ticket_waited_until
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, record.AttentionID, current.ID, record.PositionID, record.PositionName, record.BusinessID, record.BusinessName,
		record.Person.DocumentID, record.Person.FirstNames, record.Person.LastNames, record.Person.Email,
		record.Person.Career, record.Person.PeriodName, record.Person.Gender,
		record.Description, record.StartedAt, record.FinishedAt, current.CreatedAt, nullIfNilString(current.WaitedUntil))
	if err != nil {
		return models.Ticket{}, models.AttentionRecord{}, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE tickets
		SET state = $2,
			version = version + 1,
			updated_at = $3
		WHERE ticket_id = $1 AND state = ANY($4)
		RETURNING `+ticketColumns+`
	`, current.ID, models.StateAttended, models.FormatTimestamp(finishedAt), store.AllowedStates("finish"))
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, models.AttentionRecord{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.attended", ticket); err != nil {
		return models.Ticket{}, models.AttentionRecord{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, models.AttentionRecord{}, err
	}
	return ticket, record, nil
}

// attentionStart is the instant the attention began: when the ticket left the
// waiting phase, falling back to creation time for tickets that never
// stamped waited_until.
func attentionStart(ticket models.Ticket) time.Time {
	if ticket.WaitedUntil != nil {
		if t, err := time.Parse(models.TimestampLayout, *ticket.WaitedUntil); err == nil {
			return t.UTC()
		}
	}
	if t, err := time.Parse(models.TimestampLayout, ticket.CreatedAt); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func (s *Store) DeleteTicket(ctx context.Context, ticketID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		DELETE FROM tickets
		WHERE ticket_id = $1
		RETURNING `+ticketColumns+`
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.deleted", ticket); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListAttentions(ctx context.Context, businessID string, limit int) ([]models.AttentionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT attention_id, ticket_id, position_id, position_name, business_id, business_name,
			person_document_id, person_first_names, person_last_names, person_email,
			person_career, person_period_name, person_gender,
			description, started_at, finished_at, ticket_created_at, ticket_waited_until
		FROM attentions
	`
	args := []interface{}{}
	if businessID != "" {
		query += " WHERE business_id = $1 ORDER BY finished_at DESC LIMIT $2"
		args = append(args, businessID, limit)
	} else {
		query += " ORDER BY finished_at DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AttentionRecord
	for rows.Next() {
		var record models.AttentionRecord
		var waitedUntilNull sql.NullString
		if err := rows.Scan(
			&record.AttentionID, &record.Ticket.ID, &record.PositionID, &record.PositionName,
			&record.BusinessID, &record.BusinessName,
			&record.Person.DocumentID, &record.Person.FirstNames, &record.Person.LastNames, &record.Person.Email,
			&record.Person.Career, &record.Person.PeriodName, &record.Person.Gender,
			&record.Description, &record.StartedAt, &record.FinishedAt,
			&record.Ticket.CreatedAt, &waitedUntilNull,
		); err != nil {
			return nil, err
		}
		if waitedUntilNull.Valid {
			record.Ticket.WaitedUntil = &waitedUntilNull.String
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, offset store.Offset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, offset.LastEventTime, offset.LastEventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetStaffByEmail(ctx context.Context, email string) (store.Staff, error) {
	var staff store.Staff
	row := s.pool.QueryRow(ctx, `
		SELECT staff_id, email, display_name, password_hash
		FROM staff
		WHERE email = $1
	`, email)
	if err := row.Scan(&staff.StaffID, &staff.Email, &staff.DisplayName, &staff.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Staff{}, store.ErrStaffNotFound
		}
		return store.Staff{}, err
	}
	return staff, nil
}

func (s *Store) CreateSession(ctx context.Context, session store.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, staff_id, csrf_token, expires_at)
		VALUES ($1, $2, $3, $4)
	`, session.SessionID, session.StaffID, session.CSRFToken, session.ExpiresAt)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, staff_id, csrf_token, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.StaffID, &session.CSRFToken, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func nullIfNilString(value *string) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

// insertOutboxEvent records a ticket change for the realtime broadcaster.
// The payload is the full flat ticket document, the same shape the display
// clients render.
func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payloadJSON, err := json.Marshal(ticket)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, time.Now().UTC())
	return err
}
