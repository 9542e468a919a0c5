package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"ponti/attention-service/internal/models"
	"ponti/attention-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestCreateTicketIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	requestID := uuid.NewString()
	first := createTicket(t, ctx, st, requestID)
	second := createTicket(t, ctx, st, requestID)

	if first.ID != second.ID {
		t.Fatalf("expected same ticket for duplicate request, got %s and %s", first.ID, second.ID)
	}
	if first.State != models.StatePending || first.Version != 1 {
		t.Fatalf("unexpected new ticket: %+v", first)
	}

	var count int
	row := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox_events WHERE type = 'ticket.created'
	`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 ticket.created event, got %d", count)
	}
}

func TestCallTicketConcurrency(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := createTicket(t, ctx, st, uuid.NewString())

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CallTicket(ctx, store.TicketActionInput{TicketID: ticket.ID})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrInvalidState):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected one winner and one rejected caller, got %d/%d", wins, losses)
	}
}

func TestFinishVersionConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := createTicket(t, ctx, st, uuid.NewString())
	ticket, err := st.CallTicket(ctx, store.TicketActionInput{TicketID: ticket.ID, Version: ticket.Version})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	ticket, err = st.AttendTicket(ctx, store.TicketActionInput{TicketID: ticket.ID, Version: ticket.Version})
	if err != nil {
		t.Fatalf("attend: %v", err)
	}

	_, _, err = st.FinishTicket(ctx, store.FinishTicketInput{
		TicketID:    ticket.ID,
		Version:     ticket.Version + 5,
		Description: "stale finish",
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	var attentionCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM attentions`).Scan(&attentionCount); err != nil {
		t.Fatalf("count attentions: %v", err)
	}
	if attentionCount != 0 {
		t.Fatalf("attention record must not survive a failed finish, got %d", attentionCount)
	}

	current, err := st.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if current.State != models.StateAttending {
		t.Fatalf("ticket should keep its state after a failed finish, got %q", current.State)
	}
}

func TestFinishWritesAttentionRecord(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := createTicket(t, ctx, st, uuid.NewString())
	ticket, err := st.CallTicket(ctx, store.TicketActionInput{TicketID: ticket.ID, Version: ticket.Version})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	ticket, err = st.AttendTicket(ctx, store.TicketActionInput{TicketID: ticket.ID, Version: ticket.Version})
	if err != nil {
		t.Fatalf("attend: %v", err)
	}
	if ticket.WaitedUntil == nil {
		t.Fatal("attend should stamp waitedUntil")
	}

	finished, record, err := st.FinishTicket(ctx, store.FinishTicketInput{
		TicketID:    ticket.ID,
		Version:     ticket.Version,
		Description: "certificate issued",
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.State != models.StateAttended {
		t.Fatalf("expected attended state, got %q", finished.State)
	}
	if record.Description != "certificate issued" || record.Ticket.ID != ticket.ID {
		t.Fatalf("unexpected attention record: %+v", record)
	}

	records, err := st.ListAttentions(ctx, ticket.BusinessID, 10)
	if err != nil {
		t.Fatalf("list attentions: %v", err)
	}
	if len(records) != 1 || records[0].AttentionID != record.AttentionID {
		t.Fatalf("attention record not listed: %+v", records)
	}

	if _, _, err := st.FinishTicket(ctx, store.FinishTicketInput{
		TicketID:    ticket.ID,
		Description: "again",
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("second finish should hit the terminal state, got %v", err)
	}
}

func TestDeleteTicketIsHard(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := createTicket(t, ctx, st, uuid.NewString())

	if err := st.DeleteTicket(ctx, ticket.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetTicket(ctx, ticket.ID); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := st.DeleteTicket(ctx, ticket.ID); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func createTicket(t *testing.T, ctx context.Context, st *Store, requestID string) models.Ticket {
	t.Helper()
	ticket, _, err := st.CreateTicket(ctx, store.CreateTicketInput{
		RequestID: requestID,
		Position: models.Position{
			PositionID:   uuid.NewString(),
			PositionName: "Registrar",
			BusinessID:   uuid.NewString(),
			BusinessName: "Campus Central",
		},
		Person: models.Person{
			DocumentID: "70012345",
			FirstNames: "Ana",
			LastNames:  "Quispe",
		},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}
