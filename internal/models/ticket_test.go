package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFormatTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 7, 9, 5, 2, 0, time.UTC)
	if got := FormatTimestamp(at); got != "03/07/2026 09:05:02" {
		t.Fatalf("FormatTimestamp=%q", got)
	}
	if got := FormatDate(at); got != "03/07/2026" {
		t.Fatalf("FormatDate=%q", got)
	}
}

func TestFormatTimestampConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	at := time.Date(2026, 3, 7, 23, 30, 0, 0, loc)
	if got := FormatTimestamp(at); got != "03/08/2026 04:30:00" {
		t.Fatalf("FormatTimestamp=%q", got)
	}
}

func TestTerminalState(t *testing.T) {
	cases := []struct {
		state    string
		terminal bool
	}{
		{StatePending, false},
		{StateCalling, false},
		{StateAttending, false},
		{StateAttended, true},
		{StateTransferred, true},
		{StateCancelled, true},
	}
	for _, tt := range cases {
		if got := TerminalState(tt.state); got != tt.terminal {
			t.Fatalf("TerminalState(%q)=%v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestTicketJSONIsFlat(t *testing.T) {
	ticket := Ticket{
		ID:    "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		State: StatePending,
		Position: Position{
			PositionID:   "pos-1",
			PositionName: "Registrar",
			BusinessID:   "biz-1",
			BusinessName: "Campus Central",
		},
		Person: Person{
			DocumentID: "70012345",
			FirstNames: "Ana",
			LastNames:  "Quispe",
		},
		CreatedAt:     "03/07/2026 09:05:02",
		CreatedAtDate: "03/07/2026",
		Version:       1,
	}

	raw, err := json.Marshal(ticket)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"attentionPositionId", "attentionPositionBusinessId", "personDocumentId", "personFirstNames", "created_at", "created_at_date", "version"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("missing top-level key %q in %s", key, raw)
		}
	}
	if _, ok := doc["waitedUntil"]; ok {
		t.Fatalf("waitedUntil should be omitted when unset: %s", raw)
	}
	if doc["updated_at"] != nil {
		t.Fatalf("updated_at should serialize as null when unset: %s", raw)
	}
}
