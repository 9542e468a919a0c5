package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "pending", true},
		{"call", "calling", false},
		{"call", "attended", false},
		{"attend", "calling", true},
		{"attend", "pending", false},
		{"finish", "attending", true},
		{"finish", "calling", false},
		{"cancel", "pending", true},
		{"cancel", "calling", true},
		{"cancel", "attending", true},
		{"cancel", "cancelled", false},
		{"transfer", "pending", true},
		{"transfer", "calling", true},
		{"transfer", "attending", true},
		{"transfer", "attended", false},
		{"transfer", "transferred", false},
		{"finish", "attended", false},
		{"unknown", "pending", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestTargetState(t *testing.T) {
	cases := []struct {
		action string
		target string
	}{
		{"call", "calling"},
		{"attend", "attending"},
		{"finish", "attended"},
		{"cancel", "cancelled"},
		{"transfer", "transferred"},
		{"unknown", ""},
	}

	for _, tt := range cases {
		if got := TargetState(tt.action); got != tt.target {
			t.Fatalf("TargetState(%q)=%q, want %q", tt.action, got, tt.target)
		}
	}
}
