package main

import "testing"

func TestExtractMeta(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		businessID string
		positionID string
	}{
		{"full document", `{"attentionPositionBusinessId":"biz-1","attentionPositionId":"pos-1","state":"pending"}`, "biz-1", "pos-1"},
		{"missing keys", `{"state":"pending"}`, "", ""},
		{"invalid json", `not json`, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			meta := extractMeta([]byte(tc.payload))
			if meta.BusinessID != tc.businessID || meta.PositionID != tc.positionID {
				t.Fatalf("extractMeta=%+v, want business=%q position=%q", meta, tc.businessID, tc.positionID)
			}
		})
	}
}
