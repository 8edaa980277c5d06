package search

import (
	"encoding/json"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"visita/api/internal/profile"
)

func TestRecordForUsesLiveFieldsOnly(t *testing.T) {
	p := &profile.Profile{
		ID:             "church_paoay",
		Name:           "Saint Augustine Church",
		Town:           "Paoay",
		Province:       "Ilocos Norte",
		Diocese:        "Diocese of Laoag",
		Patron:         "San Agustin",
		Description:    "Earthquake baroque church completed in 1710.",
		Classification: profile.ClassificationNCT,
		Status:         profile.StatusApproved,
		Pending: &profile.PendingChange{
			ChangedFields:  []string{"description"},
			ProposedValues: map[string]any{"description": "Staged text that is not yet public."},
			SubmittedAt:    time.Now().UTC(),
			SubmittedBy:    "usr_parish",
		},
	}

	rec := RecordFor(p)

	if rec.ID != "church_paoay" || rec.Name != "Saint Augustine Church" {
		t.Fatalf("unexpected identity fields: %+v", rec)
	}
	if rec.Town != "Paoay" || rec.Province != "Ilocos Norte" || rec.Diocese != "Diocese of Laoag" {
		t.Errorf("unexpected location fields: %+v", rec)
	}
	if rec.Classification != "national_cultural_treasure" {
		t.Errorf("classification = %q", rec.Classification)
	}
	// Staged values stay out of the index until they are merged.
	if rec.Description != "Earthquake baroque church completed in 1710." {
		t.Errorf("description picked up staged value: %q", rec.Description)
	}
}

func TestHitToResultPrefersHighlightedSnippet(t *testing.T) {
	hit := meili.Hit{
		"id":             json.RawMessage(`"church_paoay"`),
		"name":           json.RawMessage(`"Saint Augustine Church"`),
		"town":           json.RawMessage(`"Paoay"`),
		"province":       json.RawMessage(`"Ilocos Norte"`),
		"diocese":        json.RawMessage(`"Diocese of Laoag"`),
		"classification": json.RawMessage(`"national_cultural_treasure"`),
		"description":    json.RawMessage(`"Earthquake baroque church completed in 1710."`),
		"_formatted":     json.RawMessage(`{"description": "Earthquake <mark>baroque</mark> church completed in 1710."}`),
	}

	r := hitToResult(hit)

	if r.ID != "church_paoay" {
		t.Fatalf("id = %q", r.ID)
	}
	if r.Classification != "national_cultural_treasure" {
		t.Errorf("classification = %q", r.Classification)
	}
	if want := "Earthquake <mark>baroque</mark> church completed in 1710."; r.Snippet != want {
		t.Errorf("snippet = %q, want %q", r.Snippet, want)
	}
}

func TestHitToResultFallsBackToPlainDescription(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"church_sarrat"`),
		"name":        json.RawMessage(`"Santa Monica Church"`),
		"description": json.RawMessage(`"Largest church in the Ilocos region."`),
	}

	r := hitToResult(hit)

	if r.ID != "church_sarrat" {
		t.Fatalf("id = %q", r.ID)
	}
	if want := "Largest church in the Ilocos region."; r.Snippet != want {
		t.Errorf("snippet = %q, want %q", r.Snippet, want)
	}
	if r.Province != "" {
		t.Errorf("province = %q, want empty", r.Province)
	}
}

func TestDecodeStringIgnoresNonStringValues(t *testing.T) {
	hit := meili.Hit{
		"id":   json.RawMessage(`42`),
		"name": json.RawMessage(`"Paoay"`),
	}

	if got := decodeString(hit, "id"); got != "" {
		t.Errorf("non-string value decoded to %q", got)
	}
	if got := decodeString(hit, "missing"); got != "" {
		t.Errorf("missing key decoded to %q", got)
	}
	if got := decodeString(hit, "name"); got != "Paoay" {
		t.Errorf("name = %q", got)
	}
}

func TestFirstNonBlank(t *testing.T) {
	if got := firstNonBlank("", "  ", "b", "c"); got != "b" {
		t.Errorf("firstNonBlank = %q, want %q", got, "b")
	}
	if got := firstNonBlank("", "   "); got != "" {
		t.Errorf("firstNonBlank of all-blank = %q, want empty", got)
	}
}

func TestSearchServiceNeverReturnsNilResults(t *testing.T) {
	svc := NewService(nil, &PgFTS{})

	resp := svc.Search(Query{Text: "   "})

	if resp.Results == nil {
		t.Fatal("results slice is nil")
	}
	if len(resp.Results) != 0 || resp.Total != 0 {
		t.Errorf("unexpected hits for blank query: %+v", resp)
	}
}
