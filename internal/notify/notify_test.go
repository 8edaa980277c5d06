package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"visita/api/internal/workflow"
)

func testEvent(kind string) workflow.Event {
	return workflow.Event{
		ProfileID:  "ch_042",
		Kind:       kind,
		FromStatus: "pending",
		ToStatus:   "approved",
		ActorRole:  "chancery_office",
		Timestamp:  time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSubjectFor(t *testing.T) {
	cases := map[string]string{
		"submit_for_review":                "submitted for review",
		"approve":                          "approved and published",
		"museum_approve":                   "approved and published",
		"forward_to_museum":                "forwarded to museum review",
		"request_revisions":                "Revisions requested",
		"unpublish":                        "unpublished",
		workflow.EventPendingStaged:        "Edit staged",
		workflow.EventContentMerge:         "merged",
		workflow.EventPendingForwarded:     "forwarded to museum review",
		workflow.EventPendingDiscarded:     "discarded",
		"some_future_kind_nobody_expected": "Update on church profile",
	}
	for kind, want := range cases {
		got := SubjectFor(testEvent(kind))
		if !strings.Contains(got, want) {
			t.Errorf("SubjectFor(%s) = %q, want substring %q", kind, got, want)
		}
		if !strings.Contains(got, "ch_042") {
			t.Errorf("SubjectFor(%s) = %q, missing profile id", kind, got)
		}
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	ctx := context.Background()

	if err := r.NotifyWorkflowEvent(ctx, testEvent("approve"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.NotifyWorkflowEvent(ctx, testEvent("unpublish"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != "approve" || events[1].Kind != "unpublish" {
		t.Errorf("events out of order: %v", events)
	}
}

func TestSMTPNotifierUnconfigured(t *testing.T) {
	n := NewSMTPNotifier(Config{})
	if n.IsConfigured() {
		t.Error("empty config must not report configured")
	}
	err := n.SendEmail([]string{"someone@example.com"}, "subject", "body")
	if err == nil {
		t.Error("expected error when smtp is not configured")
	}

	// No recipients is a no-op, not an error.
	if err := n.NotifyWorkflowEvent(context.Background(), testEvent("approve"), nil); err != nil {
		t.Errorf("no recipients should be a no-op, got: %v", err)
	}
}

func TestRenderTemplates(t *testing.T) {
	html, err := renderTemplate(verificationEmailTemplate, VerificationData{
		AppName:         "Visita",
		UserName:        "Ana Reyes",
		VerificationURL: "https://visita.ph/verify?token=abc",
	})
	if err != nil {
		t.Fatalf("render verification: %v", err)
	}
	if !strings.Contains(html, "Ana Reyes") || !strings.Contains(html, "https://visita.ph/verify?token=abc") {
		t.Error("verification template missing substitutions")
	}

	html, err = renderTemplate(passwordResetEmailTemplate, PasswordResetData{
		AppName:  "Visita",
		UserName: "Ana Reyes",
		ResetURL: "https://visita.ph/reset?token=xyz",
	})
	if err != nil {
		t.Fatalf("render reset: %v", err)
	}
	if !strings.Contains(html, "https://visita.ph/reset?token=xyz") {
		t.Error("reset template missing substitutions")
	}
}
