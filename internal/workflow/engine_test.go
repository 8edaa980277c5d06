package workflow

import (
	"testing"
	"time"

	"visita/api/internal/profile"
	"visita/api/internal/rbac"
)

var testNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func parish() Actor {
	return Actor{ID: "user-parish", Name: "Ana Reyes", Role: rbac.RoleParishSecretary}
}

func chancery() Actor {
	return Actor{ID: "user-chancery", Name: "Msgr. Cruz", Role: rbac.RoleChanceryOffice}
}

func museum() Actor {
	return Actor{ID: "user-museum", Name: "Dr. Santos", Role: rbac.RoleMuseumResearcher}
}

func draftProfile() *profile.Profile {
	lat, lng := 18.0614, 120.5203
	return &profile.Profile{
		ID:             "ch_042",
		Name:           "Paoay Church",
		Diocese:        "Diocese of Laoag",
		Town:           "Paoay",
		Province:       "Ilocos Norte",
		Patron:         "San Agustin",
		Description:    "Earthquake-baroque church, completed 1710.",
		FoundingYear:   1694,
		Classification: profile.ClassificationNone,
		Images:         []string{"https://cdn.visita.ph/paoay-1.jpg"},
		Latitude:       &lat,
		Longitude:      &lng,
		DataConsent:    true,
		PhotoConsent:   true,
		Status:         profile.StatusDraft,
	}
}

func approvedProfile() *profile.Profile {
	p := draftProfile()
	p.Status = profile.StatusApproved
	return p
}

func TestSubmitForReview(t *testing.T) {
	t.Run("complete draft submits", func(t *testing.T) {
		// Scenario: draft, classification none, fields complete above the
		// threshold.
		p := draftProfile()
		res, err := Apply(p, ActionSubmitForReview, parish(), "", testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Profile.Status != profile.StatusPending {
			t.Errorf("status = %s, want pending", res.Profile.Status)
		}
		if p.Status != profile.StatusDraft {
			t.Error("input profile must not be mutated")
		}
		if res.Event.Kind != "submit_for_review" || res.Event.FromStatus != profile.StatusDraft || res.Event.ToStatus != profile.StatusPending {
			t.Errorf("unexpected event: %+v", res.Event)
		}
		if res.Entry.EntryType != EntryStatusTransition {
			t.Errorf("entry type = %s, want status_transition", res.Entry.EntryType)
		}
	})

	t.Run("incomplete draft fails guard", func(t *testing.T) {
		p := draftProfile()
		p.Patron = ""
		p.Description = ""
		p.FoundingYear = 0 // 7 of 10 required fields
		_, err := Apply(p, ActionSubmitForReview, parish(), "", testNow)
		if KindOf(err) != KindGuardFailed {
			t.Errorf("expected GuardFailed, got %v", err)
		}
	})

	t.Run("missing consent fails guard", func(t *testing.T) {
		p := draftProfile()
		p.PhotoConsent = false
		_, err := Apply(p, ActionSubmitForReview, parish(), "", testNow)
		if KindOf(err) != KindGuardFailed {
			t.Errorf("expected GuardFailed, got %v", err)
		}
	})

	t.Run("wrong role", func(t *testing.T) {
		p := draftProfile()
		_, err := Apply(p, ActionSubmitForReview, chancery(), "", testNow)
		if KindOf(err) != KindPermissionDenied {
			t.Errorf("expected PermissionDenied, got %v", err)
		}
	})

	t.Run("resubmit from revisions", func(t *testing.T) {
		p := draftProfile()
		p.Status = profile.StatusRevisions
		res, err := Apply(p, ActionSubmitForReview, parish(), "", testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Profile.Status != profile.StatusPending {
			t.Errorf("status = %s, want pending", res.Profile.Status)
		}
	})
}

func TestApproveHeritageBranching(t *testing.T) {
	// Scenario: pending national cultural treasure. Approve must fail the
	// guard; forwarding to the museum must succeed.
	p := draftProfile()
	p.Status = profile.StatusPending
	p.Classification = profile.ClassificationNCT
	p.Heritage = true

	_, err := Apply(p, ActionApprove, chancery(), "", testNow)
	if KindOf(err) != KindGuardFailed {
		t.Fatalf("approve on heritage church: expected GuardFailed, got %v", err)
	}

	res, err := Apply(p, ActionForwardToMuseum, chancery(), "", testNow)
	if err != nil {
		t.Fatalf("forward to museum failed: %v", err)
	}
	if res.Profile.Status != profile.StatusHeritageReview {
		t.Errorf("status = %s, want heritage_review", res.Profile.Status)
	}
}

func TestApproveNonHeritage(t *testing.T) {
	p := draftProfile()
	p.Status = profile.StatusPending

	res, err := Apply(p, ActionApprove, chancery(), "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Profile.Status != profile.StatusApproved {
		t.Errorf("status = %s, want approved", res.Profile.Status)
	}

	t.Run("forward requires heritage classification", func(t *testing.T) {
		p := draftProfile()
		p.Status = profile.StatusPending
		_, err := Apply(p, ActionForwardToMuseum, chancery(), "", testNow)
		if KindOf(err) != KindGuardFailed {
			t.Errorf("expected GuardFailed, got %v", err)
		}
	})
}

func TestGuardCheckedAtApplyTime(t *testing.T) {
	// Classification changed while the profile sat in pending: the approve
	// guard must see the fresh value, not the one at submission time.
	p := draftProfile()
	res, err := Apply(p, ActionSubmitForReview, parish(), "", testNow)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	pending := res.Profile

	pending.SetField("heritageClassification", "important_cultural_property")

	_, err = Apply(pending, ActionApprove, chancery(), "", testNow)
	if KindOf(err) != KindGuardFailed {
		t.Errorf("expected GuardFailed after reclassification, got %v", err)
	}
}

func TestMuseumReview(t *testing.T) {
	p := draftProfile()
	p.Status = profile.StatusHeritageReview
	p.Classification = profile.ClassificationICP
	p.Heritage = true

	t.Run("museum approve", func(t *testing.T) {
		res, err := Apply(p, ActionMuseumApprove, museum(), "", testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Profile.Status != profile.StatusApproved {
			t.Errorf("status = %s, want approved", res.Profile.Status)
		}
	})

	t.Run("museum requests revisions", func(t *testing.T) {
		res, err := Apply(p, ActionRequestRevisions, museum(), "retablo photos too dark", testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Profile.Status != profile.StatusRevisions {
			t.Errorf("status = %s, want revisions", res.Profile.Status)
		}
		if res.Entry.Notes != "retablo photos too dark" {
			t.Errorf("notes = %q, want review notes preserved", res.Entry.Notes)
		}
	})

	t.Run("chancery may not museum-approve", func(t *testing.T) {
		_, err := Apply(p, ActionMuseumApprove, chancery(), "", testNow)
		if KindOf(err) != KindPermissionDenied {
			t.Errorf("expected PermissionDenied, got %v", err)
		}
	})
}

func TestUnpublish(t *testing.T) {
	p := approvedProfile()
	p.Pending = &profile.PendingChange{
		ChangedFields:  []string{"description"},
		ProposedValues: map[string]any{"description": "staged"},
		SubmittedAt:    testNow,
		SubmittedBy:    "user-parish",
	}

	res, err := Apply(p, ActionUnpublish, chancery(), "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Profile.Status != profile.StatusDraft {
		t.Errorf("status = %s, want draft", res.Profile.Status)
	}
	if res.Profile.Pending != nil {
		t.Error("unpublish must discard the overlay")
	}
	if res.Profile.HasPendingChanges() {
		t.Error("pending flag must follow the cleared overlay")
	}

	t.Run("parish may not unpublish", func(t *testing.T) {
		_, err := Apply(approvedProfile(), ActionUnpublish, parish(), "", testNow)
		if KindOf(err) != KindPermissionDenied {
			t.Errorf("expected PermissionDenied, got %v", err)
		}
	})
}

func TestUndefinedTransitionsRejected(t *testing.T) {
	cases := []struct {
		status profile.Status
		action Action
	}{
		{profile.StatusDraft, ActionApprove},
		{profile.StatusDraft, ActionUnpublish},
		{profile.StatusApproved, ActionSubmitForReview},
		{profile.StatusApproved, ActionApprove},
		{profile.StatusRevisions, ActionApprove},
		{profile.StatusPending, ActionMuseumApprove},
		{profile.StatusHeritageReview, ActionApprove},
	}
	for _, tc := range cases {
		p := draftProfile()
		p.Status = tc.status
		before := *p
		_, err := Apply(p, tc.action, Actor{ID: "u", Role: rbac.RoleAdmin}, "", testNow)
		if KindOf(err) != KindInvalidTransition {
			t.Errorf("Apply(%s, %s): expected InvalidTransition, got %v", tc.status, tc.action, err)
		}
		if p.Status != before.Status {
			t.Errorf("Apply(%s, %s): rejected transition mutated state", tc.status, tc.action)
		}
	}
}

func TestAdminBypassesRoleCheck(t *testing.T) {
	p := draftProfile()
	admin := Actor{ID: "user-admin", Role: rbac.RoleAdmin}
	res, err := Apply(p, ActionSubmitForReview, admin, "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Profile.Status != profile.StatusPending {
		t.Errorf("status = %s, want pending", res.Profile.Status)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(profile.StatusDraft, ActionSubmitForReview) {
		t.Error("draft + submit_for_review should be defined")
	}
	if CanTransition(profile.StatusDraft, ActionApprove) {
		t.Error("draft + approve should not be defined")
	}
}
