package workflow

import (
	"testing"

	"visita/api/internal/profile"
)

func TestStageEdit(t *testing.T) {
	t.Run("chancery may not stage", func(t *testing.T) {
		// Scenario: only parish staff stage edits on a published profile.
		p := approvedProfile()
		_, err := StageEdit(p, map[string]any{"foundingYear": 1700}, chancery(), testNow)
		if KindOf(err) != KindPermissionDenied {
			t.Errorf("expected PermissionDenied, got %v", err)
		}
	})

	t.Run("parish stages a changed field", func(t *testing.T) {
		p := approvedProfile()
		res, err := StageEdit(p, map[string]any{"foundingYear": 1700}, parish(), testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := res.Profile
		if got.Status != profile.StatusApproved {
			t.Errorf("status = %s, staging must not leave approved", got.Status)
		}
		if !got.HasPendingChanges() {
			t.Fatal("expected overlay present")
		}
		if got.FoundingYear != 1694 {
			t.Errorf("live foundingYear = %d, staging must not touch the record", got.FoundingYear)
		}
		if got.Pending.ProposedValues["foundingYear"] != 1700 {
			t.Errorf("proposed foundingYear = %v, want 1700", got.Pending.ProposedValues["foundingYear"])
		}
		if len(got.Pending.ChangedFields) != 1 || got.Pending.ChangedFields[0] != "foundingYear" {
			t.Errorf("changedFields = %v, want [foundingYear]", got.Pending.ChangedFields)
		}
		if got.Pending.ForwardedToMuseum {
			t.Error("fresh overlay must not be forwarded")
		}
	})

	t.Run("not approved", func(t *testing.T) {
		p := draftProfile()
		_, err := StageEdit(p, map[string]any{"foundingYear": 1700}, parish(), testNow)
		if KindOf(err) != KindInvalidTransition {
			t.Errorf("expected InvalidTransition, got %v", err)
		}
	})

	t.Run("no-op diff rejected", func(t *testing.T) {
		p := approvedProfile()
		_, err := StageEdit(p, map[string]any{"foundingYear": 1694, "name": "Paoay Church"}, parish(), testNow)
		if KindOf(err) != KindNothingChanged {
			t.Errorf("expected NothingChanged, got %v", err)
		}
	})

	t.Run("coerced equal value is not a change", func(t *testing.T) {
		// A numeric string that parses to the live value is a no-op.
		p := approvedProfile()
		_, err := StageEdit(p, map[string]any{"foundingYear": "1694"}, parish(), testNow)
		if KindOf(err) != KindNothingChanged {
			t.Errorf("expected NothingChanged, got %v", err)
		}
	})

	t.Run("unknown fields ignored", func(t *testing.T) {
		p := approvedProfile()
		_, err := StageEdit(p, map[string]any{"virtualTour": "corrupt blob"}, parish(), testNow)
		if KindOf(err) != KindNothingChanged {
			t.Errorf("expected NothingChanged, got %v", err)
		}
	})

	t.Run("second staging replaces the first", func(t *testing.T) {
		p := approvedProfile()
		res, err := StageEdit(p, map[string]any{"foundingYear": 1700, "patron": "Nuestra Señora"}, parish(), testNow)
		if err != nil {
			t.Fatalf("first staging failed: %v", err)
		}
		res, err = StageEdit(res.Profile, map[string]any{"foundingYear": 1710}, parish(), testNow)
		if err != nil {
			t.Fatalf("second staging failed: %v", err)
		}
		pc := res.Profile.Pending
		if pc.ProposedValues["foundingYear"] != 1710 {
			t.Errorf("proposed foundingYear = %v, want the later edit 1710", pc.ProposedValues["foundingYear"])
		}
		if _, ok := pc.ProposedValues["patron"]; ok {
			t.Error("replaced overlay must not keep fields from the earlier staging")
		}
	})
}

func TestApprovePending(t *testing.T) {
	staged := func(t *testing.T) *profile.Profile {
		t.Helper()
		res, err := StageEdit(approvedProfile(), map[string]any{"foundingYear": 1710, "description": "Revised text."}, parish(), testNow)
		if err != nil {
			t.Fatalf("staging failed: %v", err)
		}
		return res.Profile
	}

	t.Run("merge as staged", func(t *testing.T) {
		p := staged(t)
		res, err := ApprovePending(p, chancery(), nil, testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := res.Profile
		if got.FoundingYear != 1710 {
			t.Errorf("foundingYear = %d, want 1710 merged", got.FoundingYear)
		}
		if got.Description != "Revised text." {
			t.Errorf("description = %q, want merged text", got.Description)
		}
		if got.Pending != nil || got.HasPendingChanges() {
			t.Error("overlay must be cleared after merge")
		}
		if got.Status != profile.StatusApproved {
			t.Errorf("status = %s, merge must keep approved", got.Status)
		}
		if res.Entry.EntryType != EntryContentMerge {
			t.Errorf("entry type = %s, want content_merge", res.Entry.EntryType)
		}
		if res.Event.FromStatus != profile.StatusApproved || res.Event.ToStatus != profile.StatusApproved {
			t.Errorf("event statuses = %s→%s, want approved→approved", res.Event.FromStatus, res.Event.ToStatus)
		}
	})

	t.Run("reviewer corrects a value before merging", func(t *testing.T) {
		p := staged(t)
		res, err := ApprovePending(p, chancery(), map[string]any{"foundingYear": 1712}, testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Profile.FoundingYear != 1712 {
			t.Errorf("foundingYear = %d, want reviewer's 1712", res.Profile.FoundingYear)
		}
		if res.Profile.Description != "Revised text." {
			t.Error("uncorrected staged fields must still merge")
		}
	})

	t.Run("reviewer keys outside the staged set ignored", func(t *testing.T) {
		p := staged(t)
		res, err := ApprovePending(p, chancery(), map[string]any{"name": "Renamed Church"}, testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Profile.Name != "Paoay Church" {
			t.Error("reviewer must not inject fields the parish never staged")
		}
	})

	t.Run("parish may not merge", func(t *testing.T) {
		_, err := ApprovePending(staged(t), parish(), nil, testNow)
		if KindOf(err) != KindPermissionDenied {
			t.Errorf("expected PermissionDenied, got %v", err)
		}
	})

	t.Run("no overlay", func(t *testing.T) {
		_, err := ApprovePending(approvedProfile(), chancery(), nil, testNow)
		if KindOf(err) != KindInvalidTransition {
			t.Errorf("expected InvalidTransition, got %v", err)
		}
	})

	t.Run("staged heritage classification must go to museum", func(t *testing.T) {
		res, err := StageEdit(approvedProfile(), map[string]any{"heritageClassification": "important_cultural_property"}, parish(), testNow)
		if err != nil {
			t.Fatalf("staging failed: %v", err)
		}
		_, err = ApprovePending(res.Profile, chancery(), nil, testNow)
		if KindOf(err) != KindGuardFailed {
			t.Errorf("expected GuardFailed, got %v", err)
		}
	})
}

func TestForwardedOverlay(t *testing.T) {
	heritageStaged := func(t *testing.T) *profile.Profile {
		t.Helper()
		p := approvedProfile()
		p.Classification = profile.ClassificationNCT
		p.Heritage = true
		res, err := StageEdit(p, map[string]any{"description": "Retablo restoration notes."}, parish(), testNow)
		if err != nil {
			t.Fatalf("staging failed: %v", err)
		}
		return res.Profile
	}

	t.Run("forward requires heritage", func(t *testing.T) {
		res, err := StageEdit(approvedProfile(), map[string]any{"description": "x"}, parish(), testNow)
		if err != nil {
			t.Fatalf("staging failed: %v", err)
		}
		_, err = ForwardPending(res.Profile, chancery(), testNow)
		if KindOf(err) != KindGuardFailed {
			t.Errorf("expected GuardFailed, got %v", err)
		}
	})

	t.Run("staged classification counts as heritage", func(t *testing.T) {
		res, err := StageEdit(approvedProfile(), map[string]any{"heritageClassification": "national_cultural_treasure"}, parish(), testNow)
		if err != nil {
			t.Fatalf("staging failed: %v", err)
		}
		fwd, err := ForwardPending(res.Profile, chancery(), testNow)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if !fwd.Profile.Pending.ForwardedToMuseum {
			t.Error("expected overlay forwarded")
		}
	})

	t.Run("forwarded overlay blocks chancery and yields to museum", func(t *testing.T) {
		// Scenario: forwarded overlay. Chancery may no longer merge; the
		// museum researcher merges, the overlay clears, status stays
		// approved throughout.
		p := heritageStaged(t)
		fwd, err := ForwardPending(p, chancery(), testNow)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if fwd.Profile.Status != profile.StatusApproved {
			t.Errorf("status = %s, forwarding must keep approved", fwd.Profile.Status)
		}

		_, err = ApprovePending(fwd.Profile, chancery(), nil, testNow)
		if KindOf(err) != KindGuardFailed {
			t.Errorf("chancery merge on forwarded overlay: expected GuardFailed, got %v", err)
		}

		res, err := MuseumApprovePending(fwd.Profile, museum(), nil, testNow)
		if err != nil {
			t.Fatalf("museum merge failed: %v", err)
		}
		if res.Profile.Pending != nil {
			t.Error("overlay must be cleared after museum merge")
		}
		if res.Profile.Status != profile.StatusApproved {
			t.Errorf("status = %s, want approved", res.Profile.Status)
		}
		if res.Profile.Description != "Retablo restoration notes." {
			t.Error("staged value must be merged")
		}
	})

	t.Run("museum may not merge an unforwarded overlay", func(t *testing.T) {
		p := heritageStaged(t)
		_, err := MuseumApprovePending(p, museum(), nil, testNow)
		if KindOf(err) != KindGuardFailed {
			t.Errorf("expected GuardFailed, got %v", err)
		}
	})

	t.Run("double forward rejected", func(t *testing.T) {
		p := heritageStaged(t)
		fwd, err := ForwardPending(p, chancery(), testNow)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		_, err = ForwardPending(fwd.Profile, chancery(), testNow)
		if KindOf(err) != KindGuardFailed {
			t.Errorf("expected GuardFailed, got %v", err)
		}
	})
}

func TestDiscardPending(t *testing.T) {
	staged := func(t *testing.T) *profile.Profile {
		t.Helper()
		res, err := StageEdit(approvedProfile(), map[string]any{"description": "staged"}, parish(), testNow)
		if err != nil {
			t.Fatalf("staging failed: %v", err)
		}
		return res.Profile
	}

	t.Run("chancery discards", func(t *testing.T) {
		res, err := DiscardPending(staged(t), chancery(), testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Profile.Pending != nil {
			t.Error("overlay must be cleared")
		}
		if res.Profile.Description != "Earthquake-baroque church, completed 1710." {
			t.Error("discard must not merge staged values")
		}
	})

	t.Run("museum discards", func(t *testing.T) {
		if _, err := DiscardPending(staged(t), museum(), testNow); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("parish may not discard", func(t *testing.T) {
		_, err := DiscardPending(staged(t), parish(), testNow)
		if KindOf(err) != KindPermissionDenied {
			t.Errorf("expected PermissionDenied, got %v", err)
		}
	})

	t.Run("no overlay", func(t *testing.T) {
		_, err := DiscardPending(approvedProfile(), chancery(), testNow)
		if KindOf(err) != KindInvalidTransition {
			t.Errorf("expected InvalidTransition, got %v", err)
		}
	})
}

func TestRejectedOverlayOpsDoNotMutate(t *testing.T) {
	p := approvedProfile()
	res, _ := StageEdit(p, map[string]any{"description": "staged"}, parish(), testNow)
	staged := res.Profile
	before := staged.Clone()

	ApprovePending(staged, parish(), nil, testNow)
	MuseumApprovePending(staged, museum(), nil, testNow)
	ForwardPending(staged, chancery(), testNow)

	if staged.Description != before.Description || staged.Pending == nil ||
		staged.Pending.ForwardedToMuseum != before.Pending.ForwardedToMuseum {
		t.Error("rejected operations must leave the profile untouched")
	}
}
