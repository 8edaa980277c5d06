package workflow

import (
	"reflect"
	"time"

	"visita/api/internal/profile"
	"visita/api/internal/rbac"
)

// Overlay event kinds.
const (
	EventPendingStaged    = "pending_staged"
	EventContentMerge     = "content_merge"
	EventPendingForwarded = "pending_forwarded"
	EventPendingDiscarded = "pending_discarded"
)

// StageEdit stages a field-level edit against an approved profile. The
// public record is untouched; the edit lives in the overlay until a
// reviewer merges or discards it. Staging while an overlay already exists
// replaces the whole overlay, it never queues additively.
func StageEdit(p *profile.Profile, fields map[string]any, actor Actor, now time.Time) (*Result, error) {
	if p.Status != profile.StatusApproved {
		return nil, errInvalidTransition(string(p.Status), "stage_edit")
	}
	if !roleAllowed([]rbac.Role{rbac.RoleParishSecretary}, actor.Role) {
		return nil, errPermissionDenied(string(actor.Role), "stage_edit")
	}

	// Diff field by field against the live record, coercing each proposed
	// value through the same rules the normalizer applies so that, say, a
	// numeric string founding year is not reported as a change.
	changed := map[string]struct{}{}
	proposed := map[string]any{}
	for name, value := range fields {
		current, known := p.FieldValue(name)
		if !known {
			continue
		}
		scratch := p.Clone()
		scratch.SetField(name, value)
		coerced, _ := scratch.FieldValue(name)
		if reflect.DeepEqual(current, coerced) {
			continue
		}
		changed[name] = struct{}{}
		proposed[name] = coerced
	}
	if len(changed) == 0 {
		return nil, errNothingChanged()
	}

	next := p.Clone()
	next.Pending = &profile.PendingChange{
		ChangedFields:  profile.SortedFields(changed),
		ProposedValues: proposed,
		SubmittedAt:    now,
		SubmittedBy:    actor.ID,
	}
	next.UpdatedAt = now

	return newResult(next, EventPendingStaged, EntryContentMerge, p.Status, p.Status, actor, "", now), nil
}

// ApprovePending merges the overlay into the live record. The reviewer may
// hand back corrected values for any staged field instead of accepting the
// parish's values wholesale. Status stays approved; the history still
// records that a merge happened.
func ApprovePending(p *profile.Profile, actor Actor, reviewed map[string]any, now time.Time) (*Result, error) {
	if p.Pending == nil {
		return nil, errInvalidTransition(string(p.Status), "approve_pending_changes")
	}
	if !roleAllowed([]rbac.Role{rbac.RoleChanceryOffice}, actor.Role) {
		return nil, errPermissionDenied(string(actor.Role), "approve_pending_changes")
	}
	if p.Pending.ForwardedToMuseum {
		return nil, errGuardFailed("pending changes already forwarded to museum review")
	}
	merged := mergeOverlay(p, reviewed, now)
	// A staged edit that makes the church heritage-classified needs museum
	// sign-off; the chancery must forward it, not merge it.
	if fieldStaged(p, "heritageClassification") && merged.Classification.IsHeritage() {
		return nil, errGuardFailed("staged heritage classification requires museum review, forward instead of merging")
	}

	return newResult(merged, EventContentMerge, EntryContentMerge, p.Status, p.Status, actor, p.Pending.ReviewNotes, now), nil
}

// ForwardPending routes the overlay to museum review. The profile stays
// approved and the public keeps seeing the old values; only the overlay
// enters the museum sub-state, and the chancery queue no longer lists it.
func ForwardPending(p *profile.Profile, actor Actor, now time.Time) (*Result, error) {
	if p.Pending == nil {
		return nil, errInvalidTransition(string(p.Status), "forward_pending_changes_to_museum")
	}
	if !roleAllowed([]rbac.Role{rbac.RoleChanceryOffice}, actor.Role) {
		return nil, errPermissionDenied(string(actor.Role), "forward_pending_changes_to_museum")
	}
	if !effectiveClassification(p).IsHeritage() {
		return nil, errGuardFailed("only heritage-classified changes are forwarded to the museum")
	}
	if p.Pending.ForwardedToMuseum {
		return nil, errGuardFailed("pending changes already forwarded to museum review")
	}

	next := p.Clone()
	next.Pending.ForwardedToMuseum = true
	next.UpdatedAt = now

	return newResult(next, EventPendingForwarded, EntryContentMerge, p.Status, p.Status, actor, "", now), nil
}

// MuseumApprovePending merges a forwarded overlay. Behaves as
// ApprovePending but is only reachable once the overlay was forwarded.
func MuseumApprovePending(p *profile.Profile, actor Actor, reviewed map[string]any, now time.Time) (*Result, error) {
	if p.Pending == nil {
		return nil, errInvalidTransition(string(p.Status), "museum_approve_pending_changes")
	}
	if !roleAllowed([]rbac.Role{rbac.RoleMuseumResearcher}, actor.Role) {
		return nil, errPermissionDenied(string(actor.Role), "museum_approve_pending_changes")
	}
	if !p.Pending.ForwardedToMuseum {
		return nil, errGuardFailed("pending changes were not forwarded to museum review")
	}
	merged := mergeOverlay(p, reviewed, now)

	return newResult(merged, EventContentMerge, EntryContentMerge, p.Status, p.Status, actor, p.Pending.ReviewNotes, now), nil
}

// DiscardPending clears the overlay without merging anything.
func DiscardPending(p *profile.Profile, actor Actor, now time.Time) (*Result, error) {
	if p.Pending == nil {
		return nil, errInvalidTransition(string(p.Status), "discard_pending_changes")
	}
	if !roleAllowed([]rbac.Role{rbac.RoleChanceryOffice, rbac.RoleMuseumResearcher}, actor.Role) {
		return nil, errPermissionDenied(string(actor.Role), "discard_pending_changes")
	}

	next := p.Clone()
	next.Pending = nil
	next.UpdatedAt = now

	return newResult(next, EventPendingDiscarded, EntryContentMerge, p.Status, p.Status, actor, "", now), nil
}

// mergeOverlay applies the staged values, optionally overridden by the
// reviewer's corrections, field by field onto a clone and clears the
// overlay. Reviewer keys outside the staged field set are ignored.
func mergeOverlay(p *profile.Profile, reviewed map[string]any, now time.Time) *profile.Profile {
	next := p.Clone()
	for _, name := range p.Pending.ChangedFields {
		value, ok := p.Pending.ProposedValues[name]
		if !ok {
			continue
		}
		if rv, ok := reviewed[name]; ok {
			value = rv
		}
		next.SetField(name, value)
	}
	next.Pending = nil
	next.UpdatedAt = now
	return next
}

func fieldStaged(p *profile.Profile, name string) bool {
	for _, f := range p.Pending.ChangedFields {
		if f == name {
			return true
		}
	}
	return false
}

// effectiveClassification is the classification the profile would carry if
// the overlay were merged as staged.
func effectiveClassification(p *profile.Profile) profile.Classification {
	if p.Pending != nil && fieldStaged(p, "heritageClassification") {
		scratch := p.Clone()
		scratch.SetField("heritageClassification", p.Pending.ProposedValues["heritageClassification"])
		return scratch.Classification
	}
	return p.Classification
}
