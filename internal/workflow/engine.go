// Package workflow implements the church profile review state machine and
// the pending-changes overlay for already-published profiles.
package workflow

import (
	"fmt"
	"time"

	"visita/api/internal/profile"
	"visita/api/internal/rbac"
)

// Action is a named status transition.
type Action string

const (
	ActionSubmitForReview  Action = "submit_for_review"
	ActionApprove          Action = "approve"
	ActionForwardToMuseum  Action = "forward_to_museum"
	ActionRequestRevisions Action = "request_revisions"
	ActionMuseumApprove    Action = "museum_approve"
	ActionUnpublish        Action = "unpublish"
)

// submitThreshold is the minimum required-field completeness for submission.
const submitThreshold = 0.80

type transitionKey struct {
	from   profile.Status
	action Action
}

type transitionRule struct {
	roles []rbac.Role
	guard func(*profile.Profile) *Error
	to    profile.Status
}

// transitions is the whole state machine. Adding or auditing a transition
// is an edit to this table, nowhere else.
var transitions = map[transitionKey]transitionRule{
	{profile.StatusDraft, ActionSubmitForReview}: {
		roles: []rbac.Role{rbac.RoleParishSecretary},
		guard: guardSubmittable,
		to:    profile.StatusPending,
	},
	{profile.StatusPending, ActionApprove}: {
		roles: []rbac.Role{rbac.RoleChanceryOffice},
		guard: guardNotHeritage,
		to:    profile.StatusApproved,
	},
	{profile.StatusPending, ActionForwardToMuseum}: {
		roles: []rbac.Role{rbac.RoleChanceryOffice},
		guard: guardHeritage,
		to:    profile.StatusHeritageReview,
	},
	{profile.StatusPending, ActionRequestRevisions}: {
		roles: []rbac.Role{rbac.RoleChanceryOffice},
		to:    profile.StatusRevisions,
	},
	{profile.StatusHeritageReview, ActionMuseumApprove}: {
		roles: []rbac.Role{rbac.RoleMuseumResearcher},
		to:    profile.StatusApproved,
	},
	{profile.StatusHeritageReview, ActionRequestRevisions}: {
		roles: []rbac.Role{rbac.RoleMuseumResearcher},
		to:    profile.StatusRevisions,
	},
	{profile.StatusRevisions, ActionSubmitForReview}: {
		roles: []rbac.Role{rbac.RoleParishSecretary},
		guard: guardSubmittable,
		to:    profile.StatusPending,
	},
	{profile.StatusApproved, ActionUnpublish}: {
		roles: []rbac.Role{rbac.RoleChanceryOffice},
		to:    profile.StatusDraft,
	},
}

func guardSubmittable(p *profile.Profile) *Error {
	if c := p.Completeness(); c < submitThreshold {
		return errGuardFailed(fmt.Sprintf("required fields %.0f%% complete, need at least %.0f%%", c*100, submitThreshold*100))
	}
	if !p.ConsentGiven() {
		return errGuardFailed("data and photo consent must both be given before submission")
	}
	return nil
}

func guardNotHeritage(p *profile.Profile) *Error {
	if p.Classification.IsHeritage() {
		return errGuardFailed(fmt.Sprintf("classification %q requires museum review, forward instead of approving", p.Classification))
	}
	return nil
}

func guardHeritage(p *profile.Profile) *Error {
	if !p.Classification.IsHeritage() {
		return errGuardFailed("only heritage-classified churches are forwarded to the museum")
	}
	return nil
}

func roleAllowed(roles []rbac.Role, role rbac.Role) bool {
	if role == rbac.RoleAdmin {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Apply runs one status transition against a freshly read profile. Guards
// are evaluated here, at apply time, never earlier: a classification that
// changed after submission is seen by the approve guard. On success the
// returned profile is a modified clone; the input is never touched, so a
// failed compare-and-set leaves nothing half-applied.
func Apply(p *profile.Profile, action Action, actor Actor, notes string, now time.Time) (*Result, error) {
	rule, ok := transitions[transitionKey{p.Status, action}]
	if !ok {
		return nil, errInvalidTransition(string(p.Status), string(action))
	}
	if !roleAllowed(rule.roles, actor.Role) {
		return nil, errPermissionDenied(string(actor.Role), string(action))
	}
	if rule.guard != nil {
		if err := rule.guard(p); err != nil {
			return nil, err
		}
	}

	next := p.Clone()
	from := next.Status
	next.Status = rule.to
	next.UpdatedAt = now
	// An unpublished profile has no public version for an overlay to shadow.
	if action == ActionUnpublish {
		next.Pending = nil
	}

	return newResult(next, string(action), EntryStatusTransition, from, rule.to, actor, notes, now), nil
}

// CanTransition reports whether the (status, action) pair exists in the
// table, ignoring roles and guards. Used by the HTTP layer to describe
// available actions.
func CanTransition(from profile.Status, action Action) bool {
	_, ok := transitions[transitionKey{from, action}]
	return ok
}
