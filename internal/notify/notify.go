// Package notify turns workflow events into user-visible alerts. The
// workflow only hands over event payloads; delivery lives here.
package notify

import (
	"context"
	"fmt"
	"sync"

	"visita/api/internal/workflow"
)

// Notifier consumes workflow events.
type Notifier interface {
	NotifyWorkflowEvent(ctx context.Context, event workflow.Event, recipients []string) error
}

// SubjectFor renders the alert subject line for an event kind.
func SubjectFor(event workflow.Event) string {
	switch event.Kind {
	case string(workflow.ActionSubmitForReview):
		return fmt.Sprintf("Church profile %s submitted for review", event.ProfileID)
	case string(workflow.ActionApprove), string(workflow.ActionMuseumApprove):
		return fmt.Sprintf("Church profile %s approved and published", event.ProfileID)
	case string(workflow.ActionForwardToMuseum):
		return fmt.Sprintf("Church profile %s forwarded to museum review", event.ProfileID)
	case string(workflow.ActionRequestRevisions):
		return fmt.Sprintf("Revisions requested on church profile %s", event.ProfileID)
	case string(workflow.ActionUnpublish):
		return fmt.Sprintf("Church profile %s unpublished", event.ProfileID)
	case workflow.EventPendingStaged:
		return fmt.Sprintf("Edit staged on published profile %s", event.ProfileID)
	case workflow.EventContentMerge:
		return fmt.Sprintf("Approved edits merged into profile %s", event.ProfileID)
	case workflow.EventPendingForwarded:
		return fmt.Sprintf("Staged edits on profile %s forwarded to museum review", event.ProfileID)
	case workflow.EventPendingDiscarded:
		return fmt.Sprintf("Staged edits on profile %s discarded", event.ProfileID)
	}
	return fmt.Sprintf("Update on church profile %s", event.ProfileID)
}

// Recorder is an in-memory Notifier for tests.
type Recorder struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (r *Recorder) NotifyWorkflowEvent(ctx context.Context, event workflow.Event, recipients []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of every recorded event, in emission order.
func (r *Recorder) Events() []workflow.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]workflow.Event(nil), r.events...)
}
