package models

import (
	"fmt"
	"time"
)

// Event kinds
const (
	EventRelease = "release"
	EventTag     = "tag"
	EventManual  = "manual"
)

// Release actions we care about; others pass through as opaque strings
const (
	ActionPublished  = "published"
	ActionCreated    = "created"
	ActionPrerelease = "prereleased"
)

// Event is the trigger that starts a pipeline run. It is built from CLI
// flags, the environment, or an inbound webhook payload.
type Event struct {
	Kind       string    // release, tag, or manual
	Action     string    // Release action (published, created, ...)
	Tag        string    // Tag name, e.g. v1.2.3
	Commit     string    // Commit SHA the event points at
	Repo       string    // owner/name of the source repository
	Actor      string    // Who triggered the event (optional)
	ReceivedAt time.Time // When the runner saw the event
}

// IsReleasePublication is the single source of truth for the publish
// gate: only a release event with the published action qualifies.
func (e *Event) IsReleasePublication() bool {
	return e.Kind == EventRelease && e.Action == ActionPublished
}

// String renders the event as kind or kind.action for logs and conditions
func (e *Event) String() string {
	if e.Action == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s.%s", e.Kind, e.Action)
}

// Validate checks the event is well formed enough to match triggers
func (e *Event) Validate() error {
	switch e.Kind {
	case EventRelease:
		if e.Action == "" {
			return fmt.Errorf("release event requires an action")
		}
	case EventTag:
		if e.Tag == "" {
			return fmt.Errorf("tag event requires a tag name")
		}
	case EventManual:
		// nothing required
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Version returns the tag with any leading v stripped, the form package
// metadata carries
func (e *Event) Version() string {
	if len(e.Tag) > 1 && e.Tag[0] == 'v' {
		return e.Tag[1:]
	}
	return e.Tag
}
