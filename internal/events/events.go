// Package events defines the subjects and payloads published on the bus.
package events

// Run lifecycle subjects. Subscribers interested in everything use
// SubjectRunAll with NATS-style wildcard matching.
const (
	SubjectRunCreated   = "run.created"
	SubjectRunRunning   = "run.running"
	SubjectRunAwaiting  = "run.awaiting"
	SubjectRunCompleted = "run.completed"
	SubjectRunFailed    = "run.failed"
	SubjectRunCancelled = "run.cancelled"
	SubjectRunAll       = "run.*"
)

// TypeRunTransition is the event type for run state changes.
const TypeRunTransition = "run.transition"
