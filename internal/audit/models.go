// Package audit implements the change-tracking and audit-trail engine for
// regulated clinical data. Every mutating operation on a patient record,
// encounter, or session produces exactly one immutable Record describing who
// did what, when, from where, what changed, and whether it succeeded.
//
// Records are write-once: corrections are new records referencing the
// original, never in-place edits. Sensitive values are masked before they are
// persisted and every record carries an integrity signature so post-hoc
// tampering is detectable on read.
package audit

import (
	"time"
)

// Action is the closed set of auditable operations.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a member of the closed action set.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// EntitySnapshot is a field-name-to-value view of an entity's state before or
// after a mutation, supplied by the data-access layer performing the business
// operation. Values are raw; masking happens inside the engine.
type EntitySnapshot map[string]any

// Actor identifies who performed an operation. Role is captured at the time
// of the action, not looked up later, because roles change.
type Actor struct {
	ID          string
	DisplayName string
	Role        string
}

// Subject is the entity acted upon. LinkedID optionally carries a secondary
// identifier for cross-entity correlation, e.g. the patient id on an
// encounter-level subject, so PHI-access queries work regardless of the
// primary subject type.
type Subject struct {
	Type     string
	ID       string
	LinkedID string
}

// SessionContext captures request provenance. Best-effort: system-initiated
// actions legitimately leave it empty.
type SessionContext struct {
	SourceIP  string
	UserAgent string
	SessionID string
}

// ActorContext is the single well-typed actor value resolved once at the
// request boundary and never re-interpreted downstream.
type ActorContext struct {
	Actor
	Session SessionContext
}

// Outcome records whether the audited business operation succeeded. A failed
// business operation is still audited; failure here is data, not an error.
type Outcome struct {
	Success      bool
	ErrorMessage string
}

// Record is one immutable audit trail entry.
type Record struct {
	// ID is a UUIDv7, time-sortable, assigned at creation.
	ID      string
	Actor   Actor
	Subject Subject
	Action  Action
	// OccurredAt is set server-side with sub-second precision and is
	// monotonic per process.
	OccurredAt time.Time
	Session    SessionContext
	// ChangedFields lists fields that differ between before/after, in
	// canonical order. Empty for read, and for updates with no effective
	// change (which are still persisted as evidence the operation ran).
	ChangedFields []string
	// OldValues and NewValues hold masked values keyed by field name. Only
	// fields in ChangedFields appear; create carries NewValues only, delete
	// carries OldValues only.
	OldValues map[string]string
	NewValues map[string]string
	Outcome   Outcome
	// IntegritySignature is an HMAC over the canonical form of every other
	// field. Verified on every compliance read.
	IntegritySignature string
	CreatedAt          time.Time
}

// ChangeDescriptor is the diff engine's output: the minimal changed-field set
// plus masked value maps, ready to be attached to a Record.
type ChangeDescriptor struct {
	Action        Action
	ChangedFields []string
	OldValues     map[string]string
	NewValues     map[string]string
}
