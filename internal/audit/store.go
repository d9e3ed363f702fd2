package audit

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store,Signer

import (
	"context"
	"time"

	pkgerrors "github.com/whatnewads/safeshift-sub018/pkg/errors"
)

// Signer produces and checks tamper-evident signatures over records. The
// concrete implementation lives in internal/audit/integrity; the interface is
// defined here so stores and services depend on the contract only.
type Signer interface {
	Sign(Record) (string, error)
	Verify(Record) bool
}

// Filter is the structured predicate shared by every read path: the result
// query, the count query, and the per-action aggregation are all built from
// this one representation, never from textual rewriting of an assembled
// query. Zero-valued dimensions impose no constraint; set dimensions combine
// with AND.
type Filter struct {
	ActorID         string
	SubjectType     string
	SubjectID       string
	LinkedSubjectID string
	Action          Action
	// OccurredFrom is inclusive, OccurredTo exclusive.
	OccurredFrom time.Time
	OccurredTo   time.Time
	Success      *bool
}

// Validate rejects malformed filter combinations before they reach storage.
func (f Filter) Validate() error {
	if f.Action != "" && !f.Action.Valid() {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "filter: unknown action "+string(f.Action))
	}
	if !f.OccurredFrom.IsZero() && !f.OccurredTo.IsZero() && !f.OccurredFrom.Before(f.OccurredTo) {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "filter: time range start must precede end")
	}
	return nil
}

// Matches is the in-process form of the predicate, used by the memory store
// and by tests asserting SQL parity.
func (f Filter) Matches(r Record) bool {
	if f.ActorID != "" && r.Actor.ID != f.ActorID {
		return false
	}
	if f.SubjectType != "" && r.Subject.Type != f.SubjectType {
		return false
	}
	if f.SubjectID != "" && r.Subject.ID != f.SubjectID {
		return false
	}
	if f.LinkedSubjectID != "" && r.Subject.LinkedID != f.LinkedSubjectID {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if !f.OccurredFrom.IsZero() && r.OccurredAt.Before(f.OccurredFrom) {
		return false
	}
	if !f.OccurredTo.IsZero() && !r.OccurredAt.Before(f.OccurredTo) {
		return false
	}
	if f.Success != nil && r.Outcome.Success != *f.Success {
		return false
	}
	return true
}

// Store persists audit records. Append is the only write operation; the
// public contract has no update or delete. Implementations join the caller's
// ambient transaction (pkg/platform/tx) and never open their own.
type Store interface {
	// Append persists a fully-built, signed record. It must fail loudly:
	// a failed append aborts the caller's whole transaction.
	Append(ctx context.Context, record Record) error

	// Get loads one record and re-verifies its integrity signature,
	// returning sentinel.ErrIntegrityViolation distinctly from
	// sentinel.ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Search returns one page of matching records, occurred_at descending,
	// ties broken by id descending.
	Search(ctx context.Context, filter Filter, limit, offset int) ([]Record, error)

	// Count returns the size of the full filtered set, independent of
	// pagination, built from the same predicate as Search.
	Count(ctx context.Context, filter Filter) (int64, error)

	// CountByAction aggregates the filtered set per action type.
	CountByAction(ctx context.Context, filter Filter) (map[Action]int64, error)

	// ListAfter returns up to limit records with id greater than afterID in
	// ascending id order. Record ids are time-sortable, so this tails the
	// log for the export forwarder.
	ListAfter(ctx context.Context, afterID string, limit int) ([]Record, error)
}
