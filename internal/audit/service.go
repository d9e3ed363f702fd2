package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/whatnewads/safeshift-sub018/internal/audit/masking"
	"github.com/whatnewads/safeshift-sub018/internal/audit/metrics"
	pkgerrors "github.com/whatnewads/safeshift-sub018/pkg/errors"
)

// Recorder is the write surface of the audit engine. It runs synchronously
// inside the caller's request and ambient transaction: diff, mask, sign, and
// append either all happen or the whole transaction rolls back. There is no
// deferred or best-effort path; a business operation never commits without
// its audit record.
type Recorder struct {
	store   Store
	signer  Signer
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   *monotonicClock
	tracer  trace.Tracer
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithNow overrides the wall clock, for tests.
func WithNow(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.clock.now = now
	}
}

// NewRecorder constructs a Recorder. The recorder is an explicitly injected
// instance owned by the composition root; there is no process-wide singleton.
func NewRecorder(store Store, signer Signer, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		signer: signer,
		logger: logger,
		clock:  &monotonicClock{now: time.Now},
		tracer: otel.Tracer("safeshift/audit"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordMutation audits a create, update, or delete of a regulated entity.
// before/after are the raw entity snapshots captured around the mutation;
// masking is applied here, never by the caller. A failed operation carries no
// snapshots and records no diff. Returns the new record id, or an error that
// must abort the caller's transaction.
func (r *Recorder) RecordMutation(ctx context.Context, subject Subject, action Action, before, after EntitySnapshot, actor ActorContext, outcome Outcome) (string, error) {
	ctx, span := r.tracer.Start(ctx, "audit.RecordMutation", trace.WithAttributes(
		attribute.String("audit.action", string(action)),
		attribute.String("audit.subject_type", subject.Type),
	))
	defer span.End()

	if action == ActionRead {
		return "", pkgerrors.New(pkgerrors.CodeInvalidInput, "RecordMutation does not accept read; use RecordAccess")
	}
	return r.record(ctx, subject, action, before, after, actor, outcome)
}

// RecordAccess audits a read of regulated data. No diff is computed; the
// record exists purely as PHI-access evidence, including failed attempts.
func (r *Recorder) RecordAccess(ctx context.Context, subject Subject, actor ActorContext, outcome Outcome) (string, error) {
	ctx, span := r.tracer.Start(ctx, "audit.RecordAccess", trace.WithAttributes(
		attribute.String("audit.subject_type", subject.Type),
	))
	defer span.End()

	return r.record(ctx, subject, ActionRead, nil, nil, actor, outcome)
}

func (r *Recorder) record(ctx context.Context, subject Subject, action Action, before, after EntitySnapshot, actor ActorContext, outcome Outcome) (string, error) {
	start := time.Now()

	if subject.Type == "" || subject.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeInvalidInput, "audit record requires subject type and id")
	}
	if actor.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeInvalidInput, "audit record requires an actor id")
	}

	// A failed operation changed nothing, so there is no diff to build and no
	// snapshots to demand; the record is pure evidence of the attempt, like a
	// read.
	desc := ChangeDescriptor{Action: action}
	if outcome.Success {
		var err error
		desc, err = BuildChange(action, before, after)
		if err != nil {
			r.fail(ctx, "diff", subject, action, err)
			return "", err
		}
	} else if !action.Valid() {
		return "", pkgerrors.New(pkgerrors.CodeInvalidInput, "audit record: unknown action "+string(action))
	}
	r.countFallbacks(desc.ChangedFields)

	id, err := uuid.NewV7()
	if err != nil {
		r.fail(ctx, "id", subject, action, err)
		return "", fmt.Errorf("assign record id: %w", err)
	}
	now := r.clock.Now()

	record := Record{
		ID:            id.String(),
		Actor:         actor.Actor,
		Subject:       subject,
		Action:        action,
		OccurredAt:    now,
		Session:       actor.Session,
		ChangedFields: desc.ChangedFields,
		OldValues:     desc.OldValues,
		NewValues:     desc.NewValues,
		Outcome:       outcome,
		CreatedAt:     now,
	}

	signature, err := r.signer.Sign(record)
	if err != nil {
		r.fail(ctx, "sign", subject, action, err)
		return "", fmt.Errorf("sign audit record: %w", err)
	}
	record.IntegritySignature = signature

	if err := r.store.Append(ctx, record); err != nil {
		r.fail(ctx, "append", subject, action, err)
		return "", fmt.Errorf("append audit record: %w", err)
	}

	if r.metrics != nil {
		r.metrics.IncRecordsWritten(string(action))
		r.metrics.ObserveAppendDuration(time.Since(start).Seconds())
	}
	return record.ID, nil
}

// fail records an engine failure. These abort the caller's transaction, so
// they are logged loudly here before propagating.
func (r *Recorder) fail(ctx context.Context, stage string, subject Subject, action Action, err error) {
	if r.metrics != nil {
		r.metrics.IncEngineFailure(stage)
	}
	if r.logger != nil {
		r.logger.ErrorContext(ctx, "audit engine failure, aborting transaction",
			"stage", stage,
			"subject_type", subject.Type,
			"action", string(action),
			"error", err,
		)
	}
}

func (r *Recorder) countFallbacks(fields []string) {
	if r.metrics == nil {
		return
	}
	for _, field := range fields {
		if masking.Classify(field) == masking.CategoryRestricted {
			r.metrics.IncMaskingFallbacks()
		}
	}
}

// monotonicClock guarantees strictly increasing occurred_at values within the
// process, at the microsecond precision the store persists.
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
