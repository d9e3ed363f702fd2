package patient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	pkgerrors "github.com/whatnewads/safeshift-sub018/pkg/errors"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/sentinel"
)

// Auditor records audit entries for patient operations. Satisfied by
// audit.Recorder.
type Auditor interface {
	RecordMutation(ctx context.Context, subject audit.Subject, action audit.Action, before, after audit.EntitySnapshot, actor audit.ActorContext, outcome audit.Outcome) (string, error)
	RecordAccess(ctx context.Context, subject audit.Subject, actor audit.ActorContext, outcome audit.Outcome) (string, error)
}

// UnitOfWork runs fn inside a single transaction boundary. Satisfied by
// tx.Runner.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service couples patient mutations to their audit records: the business
// write and the audit append share one transaction, so neither can commit
// without the other.
type Service struct {
	store   Store
	auditor Auditor
	uow     UnitOfWork
	logger  *slog.Logger
}

func NewService(store Store, auditor Auditor, uow UnitOfWork, logger *slog.Logger) *Service {
	return &Service{store: store, auditor: auditor, uow: uow, logger: logger}
}

// Create persists a new patient and its creation audit record atomically.
func (s *Service) Create(ctx context.Context, p *Patient, actor audit.ActorContext) (*Patient, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate patient id: %w", err)
	}
	now := time.Now().UTC()
	p.ID = id.String()
	p.CreatedAt = now
	p.UpdatedAt = now

	err = s.uow.Run(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, p); err != nil {
			return fmt.Errorf("create patient: %w", err)
		}
		if _, err := s.auditor.RecordMutation(ctx, p.Subject(), audit.ActionCreate, nil, p.Snapshot(), actor, audit.Outcome{Success: true}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.recordFailedMutation(ctx, p.Subject(), audit.ActionCreate, actor, err)
		return nil, err
	}
	return p, nil
}

// Get loads a patient and records the access. A read without its audit
// record is not allowed: if the access record cannot be written, the read
// fails even though the patient was found.
func (s *Service) Get(ctx context.Context, id string, actor audit.ActorContext) (*Patient, error) {
	subject := audit.Subject{Type: SubjectType, ID: id}

	p, err := s.store.Get(ctx, id)
	if err != nil {
		outcome := audit.Outcome{Success: false, ErrorMessage: accessError(err)}
		if _, auditErr := s.auditor.RecordAccess(ctx, subject, actor, outcome); auditErr != nil {
			s.logger.ErrorContext(ctx, "failed-access audit record not written",
				"subject_id", id, "error", auditErr)
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "patient not found")
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if _, err := s.auditor.RecordAccess(ctx, subject, actor, audit.Outcome{Success: true}); err != nil {
		return nil, err
	}
	return p, nil
}

// Update applies new field values to an existing patient. The prior state is
// loaded inside the same transaction so the audit diff reflects exactly what
// the update replaced.
func (s *Service) Update(ctx context.Context, p *Patient, actor audit.ActorContext) (*Patient, error) {
	if p.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "patient id is required")
	}
	if err := validate(p); err != nil {
		return nil, err
	}

	subject := p.Subject()
	err := s.uow.Run(ctx, func(ctx context.Context) error {
		before, err := s.store.Get(ctx, p.ID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "patient not found")
			}
			return fmt.Errorf("load patient: %w", err)
		}

		p.CreatedAt = before.CreatedAt
		p.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(ctx, p); err != nil {
			return fmt.Errorf("update patient: %w", err)
		}
		if _, err := s.auditor.RecordMutation(ctx, subject, audit.ActionUpdate, before.Snapshot(), p.Snapshot(), actor, audit.Outcome{Success: true}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.recordFailedMutation(ctx, subject, audit.ActionUpdate, actor, err)
		return nil, err
	}
	return p, nil
}

// Delete removes a patient, capturing the final state in the audit record.
func (s *Service) Delete(ctx context.Context, id string, actor audit.ActorContext) error {
	subject := audit.Subject{Type: SubjectType, ID: id}
	err := s.uow.Run(ctx, func(ctx context.Context) error {
		before, err := s.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "patient not found")
			}
			return fmt.Errorf("load patient: %w", err)
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete patient: %w", err)
		}
		if _, err := s.auditor.RecordMutation(ctx, subject, audit.ActionDelete, before.Snapshot(), nil, actor, audit.Outcome{Success: true}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.recordFailedMutation(ctx, subject, audit.ActionDelete, actor, err)
		return err
	}
	return nil
}

// recordFailedMutation writes a failure record outside the rolled-back
// transaction. A not-found update is a failed attempt worth recording; a
// validation failure never reached the store and is not.
func (s *Service) recordFailedMutation(ctx context.Context, subject audit.Subject, action audit.Action, actor audit.ActorContext, cause error) {
	outcome := audit.Outcome{Success: false, ErrorMessage: accessError(cause)}
	if _, err := s.auditor.RecordMutation(ctx, subject, action, nil, nil, actor, outcome); err != nil {
		s.logger.ErrorContext(ctx, "failed-mutation audit record not written",
			"subject_id", subject.ID, "action", string(action), "error", err)
	}
}

// accessError keeps stored failure messages short and free of wrapped
// infrastructure detail where a code is available.
func accessError(err error) string {
	if app := pkgerrors.AsAppError(err); app != nil {
		return app.Message
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return "patient not found"
	}
	return err.Error()
}

func validate(p *Patient) error {
	switch {
	case p == nil:
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "patient is required")
	case p.MRN == "":
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "mrn is required")
	case p.FirstName == "" || p.LastName == "":
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "patient name is required")
	case !p.Status.Valid():
		return pkgerrors.New(pkgerrors.CodeInvalidInput, fmt.Sprintf("invalid status %q", p.Status))
	}
	return nil
}
