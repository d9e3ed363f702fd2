//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/internal/audit/integrity"
	auditpg "github.com/whatnewads/safeshift-sub018/internal/audit/store/postgres"
	"github.com/whatnewads/safeshift-sub018/internal/clinical/patient"
	"github.com/whatnewads/safeshift-sub018/internal/clinical/patient/store/postgres"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/sentinel"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/tx"
	"github.com/whatnewads/safeshift-sub018/pkg/testutil/containers"
)

// failingAuditor wraps a real recorder and fails every mutation record, to
// prove the business write cannot commit without its audit record.
type failingAuditor struct {
	patient.Auditor
}

func (failingAuditor) RecordMutation(context.Context, audit.Subject, audit.Action, audit.EntitySnapshot, audit.EntitySnapshot, audit.ActorContext, audit.Outcome) (string, error) {
	return "", errors.New("audit store unavailable")
}

type PatientServiceSuite struct {
	suite.Suite
	postgres   *containers.PostgresContainer
	auditStore *auditpg.Store
	svc        *patient.Service
	recorder   *audit.Recorder
	runner     *tx.Runner
	store      *postgres.Store
}

func TestPatientServiceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PatientServiceSuite))
}

func (s *PatientServiceSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())

	signer, err := integrity.NewSigner([]byte("patient-integration-secret"))
	s.Require().NoError(err)

	log := slog.New(slog.DiscardHandler)
	s.auditStore = auditpg.New(s.postgres.DB, signer)
	s.recorder = audit.NewRecorder(s.auditStore, signer, log)
	s.runner = tx.NewRunner(s.postgres.DB)
	s.store = postgres.New(s.postgres.DB)
	s.svc = patient.NewService(s.store, s.recorder, s.runner, log)
}

func (s *PatientServiceSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "patients", "audit_records"))
}

func testActor() audit.ActorContext {
	return audit.ActorContext{
		Actor:   audit.Actor{ID: "user-42", DisplayName: "Dr. Chen", Role: "clinician"},
		Session: audit.SessionContext{SourceIP: "10.1.2.3", SessionID: "sess-9"},
	}
}

func testPatient() *patient.Patient {
	return &patient.Patient{
		MRN:           "MRN-778899",
		FirstName:     "Maria",
		LastName:      "Santos",
		BirthDate:     time.Date(1984, 7, 2, 0, 0, 0, 0, time.UTC),
		Email:         "msantos@example.org",
		Phone:         "555-123-4567",
		ClinicalNotes: "seasonal allergies",
		Status:        patient.StatusActive,
	}
}

func (s *PatientServiceSuite) TestCreateCommitsPatientAndAuditTogether() {
	ctx := context.Background()

	created, err := s.svc.Create(ctx, testPatient(), testActor())
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, created.ID)
	s.Require().NoError(err)
	s.Equal("MRN-778899", got.MRN)

	total, err := s.auditStore.Count(ctx, audit.Filter{
		SubjectType: patient.SubjectType,
		SubjectID:   created.ID,
	})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
}

func (s *PatientServiceSuite) TestAuditFailureRollsBackPatientWrite() {
	ctx := context.Background()
	svc := patient.NewService(s.store, failingAuditor{}, s.runner, slog.New(slog.DiscardHandler))

	created, err := svc.Create(ctx, testPatient(), testActor())
	s.Require().Error(err)
	s.Nil(created)

	// No patient row survived the rollback.
	var count int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patients`).Scan(&count))
	s.Equal(0, count)
}

func (s *PatientServiceSuite) TestUpdateDiffAndRollbackOnMissing() {
	ctx := context.Background()

	created, err := s.svc.Create(ctx, testPatient(), testActor())
	s.Require().NoError(err)

	changed := *created
	changed.Phone = "555-987-6543"
	_, err = s.svc.Update(ctx, &changed, testActor())
	s.Require().NoError(err)

	records, err := s.auditStore.Search(ctx, audit.Filter{
		SubjectID: created.ID,
		Action:    audit.ActionUpdate,
	}, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal([]string{"phone"}, records[0].ChangedFields)
	s.Equal("***-4567", records[0].OldValues["phone"])
	s.Equal("***-6543", records[0].NewValues["phone"])
}

func (s *PatientServiceSuite) TestDeleteRemovesRowAndLeavesTrail() {
	ctx := context.Background()

	created, err := s.svc.Create(ctx, testPatient(), testActor())
	s.Require().NoError(err)
	s.Require().NoError(s.svc.Delete(ctx, created.ID, testActor()))

	_, err = s.store.Get(ctx, created.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	counts, err := s.auditStore.CountByAction(ctx, audit.Filter{SubjectID: created.ID})
	s.Require().NoError(err)
	s.Equal(int64(1), counts[audit.ActionCreate])
	s.Equal(int64(1), counts[audit.ActionDelete])
}
