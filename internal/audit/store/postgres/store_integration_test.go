//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/internal/audit/integrity"
	"github.com/whatnewads/safeshift-sub018/internal/audit/store/postgres"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/sentinel"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/tx"
	"github.com/whatnewads/safeshift-sub018/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	signer   *integrity.Signer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())

	signer, err := integrity.NewSigner([]byte("postgres-integration-secret"))
	s.Require().NoError(err)
	s.signer = signer
	s.store = postgres.New(s.postgres.DB, signer)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_records"))
}

func (s *PostgresStoreSuite) signedRecord(actorID string, action audit.Action, occurred time.Time) audit.Record {
	id, err := uuid.NewV7()
	s.Require().NoError(err)
	record := audit.Record{
		ID:         id.String(),
		Actor:      audit.Actor{ID: actorID, DisplayName: "Test User", Role: "clinician"},
		Subject:    audit.Subject{Type: "patient", ID: "patient-1"},
		Action:     action,
		OccurredAt: occurred.UTC().Truncate(time.Microsecond),
		Session: audit.SessionContext{
			SourceIP:  "10.1.2.3",
			UserAgent: "Mozilla/5.0",
			SessionID: "sess-9",
		},
		ChangedFields: []string{"phone"},
		OldValues:     map[string]string{"phone": "***-4567"},
		NewValues:     map[string]string{"phone": "***-6543"},
		Outcome:       audit.Outcome{Success: true},
		CreatedAt:     occurred.UTC().Truncate(time.Microsecond),
	}
	if action == audit.ActionRead {
		record.ChangedFields = nil
		record.OldValues = nil
		record.NewValues = nil
	}
	sig, err := s.signer.Sign(record)
	s.Require().NoError(err)
	record.IntegritySignature = sig
	return record
}

func (s *PostgresStoreSuite) TestAppendAndGetRoundTrip() {
	ctx := context.Background()
	record := s.signedRecord("user-1", audit.ActionUpdate, time.Now())
	s.Require().NoError(s.store.Append(ctx, record))

	got, err := s.store.Get(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(record.ID, got.ID)
	s.Equal(record.Actor, got.Actor)
	s.Equal(record.Subject, got.Subject)
	s.Equal(record.ChangedFields, got.ChangedFields)
	s.Equal(record.OldValues, got.OldValues)
	s.Equal(record.NewValues, got.NewValues)
	s.Equal(record.IntegritySignature, got.IntegritySignature)
	s.True(record.OccurredAt.Equal(got.OccurredAt))
}

func (s *PostgresStoreSuite) TestAppendOnlyEnforced() {
	ctx := context.Background()
	record := s.signedRecord("user-1", audit.ActionCreate, time.Now())
	s.Require().NoError(s.store.Append(ctx, record))

	// Same id again: the primary key refuses the overwrite.
	err := s.store.Append(ctx, record)
	s.Require().Error(err)

	got, err := s.store.Get(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal("user-1", got.Actor.ID)
}

func (s *PostgresStoreSuite) TestOutOfBandTamperingDetected() {
	ctx := context.Background()
	record := s.signedRecord("user-1", audit.ActionUpdate, time.Now())
	s.Require().NoError(s.store.Append(ctx, record))

	// Tamper beneath the store, like a direct DB edit would.
	_, err := s.postgres.DB.ExecContext(ctx,
		`UPDATE audit_records SET actor_id = 'rewritten' WHERE id = $1`, record.ID)
	s.Require().NoError(err)

	_, err = s.store.Get(ctx, record.ID)
	s.Require().ErrorIs(err, sentinel.ErrIntegrityViolation)
	s.Require().NotErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestAmbientTransactionRollback() {
	ctx := context.Background()
	runner := tx.NewRunner(s.postgres.DB)
	record := s.signedRecord("user-1", audit.ActionCreate, time.Now())

	businessFailure := errors.New("business operation failed")
	err := runner.Run(ctx, func(ctx context.Context) error {
		if err := s.store.Append(ctx, record); err != nil {
			return err
		}
		return businessFailure
	})
	s.Require().ErrorIs(err, businessFailure)

	// The append joined the rolled-back transaction, so no record exists.
	_, err = s.store.Get(ctx, record.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestAmbientTransactionCommit() {
	ctx := context.Background()
	runner := tx.NewRunner(s.postgres.DB)
	record := s.signedRecord("user-1", audit.ActionCreate, time.Now())

	err := runner.Run(ctx, func(ctx context.Context) error {
		return s.store.Append(ctx, record)
	})
	s.Require().NoError(err)

	_, err = s.store.Get(ctx, record.ID)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestSearchCountParity() {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	var records []audit.Record
	for i := 0; i < 9; i++ {
		actor := "user-a"
		if i%3 == 0 {
			actor = "user-b"
		}
		action := audit.ActionRead
		if i%2 == 0 {
			action = audit.ActionUpdate
		}
		record := s.signedRecord(actor, action, base.Add(time.Duration(i)*time.Second))
		s.Require().NoError(s.store.Append(ctx, record))
		records = append(records, record)
	}

	filters := []audit.Filter{
		{},
		{ActorID: "user-a"},
		{Action: audit.ActionUpdate},
		{ActorID: "user-a", Action: audit.ActionRead},
		{OccurredFrom: base.Add(2 * time.Second), OccurredTo: base.Add(6 * time.Second)},
	}
	for _, filter := range filters {
		// SQL predicate and the in-process predicate must agree.
		var expected int64
		for _, record := range records {
			if filter.Matches(record) {
				expected++
			}
		}

		total, err := s.store.Count(ctx, filter)
		s.Require().NoError(err)
		s.Equal(expected, total, fmt.Sprintf("filter %+v", filter))

		page, err := s.store.Search(ctx, filter, 100, 0)
		s.Require().NoError(err)
		s.Len(page, int(expected), fmt.Sprintf("filter %+v", filter))

		counts, err := s.store.CountByAction(ctx, filter)
		s.Require().NoError(err)
		var sum int64
		for _, n := range counts {
			sum += n
		}
		s.Equal(expected, sum)
	}
}

func (s *PostgresStoreSuite) TestSearchOrderAndPagination() {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record := s.signedRecord("user-1", audit.ActionRead, base.Add(time.Duration(i)*time.Second))
		s.Require().NoError(s.store.Append(ctx, record))
	}

	first, err := s.store.Search(ctx, audit.Filter{}, 3, 0)
	s.Require().NoError(err)
	s.Require().Len(first, 3)
	second, err := s.store.Search(ctx, audit.Filter{}, 3, 3)
	s.Require().NoError(err)
	s.Require().Len(second, 2)

	all := append(first, second...)
	for i := 1; i < len(all); i++ {
		s.False(all[i].OccurredAt.After(all[i-1].OccurredAt), "results must be newest first")
	}
}

func (s *PostgresStoreSuite) TestListAfterCursor() {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		record := s.signedRecord("user-1", audit.ActionCreate, base.Add(time.Duration(i)*time.Second))
		s.Require().NoError(s.store.Append(ctx, record))
		ids = append(ids, record.ID)
	}

	first, err := s.store.ListAfter(ctx, "", 2)
	s.Require().NoError(err)
	s.Require().Len(first, 2)
	s.Equal(ids[0], first[0].ID)
	s.Equal(ids[1], first[1].ID)

	rest, err := s.store.ListAfter(ctx, first[1].ID, 10)
	s.Require().NoError(err)
	s.Require().Len(rest, 2)
	s.Equal(ids[2], rest[0].ID)
	s.Equal(ids[3], rest[1].ID)
}
