// Package query is the compliance review surface over persisted audit
// records: filtered search with pagination, point lookups, and per-action
// summaries. It is read-only and independent of the write path.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/internal/audit/metrics"
	pkgerrors "github.com/whatnewads/safeshift-sub018/pkg/errors"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/sentinel"
)

const (
	defaultPageSize    = 50
	defaultMaxPageSize = 500

	summaryCacheTTL = 30 * time.Second
)

// Page selects one page of results. Number is 1-based; zero values take the
// defaults.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalized(maxSize int) (Page, error) {
	if p.Number < 0 {
		return Page{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "page number must be positive")
	}
	if p.Size < 0 {
		return Page{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "page size must be positive")
	}
	if p.Size > maxSize {
		return Page{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "page size exceeds maximum of "+strconv.Itoa(maxSize))
	}
	if p.Number == 0 {
		p.Number = 1
	}
	if p.Size == 0 {
		p.Size = defaultPageSize
	}
	return p, nil
}

// Result is one page of records plus the size of the whole filtered set.
// Tampered lists ids of returned records that failed signature
// re-verification; they are surfaced, never dropped or repaired.
type Result struct {
	Records    []audit.Record
	TotalCount int64
	Tampered   []string
}

// Service reads through the audit store. cache may be nil (no summary
// caching); metrics may be nil.
type Service struct {
	store       audit.Store
	signer      audit.Signer
	cache       *redis.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	maxPageSize int
}

// Option configures the Service.
type Option func(*Service)

// WithSummaryCache enables redis caching of per-action summaries.
func WithSummaryCache(client *redis.Client) Option {
	return func(s *Service) {
		s.cache = client
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMaxPageSize overrides the page size cap. Non-positive values keep the
// default.
func WithMaxPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPageSize = n
		}
	}
}

func NewService(store audit.Store, signer audit.Signer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		signer:      signer,
		logger:      logger,
		tracer:      otel.Tracer("safeshift/audit/query"),
		maxPageSize: defaultMaxPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns one page of records matching the filter plus the total
// filtered count. The page and count queries run concurrently but are built
// from the same structured predicate. Every returned record is re-verified;
// failures land in Result.Tampered.
func (s *Service) Search(ctx context.Context, filter audit.Filter, page Page) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "audit.query.Search")
	defer span.End()

	if err := filter.Validate(); err != nil {
		return Result{}, err
	}
	page, err := page.normalized(s.maxPageSize)
	if err != nil {
		return Result{}, err
	}
	offset := (page.Number - 1) * page.Size

	var (
		records []audit.Record
		total   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.store.Search(gctx, filter, page.Size, offset)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.Count(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("search audit records: %w", err)
	}

	result := Result{Records: records, TotalCount: total}
	for _, record := range records {
		if s.signer.Verify(record) {
			continue
		}
		result.Tampered = append(result.Tampered, record.ID)
		if s.metrics != nil {
			s.metrics.IncIntegrityViolations()
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "audit record failed integrity verification",
				"record_id", record.ID,
				"subject_type", record.Subject.Type,
			)
		}
	}
	span.SetAttributes(attribute.Int("audit.result_count", len(records)))
	return result, nil
}

// Get loads a single record, translating store sentinels into coded errors.
// An integrity violation is distinct from not-found and from any query error.
func (s *Service) Get(ctx context.Context, id string) (audit.Record, error) {
	ctx, span := s.tracer.Start(ctx, "audit.query.Get")
	defer span.End()

	if id == "" {
		return audit.Record{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "record id is required")
	}
	record, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return audit.Record{}, pkgerrors.Wrap(err, pkgerrors.CodeNotFound, "audit record not found")
	case errors.Is(err, sentinel.ErrIntegrityViolation):
		if s.metrics != nil {
			s.metrics.IncIntegrityViolations()
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "audit record failed integrity verification", "record_id", id)
		}
		return audit.Record{}, pkgerrors.Wrap(err, pkgerrors.CodeIntegrity, "audit record failed integrity verification")
	case err != nil:
		return audit.Record{}, fmt.Errorf("load audit record: %w", err)
	}
	return record, nil
}

// CountByAction aggregates the filtered set per action through the same
// predicate path as Search. Results are cached briefly when a cache is
// configured; cache failures degrade to the store, never to an error.
func (s *Service) CountByAction(ctx context.Context, filter audit.Filter) (map[audit.Action]int64, error) {
	ctx, span := s.tracer.Start(ctx, "audit.query.CountByAction")
	defer span.End()

	if err := filter.Validate(); err != nil {
		return nil, err
	}

	key := summaryCacheKey(filter)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var counts map[audit.Action]int64
			if err := json.Unmarshal(cached, &counts); err == nil {
				return counts, nil
			}
		}
	}

	counts, err := s.store.CountByAction(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count audit records by action: %w", err)
	}

	if s.cache != nil {
		if payload, err := json.Marshal(counts); err == nil {
			if err := s.cache.Set(ctx, key, payload, summaryCacheTTL).Err(); err != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "summary cache write failed", "error", err)
			}
		}
	}
	return counts, nil
}

func summaryCacheKey(filter audit.Filter) string {
	success := ""
	if filter.Success != nil {
		success = strconv.FormatBool(*filter.Success)
	}
	canonical := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d|%s",
		filter.ActorID, filter.SubjectType, filter.SubjectID, filter.LinkedSubjectID,
		filter.Action, filter.OccurredFrom.UnixNano(), filter.OccurredTo.UnixNano(), success,
	)
	sum := sha256.Sum256([]byte(canonical))
	return "audit:summary:" + hex.EncodeToString(sum[:8])
}
