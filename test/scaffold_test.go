package test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/internal/audit/integrity"
	"github.com/whatnewads/safeshift-sub018/internal/audit/query"
	auditmemory "github.com/whatnewads/safeshift-sub018/internal/audit/store/memory"
	"github.com/whatnewads/safeshift-sub018/internal/clinical/patient"
	patientmemory "github.com/whatnewads/safeshift-sub018/internal/clinical/patient/store/memory"
	"github.com/whatnewads/safeshift-sub018/internal/jwtauth"
	httptransport "github.com/whatnewads/safeshift-sub018/internal/transport/http"
	"github.com/whatnewads/safeshift-sub018/pkg/testutil"
)

type passthroughUOW struct{}

func (passthroughUOW) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestRouterScaffold(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	signer, err := integrity.NewSigner([]byte("scaffold-test-secret"))
	if err != nil {
		t.Fatalf("build signer: %v", err)
	}
	auditStore := auditmemory.New(signer)
	recorder := audit.NewRecorder(auditStore, signer, log)
	querySvc := query.NewService(auditStore, signer, log)
	patientSvc := patient.NewService(patientmemory.New(), recorder, passthroughUOW{}, log)
	tokens := jwtauth.NewService("scaffold-test-key", "safeshift")

	router := httptransport.NewRouter(
		httptransport.NewHandler(querySvc, log),
		httptransport.NewPatientHandler(patientSvc, log),
		tokens, log,
	)

	testutil.Given(t, "the HTTP router", func(t *testing.T) {
		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it should respond no content", func(t *testing.T) {
				if rec.Code != http.StatusNoContent {
					t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
				}
			})
		})

		testutil.When(t, "calling GET /metrics", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it should expose prometheus metrics openly", func(t *testing.T) {
				if rec.Code != http.StatusOK {
					t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
				}
			})
		})

		testutil.When(t, "calling GET /audit/records without a token", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/audit/records", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it should require authentication", func(t *testing.T) {
				if rec.Code != http.StatusUnauthorized {
					t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
				}
			})
		})
	})
}
