package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/internal/audit/integrity"
	"github.com/whatnewads/safeshift-sub018/internal/audit/query"
	auditmemory "github.com/whatnewads/safeshift-sub018/internal/audit/store/memory"
	"github.com/whatnewads/safeshift-sub018/internal/clinical/patient"
	patientmemory "github.com/whatnewads/safeshift-sub018/internal/clinical/patient/store/memory"
	"github.com/whatnewads/safeshift-sub018/internal/jwtauth"
)

type passthroughUOW struct{}

func (passthroughUOW) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type testEnv struct {
	server     *httptest.Server
	tokens     *jwtauth.Service
	auditStore *auditmemory.Store
	signer     *integrity.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	signer, err := integrity.NewSigner([]byte("transport-test-secret"))
	require.NoError(t, err)

	auditStore := auditmemory.New(signer)
	querySvc := query.NewService(auditStore, signer, log)

	recorder := audit.NewRecorder(auditStore, signer, log)
	patientSvc := patient.NewService(patientmemory.New(), recorder, passthroughUOW{}, log)

	tokens := jwtauth.NewService("transport-test-jwt-key", "safeshift")
	router := NewRouter(NewHandler(querySvc, log), NewPatientHandler(patientSvc, log), tokens, log)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, tokens: tokens, auditStore: auditStore, signer: signer}
}

func (e *testEnv) token(t *testing.T, role string) string {
	t.Helper()
	token, err := e.tokens.GenerateToken("user-42", "Dr. Chen", role, "sess-9", time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) seed(t *testing.T, id string, action audit.Action, occurred time.Time) {
	t.Helper()
	record := audit.Record{
		ID:         id,
		Actor:      audit.Actor{ID: "user-1", DisplayName: "Test User", Role: "clinician"},
		Subject:    audit.Subject{Type: "patient", ID: "patient-1"},
		Action:     action,
		OccurredAt: occurred,
		Session: audit.SessionContext{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Outcome:   audit.Outcome{Success: true},
		CreatedAt: occurred,
	}
	sig, err := e.signer.Sign(record)
	require.NoError(t, err)
	record.IntegritySignature = sig
	require.NoError(t, e.auditStore.Append(context.Background(), record))
}

func TestAuditRoutesRequireReviewer(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no token", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/audit/records", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong role", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/audit/records", env.token(t, jwtauth.RoleClinician))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/audit/records", "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	env.seed(t, "rec-0", audit.ActionCreate, base)
	env.seed(t, "rec-1", audit.ActionRead, base.Add(time.Minute))
	reviewer := env.token(t, jwtauth.RoleReviewer)

	t.Run("returns records newest first", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/audit/records", reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body searchResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, int64(2), body.TotalCount)
		require.Len(t, body.Records, 2)
		assert.Equal(t, "rec-1", body.Records[0].ID)
		assert.Empty(t, body.Tampered)
	})

	t.Run("user agent is summarized", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/audit/records/rec-1", reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body recordResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body.Session.UserAgentSummary, "Chrome")
	})

	t.Run("filter by action", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/audit/records?action=read", reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body searchResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Records, 1)
		assert.Equal(t, "read", body.Records[0].Action)
	})

	t.Run("bad timestamp rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/audit/records?from=yesterday", reviewer)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodGet,
			"/audit/records?from=2026-08-02T00:00:00Z&to=2026-08-01T00:00:00Z", reviewer)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "rec-0", audit.ActionUpdate, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	reviewer := env.token(t, jwtauth.RoleReviewer)

	t.Run("not found", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/audit/records/rec-404", reviewer)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("tampered record yields conflict", func(t *testing.T) {
		require.True(t, env.auditStore.Tamper("rec-0", func(r *audit.Record) {
			r.Actor.ID = "rewritten"
		}))
		resp := env.do(t, http.MethodGet, "/audit/records/rec-0", reviewer)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestSummaryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	env.seed(t, "rec-0", audit.ActionCreate, base)
	env.seed(t, "rec-1", audit.ActionRead, base.Add(time.Minute))
	env.seed(t, "rec-2", audit.ActionRead, base.Add(2*time.Minute))

	resp := env.do(t, http.MethodGet, "/audit/summary", env.token(t, jwtauth.RoleReviewer))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body summaryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]int64{"create": 1, "read": 2}, body.Counts)
}
