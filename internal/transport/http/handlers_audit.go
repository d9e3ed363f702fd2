package httptransport

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/internal/audit/query"
	"github.com/whatnewads/safeshift-sub018/internal/platform/middleware"
	pkgerrors "github.com/whatnewads/safeshift-sub018/pkg/errors"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/httputil"
)

// Handler serves the compliance review endpoints.
type Handler struct {
	query  *query.Service
	logger *slog.Logger
}

func NewHandler(querySvc *query.Service, logger *slog.Logger) *Handler {
	return &Handler{query: querySvc, logger: logger}
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseSearchParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.query.Search(r.Context(), filter, page)
	if err != nil {
		h.logError(r, "audit search failed", err)
		httputil.WriteError(w, err)
		return
	}

	resp := searchResponse{
		Records:    make([]recordResponse, 0, len(result.Records)),
		TotalCount: result.TotalCount,
		Tampered:   result.Tampered,
	}
	for _, record := range result.Records {
		resp.Records = append(resp.Records, toRecordResponse(record))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := h.query.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeInternal {
			h.logError(r, "audit record load failed", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	filter, _, err := parseSearchParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	counts, err := h.query.CountByAction(r.Context(), filter)
	if err != nil {
		h.logError(r, "audit summary failed", err)
		httputil.WriteError(w, err)
		return
	}

	resp := summaryResponse{Counts: make(map[string]int64, len(counts))}
	for action, count := range counts {
		resp.Counts[string(action)] = count
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) logError(r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg,
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err,
	)
}

func parseSearchParams(r *http.Request) (audit.Filter, query.Page, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		ActorID:         q.Get("actor_id"),
		SubjectType:     q.Get("subject_type"),
		SubjectID:       q.Get("subject_id"),
		LinkedSubjectID: q.Get("linked_subject_id"),
		Action:          audit.Action(q.Get("action")),
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, query.Page{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "from must be RFC3339")
		}
		filter.OccurredFrom = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, query.Page{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "to must be RFC3339")
		}
		filter.OccurredTo = t
	}
	if raw := q.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			return audit.Filter{}, query.Page{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "success must be a boolean")
		}
		filter.Success = &success
	}

	var page query.Page
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return audit.Filter{}, query.Page{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "page must be an integer")
		}
		page.Number = n
	}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return audit.Filter{}, query.Page{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "page_size must be an integer")
		}
		page.Size = n
	}
	return filter, page, nil
}

type searchResponse struct {
	Records    []recordResponse `json:"records"`
	TotalCount int64            `json:"total_count"`
	Tampered   []string         `json:"tampered,omitempty"`
}

type summaryResponse struct {
	Counts map[string]int64 `json:"counts"`
}

type recordResponse struct {
	ID      string          `json:"id"`
	Actor   actorResponse   `json:"actor"`
	Subject subjectResponse `json:"subject"`
	Action  string          `json:"action"`
	// OccurredAt keeps sub-second precision for forensic ordering.
	OccurredAt         string            `json:"occurred_at"`
	Session            sessionResponse   `json:"session"`
	ChangedFields      []string          `json:"changed_fields"`
	OldValues          map[string]string `json:"old_values,omitempty"`
	NewValues          map[string]string `json:"new_values,omitempty"`
	Success            bool              `json:"success"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	IntegritySignature string            `json:"integrity_signature"`
}

type actorResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type subjectResponse struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	LinkedID string `json:"linked_id,omitempty"`
}

type sessionResponse struct {
	SourceIP  string `json:"source_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	// UserAgentSummary is a human-readable browser/OS digest so reviewers
	// don't have to read raw UA strings.
	UserAgentSummary string `json:"user_agent_summary,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
}

func toRecordResponse(record audit.Record) recordResponse {
	return recordResponse{
		ID: record.ID,
		Actor: actorResponse{
			ID:          record.Actor.ID,
			DisplayName: record.Actor.DisplayName,
			Role:        record.Actor.Role,
		},
		Subject: subjectResponse{
			Type:     record.Subject.Type,
			ID:       record.Subject.ID,
			LinkedID: record.Subject.LinkedID,
		},
		Action:     string(record.Action),
		OccurredAt: record.OccurredAt.UTC().Format(time.RFC3339Nano),
		Session: sessionResponse{
			SourceIP:         record.Session.SourceIP,
			UserAgent:        record.Session.UserAgent,
			UserAgentSummary: summarizeUserAgent(record.Session.UserAgent),
			SessionID:        record.Session.SessionID,
		},
		ChangedFields:      record.ChangedFields,
		OldValues:          record.OldValues,
		NewValues:          record.NewValues,
		Success:            record.Outcome.Success,
		ErrorMessage:       record.Outcome.ErrorMessage,
		IntegritySignature: record.IntegritySignature,
	}
}

func summarizeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return ""
	}
	if os := ua.OS(); os != "" {
		return fmt.Sprintf("%s %s (%s)", name, version, os)
	}
	return fmt.Sprintf("%s %s", name, version)
}
