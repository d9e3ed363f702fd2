package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/whatnewads/safeshift-sub018/internal/clinical/patient"
	"github.com/whatnewads/safeshift-sub018/internal/platform/middleware"
	pkgerrors "github.com/whatnewads/safeshift-sub018/pkg/errors"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/httputil"
)

// PatientHandler serves the clinical patient endpoints. Every operation
// passes the authenticated actor through to the service, which records it.
type PatientHandler struct {
	svc    *patient.Service
	logger *slog.Logger
}

func NewPatientHandler(svc *patient.Service, logger *slog.Logger) *PatientHandler {
	return &PatientHandler{svc: svc, logger: logger}
}

type patientRequest struct {
	MRN           string `json:"mrn"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	BirthDate     string `json:"birth_date"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	ClinicalNotes string `json:"clinical_notes"`
	Status        string `json:"status"`
}

type patientResponse struct {
	ID            string `json:"id"`
	MRN           string `json:"mrn"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	BirthDate     string `json:"birth_date"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	ClinicalNotes string `json:"clinical_notes"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func (h *PatientHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, err := decodePatient(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.svc.Create(r.Context(), p, middleware.GetActorContext(r.Context()))
	if err != nil {
		h.logFailure(r, "patient create failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toPatientResponse(created))
}

func (h *PatientHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), middleware.GetActorContext(r.Context()))
	if err != nil {
		h.logFailure(r, "patient read failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPatientResponse(p))
}

func (h *PatientHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	p, err := decodePatient(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p.ID = chi.URLParam(r, "id")

	updated, err := h.svc.Update(r.Context(), p, middleware.GetActorContext(r.Context()))
	if err != nil {
		h.logFailure(r, "patient update failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPatientResponse(updated))
}

func (h *PatientHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"), middleware.GetActorContext(r.Context()))
	if err != nil {
		h.logFailure(r, "patient delete failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PatientHandler) logFailure(r *http.Request, msg string, err error) {
	if pkgerrors.CodeOf(err) != pkgerrors.CodeInternal {
		return
	}
	h.logger.ErrorContext(r.Context(), msg,
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err,
	)
}

func decodePatient(r *http.Request) (*patient.Patient, error) {
	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "malformed request body")
	}

	var birthDate time.Time
	if req.BirthDate != "" {
		t, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "birth_date must be YYYY-MM-DD")
		}
		birthDate = t
	}

	return &patient.Patient{
		MRN:           req.MRN,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		BirthDate:     birthDate,
		Email:         req.Email,
		Phone:         req.Phone,
		ClinicalNotes: req.ClinicalNotes,
		Status:        patient.Status(req.Status),
	}, nil
}

func toPatientResponse(p *patient.Patient) patientResponse {
	return patientResponse{
		ID:            p.ID,
		MRN:           p.MRN,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		BirthDate:     p.BirthDate.UTC().Format("2006-01-02"),
		Email:         p.Email,
		Phone:         p.Phone,
		ClinicalNotes: p.ClinicalNotes,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
