// Package patient manages clinical patient demographics. Every mutation is
// recorded in the audit trail within the same database transaction, so a
// record change without its audit entry cannot exist.
package patient

import (
	"time"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
)

// SubjectType is the audit subject type for patient records.
const SubjectType = "patient"

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeceased Status = "deceased"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDeceased:
		return true
	}
	return false
}

// Patient is a clinical demographics record. Field values flow to the audit
// trail only through snapshots, where the masking policy renders them.
type Patient struct {
	ID            string
	MRN           string
	FirstName     string
	LastName      string
	BirthDate     time.Time
	Email         string
	Phone         string
	ClinicalNotes string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Snapshot renders the patient as an audit entity snapshot. Keys here are
// what the masking policy classifies, so they use the canonical field names.
func (p *Patient) Snapshot() audit.EntitySnapshot {
	if p == nil {
		return nil
	}
	return audit.EntitySnapshot{
		"mrn":            p.MRN,
		"first_name":     p.FirstName,
		"last_name":      p.LastName,
		"birth_date":     p.BirthDate.UTC().Format("2006-01-02"),
		"email":          p.Email,
		"phone":          p.Phone,
		"clinical_notes": p.ClinicalNotes,
		"status":         string(p.Status),
	}
}

// Subject identifies this patient for audit records.
func (p *Patient) Subject() audit.Subject {
	return audit.Subject{Type: SubjectType, ID: p.ID}
}
