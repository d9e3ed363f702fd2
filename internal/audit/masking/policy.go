// Package masking classifies and redacts field values before they are
// persisted in audit records. Classification is by field name, deterministic,
// and total: unrecognized fields get full redaction, never pass-through.
package masking

import (
	"fmt"
	"strings"
)

// Category is the masking rule bucket a field falls into.
type Category int

const (
	// CategoryIdentifier covers direct identifiers (SSN, MRN, card and
	// account numbers): fixed-width mask with a visible trailing run.
	CategoryIdentifier Category = iota
	// CategoryContact covers email and phone: partial mask preserving a
	// recognizable suffix for reviewer disambiguation.
	CategoryContact
	// CategoryName covers person names: initial only.
	CategoryName
	// CategoryNarrative covers free-text clinical content: stored as a
	// change marker with length omitted to close the length side-channel.
	CategoryNarrative
	// CategoryStructural covers non-sensitive enums, flags, counts, and
	// dates: passed through unmasked.
	CategoryStructural
	// CategoryRestricted is the fail-closed default: full redaction.
	CategoryRestricted
)

const (
	redactedMarker = "<redacted>"
	modifiedMarker = "<modified>"
	maskRun        = "****"
	visibleSuffix  = 4
)

var identifierFields = map[string]bool{
	"ssn":                    true,
	"social_security_number": true,
	"mrn":                    true,
	"medical_record_number":  true,
	"insurance_id":           true,
	"insurance_number":       true,
	"member_id":              true,
	"card_number":            true,
	"account_number":         true,
	"national_id":            true,
	"drivers_license":        true,
}

var emailFields = map[string]bool{
	"email":           true,
	"email_address":   true,
	"contact_email":   true,
	"guarantor_email": true,
}

var phoneFields = map[string]bool{
	"phone":          true,
	"phone_number":   true,
	"mobile":         true,
	"mobile_number":  true,
	"home_phone":     true,
	"work_phone":     true,
	"fax":            true,
	"contact_phone":  true,
	"guardian_phone": true,
}

var nameFields = map[string]bool{
	"first_name":             true,
	"last_name":              true,
	"middle_name":            true,
	"full_name":              true,
	"display_name":           true,
	"preferred_name":         true,
	"maiden_name":            true,
	"guardian_name":          true,
	"emergency_contact_name": true,
}

var narrativeFields = map[string]bool{
	"note":               true,
	"notes":              true,
	"clinical_notes":     true,
	"narrative":          true,
	"comment":            true,
	"comments":           true,
	"description":        true,
	"diagnosis":          true,
	"assessment":         true,
	"treatment":          true,
	"treatment_plan":     true,
	"chief_complaint":    true,
	"presenting_problem": true,
	"medications":        true,
	"allergies":          true,
	"history":            true,
	"summary":            true,
	"reason":             true,
	"progress_note":      true,
}

var structuralFields = map[string]bool{
	"status":   true,
	"type":     true,
	"kind":     true,
	"role":     true,
	"action":   true,
	"active":   true,
	"enabled":  true,
	"archived": true,
	"count":    true,
	"total":    true,
	"version":  true,
	"timezone": true,
	"language": true,
	"city":     true,
	"state":    true,
}

// birth-related dates are direct identifiers, checked before the generic
// date suffixes below.
var birthDateFields = map[string]bool{
	"date_of_birth": true,
	"dob":           true,
	"birth_date":    true,
	"birthdate":     true,
}

var structuralSuffixes = []string{"_at", "_date", "_status", "_type", "_count"}

// Classify maps a field name to its masking category. Ambiguity resolves to
// CategoryRestricted; there is no pass-through default and no per-call
// override.
func Classify(field string) Category {
	f := normalize(field)
	switch {
	case birthDateFields[f]:
		return CategoryRestricted
	case identifierFields[f]:
		return CategoryIdentifier
	case emailFields[f], phoneFields[f]:
		return CategoryContact
	case nameFields[f]:
		return CategoryName
	case narrativeFields[f]:
		return CategoryNarrative
	case structuralFields[f]:
		return CategoryStructural
	}
	for _, suffix := range structuralSuffixes {
		if strings.HasSuffix(f, suffix) {
			return CategoryStructural
		}
	}
	return CategoryRestricted
}

// Mask applies the field's masking rule to a raw value and returns the value
// safe for persistence. Deterministic: identical input always yields
// identical output.
func Mask(field string, raw any) string {
	f := normalize(field)
	switch Classify(field) {
	case CategoryIdentifier:
		return maskIdentifier(stringify(raw))
	case CategoryContact:
		if emailFields[f] {
			return maskEmail(stringify(raw))
		}
		return maskPhone(stringify(raw))
	case CategoryName:
		return maskName(stringify(raw))
	case CategoryNarrative:
		return modifiedMarker
	case CategoryStructural:
		return stringify(raw)
	default:
		return redactedMarker
	}
}

// maskIdentifier keeps the trailing run visible behind a fixed-width mask, so
// output width never leaks input length.
func maskIdentifier(s string) string {
	if len(s) <= visibleSuffix {
		return maskRun
	}
	return maskRun + s[len(s)-visibleSuffix:]
}

// maskEmail keeps the first rune of the local part and the full domain.
func maskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return redactedMarker
	}
	local, domain := s[:at], s[at:]
	return string([]rune(local)[:1]) + "***" + domain
}

// maskPhone keeps the last four digits only.
func maskPhone(s string) string {
	var digits []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) < visibleSuffix {
		return redactedMarker
	}
	return "***-" + string(digits[len(digits)-visibleSuffix:])
}

func maskName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return redactedMarker
	}
	return string([]rune(s)[:1]) + "."
}

func normalize(field string) string {
	f := strings.ToLower(strings.TrimSpace(field))
	f = strings.ReplaceAll(f, "-", "_")
	f = strings.ReplaceAll(f, " ", "_")
	return f
}

func stringify(raw any) string {
	if raw == nil {
		return ""
	}
	return fmt.Sprint(raw)
}
