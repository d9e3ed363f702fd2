package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded application errors.
//
// These represent factual states about stored records, not validation
// failures:
// - ErrNotFound: record does not exist in the store
// - ErrIntegrityViolation: record exists but failed signature re-verification;
//   must never be collapsed into ErrNotFound or silently repaired
// - ErrAppendOnly: an update or delete was attempted against the audit log
// - ErrUnavailable: backing service temporarily unreachable
//
// For validation errors (bad filters, malformed input), use pkg/errors.
var (
	ErrNotFound           = errors.New("not found")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrAppendOnly         = errors.New("append-only store")
	ErrUnavailable        = errors.New("unavailable")
)
