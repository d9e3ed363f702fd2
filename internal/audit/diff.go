package audit

import (
	"reflect"
	"sort"
	"strings"

	"github.com/whatnewads/safeshift-sub018/internal/audit/masking"
	pkgerrors "github.com/whatnewads/safeshift-sub018/pkg/errors"
)

// BuildChange compares before/after snapshots for the given action and
// produces the minimal changed-field set with masked value maps.
//
// Construction failures are fatal to the caller's transaction: a business
// operation must not commit without a valid change descriptor.
func BuildChange(action Action, before, after EntitySnapshot) (ChangeDescriptor, error) {
	if !action.Valid() {
		return ChangeDescriptor{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "diff construction: unknown action "+string(action))
	}

	desc := ChangeDescriptor{Action: action}

	switch action {
	case ActionRead:
		// No diff for reads; the record exists purely as PHI-access evidence.
		return desc, nil

	case ActionCreate:
		if after == nil {
			return ChangeDescriptor{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "diff construction: create requires an after snapshot")
		}
		desc.ChangedFields = canonicalFields(after)
		desc.NewValues = maskSnapshot(after, desc.ChangedFields)
		return desc, nil

	case ActionDelete:
		if before == nil {
			return ChangeDescriptor{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "diff construction: delete requires a before snapshot")
		}
		// Full pre-deletion state, masked, so the record preserves what was
		// removed at masked fidelity.
		desc.ChangedFields = canonicalFields(before)
		desc.OldValues = maskSnapshot(before, desc.ChangedFields)
		return desc, nil

	default: // ActionUpdate
		if before == nil || after == nil {
			return ChangeDescriptor{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "diff construction: update requires both snapshots")
		}
		return buildUpdate(before, after), nil
	}
}

func buildUpdate(before, after EntitySnapshot) ChangeDescriptor {
	desc := ChangeDescriptor{
		Action:    ActionUpdate,
		OldValues: map[string]string{},
		NewValues: map[string]string{},
	}

	for _, field := range canonicalFieldUnion(before, after) {
		oldVal, inBefore := before[field]
		newVal, inAfter := after[field]
		if inBefore && inAfter && reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		desc.ChangedFields = append(desc.ChangedFields, field)
		if inBefore {
			desc.OldValues[field] = masking.Mask(field, oldVal)
		}
		if inAfter {
			desc.NewValues[field] = masking.Mask(field, newVal)
		}
	}

	// An update with no effective change still yields a persistable
	// descriptor; suppressing it would hide evidence the operation ran.
	if len(desc.ChangedFields) == 0 {
		desc.OldValues = nil
		desc.NewValues = nil
	}
	return desc
}

func maskSnapshot(snap EntitySnapshot, fields []string) map[string]string {
	masked := make(map[string]string, len(fields))
	for _, field := range fields {
		masked[field] = masking.Mask(field, snap[field])
	}
	return masked
}

// canonicalFields returns snapshot field names in canonical order:
// case-insensitive lexicographic, so records are comparable regardless of map
// iteration or insertion order.
func canonicalFields(snap EntitySnapshot) []string {
	fields := make([]string, 0, len(snap))
	for field := range snap {
		fields = append(fields, field)
	}
	sortCanonical(fields)
	return fields
}

func canonicalFieldUnion(before, after EntitySnapshot) []string {
	seen := make(map[string]bool, len(before)+len(after))
	var fields []string
	for field := range before {
		if !seen[field] {
			seen[field] = true
			fields = append(fields, field)
		}
	}
	for field := range after {
		if !seen[field] {
			seen[field] = true
			fields = append(fields, field)
		}
	}
	sortCanonical(fields)
	return fields
}

func sortCanonical(fields []string) {
	sort.Slice(fields, func(i, j int) bool {
		li, lj := strings.ToLower(fields[i]), strings.ToLower(fields[j])
		if li != lj {
			return li < lj
		}
		return fields[i] < fields[j]
	})
}
