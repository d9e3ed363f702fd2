package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/whatnewads/safeshift-sub018/pkg/errors"
)

func TestBuildChangeUpdate(t *testing.T) {
	t.Run("contact and narrative update", func(t *testing.T) {
		before := EntitySnapshot{
			"first_name": "Maria",
			"phone":      "555-123-4567",
			"diagnosis":  "seasonal allergies",
			"status":     "active",
		}
		after := EntitySnapshot{
			"first_name": "Maria",
			"phone":      "555-987-6543",
			"diagnosis":  "seasonal allergies, mild asthma",
			"status":     "active",
		}

		desc, err := BuildChange(ActionUpdate, before, after)
		require.NoError(t, err)

		assert.Equal(t, []string{"diagnosis", "phone"}, desc.ChangedFields)
		assert.Equal(t, map[string]string{
			"diagnosis": "<modified>",
			"phone":     "***-4567",
		}, desc.OldValues)
		assert.Equal(t, map[string]string{
			"diagnosis": "<modified>",
			"phone":     "***-6543",
		}, desc.NewValues)
	})

	t.Run("field added and removed", func(t *testing.T) {
		before := EntitySnapshot{"email": "jdoe@example.org", "status": "active"}
		after := EntitySnapshot{"status": "active", "mobile": "555-111-2222"}

		desc, err := BuildChange(ActionUpdate, before, after)
		require.NoError(t, err)

		assert.Equal(t, []string{"email", "mobile"}, desc.ChangedFields)
		assert.Equal(t, map[string]string{"email": "j***@example.org"}, desc.OldValues)
		assert.Equal(t, map[string]string{"mobile": "***-2222"}, desc.NewValues)
	})

	t.Run("no effective change still yields a descriptor", func(t *testing.T) {
		snap := EntitySnapshot{"status": "active", "first_name": "Maria"}

		desc, err := BuildChange(ActionUpdate, snap, snap)
		require.NoError(t, err)

		assert.Empty(t, desc.ChangedFields)
		assert.Nil(t, desc.OldValues)
		assert.Nil(t, desc.NewValues)
	})

	t.Run("missing snapshot rejected", func(t *testing.T) {
		_, err := BuildChange(ActionUpdate, nil, EntitySnapshot{"a": 1})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))

		_, err = BuildChange(ActionUpdate, EntitySnapshot{"a": 1}, nil)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
	})
}

func TestBuildChangeCreate(t *testing.T) {
	after := EntitySnapshot{
		"mrn":        "MRN-778899",
		"first_name": "Robert",
		"Status":     "active",
	}

	desc, err := BuildChange(ActionCreate, nil, after)
	require.NoError(t, err)

	assert.Equal(t, []string{"first_name", "mrn", "Status"}, desc.ChangedFields)
	assert.Nil(t, desc.OldValues)
	assert.Equal(t, map[string]string{
		"mrn":        "****8899",
		"first_name": "R.",
		"Status":     "active",
	}, desc.NewValues)

	_, err = BuildChange(ActionCreate, nil, nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
}

func TestBuildChangeDelete(t *testing.T) {
	before := EntitySnapshot{
		"ssn":    "123-45-6789",
		"status": "inactive",
	}

	desc, err := BuildChange(ActionDelete, before, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ssn", "status"}, desc.ChangedFields)
	assert.Equal(t, map[string]string{
		"ssn":    "****6789",
		"status": "inactive",
	}, desc.OldValues)
	assert.Nil(t, desc.NewValues)

	_, err = BuildChange(ActionDelete, nil, nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
}

func TestBuildChangeRead(t *testing.T) {
	desc, err := BuildChange(ActionRead, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, desc.ChangedFields)
	assert.Nil(t, desc.OldValues)
	assert.Nil(t, desc.NewValues)
}

func TestBuildChangeUnknownAction(t *testing.T) {
	_, err := BuildChange(Action("merge"), nil, nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
}

func TestCanonicalFieldOrder(t *testing.T) {
	// Case-insensitive lexicographic, stable regardless of insertion order.
	first := EntitySnapshot{"Zeta": 1, "alpha": 2, "Beta": 3, "gamma": 4}
	second := EntitySnapshot{"gamma": 4, "Beta": 3, "alpha": 2, "Zeta": 1}

	a, err := BuildChange(ActionCreate, nil, first)
	require.NoError(t, err)
	b, err := BuildChange(ActionCreate, nil, second)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "Beta", "gamma", "Zeta"}, a.ChangedFields)
	assert.Equal(t, a.ChangedFields, b.ChangedFields)
}
