package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrStr(s string) *string { return &s }

func TestValidateConstraintTags_RejectsNonMonotonicMinMax(t *testing.T) {
	f := FieldDefinition{Name: "age", Type: FieldInteger, Constraints: Constraints{Min: ptrFloat(150), Max: ptrFloat(0)}}

	err := validateConstraintTags(f)

	require.Error(t, err)
}

func TestValidateConstraintTags_RejectsMalformedPattern(t *testing.T) {
	f := FieldDefinition{Name: "code", Type: FieldString, Constraints: Constraints{Pattern: ptrStr("[unterminated")}}

	err := validateConstraintTags(f)

	require.Error(t, err)
}

func TestValidateConstraintTags_RejectsNegativeLength(t *testing.T) {
	negative := -1
	f := FieldDefinition{Name: "title", Type: FieldString, Constraints: Constraints{Length: &negative}}

	err := validateConstraintTags(f)

	require.Error(t, err)
}

func TestValidateConstraintTags_AcceptsWellFormedConstraints(t *testing.T) {
	f := FieldDefinition{
		Name: "code", Type: FieldString,
		Constraints: Constraints{Min: ptrFloat(0), Max: ptrFloat(100), Pattern: ptrStr("^[A-Z]+$")},
	}

	assert.NoError(t, validateConstraintTags(f))
}
