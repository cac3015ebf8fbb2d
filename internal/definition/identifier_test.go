package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

func TestValidateIdentifier_AcceptsValidNames(t *testing.T) {
	for _, name := range []string{"customer", "order_item", "a1"} {
		assert.NoError(t, ValidateIdentifier(name), name)
	}
}

func TestValidateIdentifier_RejectsUppercase(t *testing.T) {
	err := ValidateIdentifier("Customer")

	assert.Equal(t, apierrors.KindInvalidIdentifier, apierrors.KindOf(err))
}

func TestValidateIdentifier_RejectsLeadingDigit(t *testing.T) {
	err := ValidateIdentifier("1customer")

	assert.Equal(t, apierrors.KindInvalidIdentifier, apierrors.KindOf(err))
}

func TestValidateIdentifier_RejectsReservedName(t *testing.T) {
	err := ValidateIdentifier("created_at")

	assert.Equal(t, apierrors.KindInvalidIdentifier, apierrors.KindOf(err))
}

func TestIsReservedName(t *testing.T) {
	assert.True(t, IsReservedName("path"))
	assert.False(t, IsReservedName("email"))
}
