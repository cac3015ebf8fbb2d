package definition

import (
	"regexp"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

// identifierPattern is the identifier-safety rule shared by definition
// names and field names (§4.B): lowercase, starts with a letter, only
// letters/digits/underscore after that.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateIdentifier rejects names that are not identifier-safe or that
// collide with a reserved invariant attribute name.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return apierrors.New(apierrors.KindInvalidIdentifier,
			"identifier must match ^[a-z][a-z0-9_]*$: "+name).
			WithViolations(apierrors.Violation{Field: name, Message: "not identifier-safe", Code: "InvalidIdentifier"})
	}

	if IsReservedName(name) {
		return apierrors.New(apierrors.KindInvalidIdentifier,
			"identifier collides with a reserved invariant attribute: "+name).
			WithViolations(apierrors.Violation{Field: name, Message: "reserved name", Code: "InvalidIdentifier"})
	}

	return nil
}
