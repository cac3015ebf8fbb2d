package definition

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

// fieldValidator runs the struct-tag checks on Constraints plus the
// cross-field rules registered below (§4.B "constraint sanity"). A single
// package-level instance is safe for concurrent use, same as the
// teacher's other packages that hold a single long-lived *validator.Validate.
var fieldValidator = newFieldValidator()

func newFieldValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateConstraints, Constraints{})

	return v
}

// validateConstraints enforces the two constraint rules validator's tags
// can't express on their own: Min must not exceed Max, and a declared
// Pattern must be a compilable regexp.
func validateConstraints(sl validator.StructLevel) {
	c := sl.Current().Interface().(Constraints)

	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		sl.ReportError(c.Max, "Max", "Max", "gtefield_min", "")
	}

	if c.Pattern != nil {
		if _, err := regexp.Compile(*c.Pattern); err != nil {
			sl.ReportError(c.Pattern, "Pattern", "Pattern", "regexp", "")
		}
	}
}

// validateConstraintTags runs fieldValidator against a single field's
// Constraints and translates any failure into the Violation shape the rest
// of validateDefinition reports in, per §4.B validation.
func validateConstraintTags(f FieldDefinition) error {
	err := fieldValidator.Struct(f.Constraints)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apierrors.Wrap(apierrors.KindValidation, "validate constraints for field: "+f.Name, err)
	}

	violations := make([]apierrors.Violation, 0, len(validationErrs))

	for _, fe := range validationErrs {
		violations = append(violations, apierrors.Violation{
			Field:   f.Name,
			Message: constraintFailureMessage(fe),
			Code:    "Validation",
		})
	}

	return apierrors.New(apierrors.KindValidation, "invalid constraints for field: "+f.Name).
		WithViolations(violations...)
}

func constraintFailureMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gtefield_min":
		return "min must be <= max"
	case "regexp":
		return "pattern does not compile"
	case "gte":
		return fe.Field() + " must be >= 0"
	case "gt":
		return fe.Field() + " must be > 0"
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}
