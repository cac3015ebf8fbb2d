package entity

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/definition"
)

// CoerceBoolToken parses the boolean coercion tokens defined in §7.2, used
// both here and by the DSL's `filter` transform. Tokens are case-
// insensitive; any non-zero numeric is truthy.
func CoerceBoolToken(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case string:
		token := strings.ToLower(strings.TrimSpace(v))

		switch token {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off", "":
			return false, nil
		}

		if n, err := strconv.ParseFloat(token, 64); err == nil {
			return n != 0, nil
		}

		return false, fmt.Errorf("%w: not a boolean token: %q", errInvalidBoolToken, v)
	default:
		return false, fmt.Errorf("%w: unsupported type %T", errInvalidBoolToken, raw)
	}
}

var errInvalidBoolToken = apierrors.New(apierrors.KindTypeMismatch, "invalid boolean token")

// CoerceValue coerces a raw, untyped value to the Go representation
// appropriate for fd.Type, applies constraints, and returns the coerced
// value (per §4.C.1: "type coercion per tag ... constraints are applied
// after coercion").
func CoerceValue(fd definition.FieldDefinition, raw any) (any, error) {
	if raw == nil {
		if fd.Required {
			return nil, fieldErr(fd.Name, "required field is null")
		}

		return nil, nil
	}

	var (
		coerced any
		err     error
	)

	switch fd.Type {
	case definition.FieldString, definition.FieldText, definition.FieldRichText,
		definition.FieldEmail, definition.FieldURL, definition.FieldFile, definition.FieldImage:
		coerced, err = coerceString(fd, raw)
	case definition.FieldInteger:
		coerced, err = coerceInteger(fd, raw)
	case definition.FieldFloat:
		coerced, err = coerceFloat(fd, raw)
	case definition.FieldBoolean:
		coerced, err = CoerceBoolToken(raw)
	case definition.FieldDate:
		coerced, err = coerceTime(fd, raw, "2006-01-02")
	case definition.FieldDateTime:
		coerced, err = coerceTime(fd, raw, time.RFC3339)
	case definition.FieldTime:
		coerced, err = coerceTime(fd, raw, "15:04:05")
	case definition.FieldJSON:
		coerced, err = coerceJSON(raw)
	case definition.FieldPassword:
		coerced, err = coercePassword(raw)
	case definition.FieldReference:
		coerced, err = coerceString(fd, raw)
	default:
		return nil, fieldErr(fd.Name, "unsupported field type: "+string(fd.Type))
	}

	if err != nil {
		return nil, err
	}

	if err := applyConstraints(fd, coerced); err != nil {
		return nil, err
	}

	return coerced, nil
}

func coerceString(fd definition.FieldDefinition, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fieldErr(fd.Name, fmt.Sprintf("expected string, got %T", raw))
	}

	return s, nil
}

func coerceInteger(fd definition.FieldDefinition, raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fieldErr(fd.Name, "not a valid integer: "+v)
		}

		return n, nil
	default:
		return 0, fieldErr(fd.Name, fmt.Sprintf("expected integer, got %T", raw))
	}
}

func coerceFloat(fd definition.FieldDefinition, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fieldErr(fd.Name, "not a valid number: "+v)
		}

		return n, nil
	default:
		return 0, fieldErr(fd.Name, fmt.Sprintf("expected number, got %T", raw))
	}
}

func coerceTime(fd definition.FieldDefinition, raw any, layout string) (time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fieldErr(fd.Name, fmt.Sprintf("expected ISO 8601 string, got %T", raw))
	}

	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fieldErr(fd.Name, "not a valid timestamp: "+s)
	}

	return t, nil
}

// coerceJSON validates and decodes a JSON field's value with gjson rather
// than a full encoding/json unmarshal, the way r3e-network-service_layer
// does ad hoc JSON field extraction (§4.C.1).
func coerceJSON(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		if !gjson.Valid(v) {
			return nil, fieldErr("", "invalid JSON")
		}

		return gjson.Parse(v).Value(), nil
	default:
		// Already-decoded JSON (map/slice/scalar from an upstream JSON
		// source) round-trips through marshal/gjson to confirm it is
		// representable, per §4.C.1 "JSON fields round-trip a parse".
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fieldErr("", "value is not JSON-representable")
		}

		return gjson.ParseBytes(b).Value(), nil
	}
}

func coercePassword(raw any) (string, error) {
	plaintext, ok := raw.(string)
	if !ok {
		return "", fieldErr("", "password must be a string")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindUnexpected, "hash password field", err)
	}

	return string(hash), nil
}

// ComparePassword reports whether plaintext matches a Password field's
// stored bcrypt hash, used by the DSL `authenticate` transform.
func ComparePassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

func applyConstraints(fd definition.FieldDefinition, value any) error {
	c := fd.Constraints

	if c.Length != nil {
		if s, ok := value.(string); ok && len(s) > *c.Length {
			return fieldErr(fd.Name, fmt.Sprintf("exceeds max length %d", *c.Length))
		}
	}

	if c.Pattern != nil {
		if s, ok := value.(string); ok {
			re, err := regexp.Compile(*c.Pattern)
			if err != nil {
				return apierrors.Wrap(apierrors.KindConfig, "invalid pattern constraint for field "+fd.Name, err)
			}

			if !re.MatchString(s) {
				return fieldErr(fd.Name, "does not match pattern "+*c.Pattern)
			}
		}
	}

	if num, ok := asFloat(value); ok {
		if c.Min != nil && num < *c.Min {
			return fieldErr(fd.Name, fmt.Sprintf("below minimum %v", *c.Min))
		}

		if c.Max != nil && num > *c.Max {
			return fieldErr(fd.Name, fmt.Sprintf("above maximum %v", *c.Max))
		}

		if c.Step != nil && *c.Step > 0 {
			remainder := num
			if c.Min != nil {
				remainder = num - *c.Min
			}

			quotient := remainder / *c.Step
			if quotient != float64(int64(quotient)) {
				return fieldErr(fd.Name, fmt.Sprintf("not a multiple of step %v", *c.Step))
			}
		}
	}

	return nil
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func fieldErr(field, reason string) error {
	return apierrors.New(apierrors.KindValidation, fmt.Sprintf("field %q: %s", field, reason)).
		WithViolations(apierrors.Violation{Field: field, Message: reason, Code: "Validation"})
}
