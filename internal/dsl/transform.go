package dsl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
	"github.com/golang-jwt/jwt/v5"

	"github.com/r3data-core/rdatacore/internal/aliasing"
	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/definition"
	"github.com/r3data-core/rdatacore/internal/entity"
)

type (
	// EntityReader is the Entity Store surface the `lookup` and
	// `authenticate` transforms read through.
	EntityReader interface {
		Get(ctx context.Context, entityType, id string) (*entity.Entity, error)
		FindByField(ctx context.Context, entityType, field string, value any) (*entity.Entity, error)
	}

	// TokenIssuer mints a bearer token for the `authenticate` transform.
	TokenIssuer struct {
		signingKey []byte
	}

	// CredentialCache lets the `authenticate` transform skip a bcrypt
	// comparison for a credential pair it has already verified this TTL
	// window. Entries are keyed on credentialKey(hash, plaintext), a digest
	// of the password hash plus the plaintext, so a cached entry
	// auto-invalidates the moment the underlying hash is rotated. Only
	// positive verifications are ever stored; IsValid reports false for a
	// pair never seen or already evicted, which just costs a redundant
	// bcrypt compare, never a false accept.
	CredentialCache interface {
		IsValid(ctx context.Context, key string) bool
		MarkValid(ctx context.Context, key string)
	}
)

// NewTokenIssuer builds a TokenIssuer signing with HMAC-SHA256.
func NewTokenIssuer(signingKey []byte) *TokenIssuer {
	return &TokenIssuer{signingKey: signingKey}
}

func (t *TokenIssuer) issue(entityType, subject string, expiry time.Duration, extraClaims map[string]any) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"type": entityType,
		"exp":  time.Now().Add(expiry).Unix(),
		"iat":  time.Now().Unix(),
	}

	for k, v := range extraClaims {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindUnexpected, "sign bearer token", err)
	}

	return signed, nil
}

// ApplyTransforms runs every transform in step against row, in order, per
// §4.F: a transform error is localised to the row and returned to the
// caller, which marks the row failed and continues.
func ApplyTransforms(ctx context.Context, step Step, row Row, reader EntityReader, issuer *TokenIssuer, creds CredentialCache) error {
	for _, tr := range step.Transforms {
		if err := applyOne(ctx, tr, row, reader, issuer, creds); err != nil {
			return err
		}
	}

	return nil
}

func applyOne(ctx context.Context, tr Transform, row Row, reader EntityReader, issuer *TokenIssuer, creds CredentialCache) error {
	switch tr.Kind {
	case "rename":
		return applyRename(tr, row)
	case "concat":
		return applyConcat(tr, row)
	case "arithmetic":
		return applyArithmetic(tr, row)
	case "cast":
		return applyCast(tr, row)
	case "lookup":
		return applyLookup(ctx, tr, row, reader)
	case "filter":
		return applyFilter(tr, row)
	case "validate":
		return applyValidate(tr, row)
	case "authenticate":
		return applyAuthenticate(ctx, tr, row, reader, issuer, creds)
	default:
		return apierrors.New(apierrors.KindUnknownStepKind, "unknown transform kind: "+tr.Kind)
	}
}

// applyRename renames row keys through internal/aliasing's pattern resolver,
// built fresh from this step's `mappings` option (source -> target, with
// the `{variable}`/`{variable*}` capture syntax for positional/nested
// keys). A literal source with no captures behaves as an exact rename.
func applyRename(tr Transform, row Row) error {
	mappings := toMappingList(tr.Options["mappings"])
	rules := make([]aliasing.RenameRule, 0, len(mappings))

	for _, m := range mappings {
		if m.Source == "" || m.Target == "" {
			continue
		}

		rules = append(rules, aliasing.RenameRule{Source: m.Source, Target: m.Target})
	}

	resolver := aliasing.NewResolver(&aliasing.Config{RenameRules: rules})

	type rename struct {
		from, to string
	}

	var renames []rename

	for key := range row {
		target, matched := resolver.Match(key)
		if !matched || target == key {
			continue
		}

		renames = append(renames, rename{from: key, to: target})
	}

	for _, r := range renames {
		row[r.to] = row[r.from]
		delete(row, r.from)
	}

	return nil
}

func applyConcat(tr Transform, row Row) error {
	target, _ := tr.Options["target"].(string)

	sep := ""
	if s, ok := tr.Options["separator"].(string); ok {
		sep = s
	}

	operands, _ := tr.Options["operands"].([]any)

	parts := make([]string, 0, len(operands))

	for _, op := range operands {
		s, ok := op.(string)
		if !ok {
			continue
		}

		v, err := resolveOperand(row, s)
		if err != nil {
			return err
		}

		parts = append(parts, fmt.Sprint(v))
	}

	row[target] = strings.Join(parts, sep)

	return nil
}

func applyArithmetic(tr Transform, row Row) error {
	left, _ := tr.Options["left"].(string)
	right, _ := tr.Options["right"].(string)
	op, _ := tr.Options["op"].(string)
	target, _ := tr.Options["target"].(string)

	lv, err := resolveNumeric(row, left)
	if err != nil {
		return err
	}

	rv, err := resolveNumeric(row, right)
	if err != nil {
		return err
	}

	var result float64

	switch op {
	case "add":
		result = lv + rv
	case "sub":
		result = lv - rv
	case "mul":
		result = lv * rv
	case "div":
		if rv == 0 {
			return apierrors.New(apierrors.KindTypeMismatch, "arithmetic division by zero")
		}

		result = lv / rv
	default:
		return apierrors.New(apierrors.KindUnknownStepKind, "unknown arithmetic op: "+op)
	}

	row[target] = result

	return nil
}

func applyCast(tr Transform, row Row) error {
	field, _ := tr.Options["field"].(string)
	targetType, _ := tr.Options["type"].(string)

	fd := definition.FieldDefinition{Name: field, Type: definition.FieldType(targetType)}

	raw, ok := row[field]
	if !ok {
		return apierrors.New(apierrors.KindUnresolvedMapping, "cast field not present: "+field)
	}

	coerced, err := entity.CoerceValue(fd, raw)
	if err != nil {
		return err
	}

	row[field] = coerced

	return nil
}

func applyLookup(ctx context.Context, tr Transform, row Row, reader EntityReader) error {
	entityType, _ := tr.Options["entity_type"].(string)
	keyField, _ := tr.Options["key_field"].(string)
	target, _ := tr.Options["target"].(string)

	id, err := resolveOperand(row, keyField)
	if err != nil {
		return err
	}

	if reader == nil {
		return apierrors.New(apierrors.KindConfig, "lookup transform requires an entity reader")
	}

	found, err := reader.Get(ctx, entityType, fmt.Sprint(id))
	if err != nil {
		return err
	}

	row[target] = found.Fields

	return nil
}

func applyValidate(tr Transform, row Row) error {
	field, _ := tr.Options["field"].(string)
	typeTag, _ := tr.Options["type"].(string)

	fd := definition.FieldDefinition{Name: field, Type: definition.FieldType(typeTag)}

	raw, ok := row[field]
	if !ok {
		return apierrors.New(apierrors.KindUnresolvedMapping, "validate field not present: "+field)
	}

	_, err := entity.CoerceValue(fd, raw)

	return err
}

func applyAuthenticate(ctx context.Context, tr Transform, row Row, reader EntityReader, issuer *TokenIssuer, creds CredentialCache) error {
	entityType, _ := tr.Options["entity_type"].(string)
	identifierField, _ := tr.Options["identifier_field"].(string)
	passwordField, _ := tr.Options["password_field"].(string)
	inputIdentifier, _ := tr.Options["input_identifier"].(string)
	inputPassword, _ := tr.Options["input_password"].(string)
	targetToken, _ := tr.Options["target_token"].(string)

	expirySeconds := 3600
	if v, ok := tr.Options["token_expiry_seconds"].(int); ok {
		expirySeconds = v
	}

	identifier, ok := row[inputIdentifier]
	if !ok {
		return apierrors.New(apierrors.KindUnresolvedMapping, "authenticate identifier not present: "+inputIdentifier)
	}

	plaintext, ok := row[inputPassword]
	if !ok {
		return apierrors.New(apierrors.KindUnresolvedMapping, "authenticate password not present: "+inputPassword)
	}

	if reader == nil || issuer == nil {
		return apierrors.New(apierrors.KindConfig, "authenticate transform requires an entity reader and token issuer")
	}

	found, err := reader.FindByField(ctx, entityType, identifierField, identifier)
	if err != nil {
		return apierrors.New(apierrors.KindAuthenticationFailed, "no matching "+entityType+" for identifier")
	}

	hash, _ := found.Fields[passwordFieldOrDefault(passwordField)].(string)
	if hash == "" {
		return apierrors.New(apierrors.KindAuthenticationFailed, "password mismatch")
	}

	key := credentialKey(hash, fmt.Sprint(plaintext))

	if creds == nil || !creds.IsValid(ctx, key) {
		if !entity.ComparePassword(hash, fmt.Sprint(plaintext)) {
			return apierrors.New(apierrors.KindAuthenticationFailed, "password mismatch")
		}

		if creds != nil {
			creds.MarkValid(ctx, key)
		}
	}

	extraClaims := map[string]any{}

	if claimMap, ok := tr.Options["extra_claims"].(map[string]any); ok {
		for claim, sourceField := range claimMap {
			name, _ := sourceField.(string)
			extraClaims[claim] = found.Fields[name]
		}
	}

	token, err := issuer.issue(entityType, found.ID, time.Duration(expirySeconds)*time.Second, extraClaims)
	if err != nil {
		return err
	}

	row[targetToken] = token

	return nil
}

// credentialKey derives a CredentialCache key from a bcrypt hash and the
// plaintext it was checked against. Hashing both together means the
// plaintext password never appears as a cache key verbatim, and rotating
// the stored hash changes every key derived from it, so stale entries can
// never outlive the credential they verified.
func credentialKey(hash, plaintext string) string {
	sum := sha256.Sum256([]byte(hash + ":" + plaintext))
	return hex.EncodeToString(sum[:])
}

func passwordFieldOrDefault(name string) string {
	if name == "" {
		return "password"
	}

	return name
}

// resolveOperand reads a concat/lookup operand: a `$.`-prefixed JSON path
// into the row, a quoted string literal, or a bare row key.
func resolveOperand(row Row, operand string) (any, error) {
	switch {
	case strings.HasPrefix(operand, "$."):
		v, err := jsonpath.Get(operand, map[string]any(row))
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindUnresolvedMapping, "jsonpath operand "+operand, err)
		}

		return v, nil
	case strings.HasPrefix(operand, `"`) && strings.HasSuffix(operand, `"`):
		return strings.Trim(operand, `"`), nil
	default:
		v, ok := row[operand]
		if !ok {
			return nil, apierrors.New(apierrors.KindUnresolvedMapping, "operand not present: "+operand)
		}

		return v, nil
	}
}

func resolveNumeric(row Row, operand string) (float64, error) {
	v, err := resolveOperand(row, operand)
	if err != nil {
		return 0, err
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, apierrors.New(apierrors.KindTypeMismatch, "not numeric: "+operand)
		}

		return f, nil
	default:
		return 0, apierrors.New(apierrors.KindTypeMismatch, "not numeric: "+operand)
	}
}

// filterLanguage extends gval's base expression language with the
// comparison/combinator operators named in §7.3, evaluated over a Row as
// gval's variable-selector parameter.
var filterLanguage = gval.NewLanguage(
	gval.Full(),
	gval.Function("eq", func(args ...any) (any, error) { return cmpEq(args[0], args[1]), nil }),
	gval.Function("ne", func(args ...any) (any, error) { return !cmpEq(args[0], args[1]), nil }),
	gval.Function("lt", func(args ...any) (any, error) { return cmpOrdered(args[0], args[1], func(c int) bool { return c < 0 }) }),
	gval.Function("le", func(args ...any) (any, error) { return cmpOrdered(args[0], args[1], func(c int) bool { return c <= 0 }) }),
	gval.Function("gt", func(args ...any) (any, error) { return cmpOrdered(args[0], args[1], func(c int) bool { return c > 0 }) }),
	gval.Function("ge", func(args ...any) (any, error) { return cmpOrdered(args[0], args[1], func(c int) bool { return c >= 0 }) }),
	gval.Function("in", func(args ...any) (any, error) { return membership(args[0], args[1:]), nil }),
	gval.Function("not_in", func(args ...any) (any, error) { return !membership(args[0], args[1:]), nil }),
	gval.Function("contains", func(args ...any) (any, error) { return strings.Contains(fmt.Sprint(args[0]), fmt.Sprint(args[1])), nil }),
	gval.Function("prefix", func(args ...any) (any, error) { return strings.HasPrefix(fmt.Sprint(args[0]), fmt.Sprint(args[1])), nil }),
	gval.Function("suffix", func(args ...any) (any, error) { return strings.HasSuffix(fmt.Sprint(args[0]), fmt.Sprint(args[1])), nil }),
	gval.Function("and", func(args ...any) (any, error) { return boolAll(args), nil }),
	gval.Function("or", func(args ...any) (any, error) { return boolAny(args), nil }),
	gval.Function("not", func(args ...any) (any, error) { return !truthy(args[0]), nil }),
)

func applyFilter(tr Transform, row Row) error {
	expr, _ := tr.Options["expression"].(string)

	result, evalErr := filterLanguage.Evaluate(expr, map[string]any(row))
	if evalErr != nil {
		return apierrors.Wrap(apierrors.KindValidation, "filter expression", evalErr)
	}

	if !truthy(result) {
		return apierrors.New(apierrors.KindValidation, "row excluded by filter")
	}

	return nil
}

func truthy(v any) bool {
	b, err := entity.CoerceBoolToken(v)
	if err != nil {
		return false
	}

	return b
}

func boolAll(args []any) bool {
	for _, a := range args {
		if !truthy(a) {
			return false
		}
	}

	return true
}

func boolAny(args []any) bool {
	for _, a := range args {
		if truthy(a) {
			return true
		}
	}

	return false
}

func cmpEq(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func membership(needle any, haystack []any) bool {
	for _, h := range haystack {
		if cmpEq(needle, h) {
			return true
		}
	}

	return false
}

func cmpOrdered(a, b any, pred func(int) bool) (bool, error) {
	af, aOK := toFloat(a)
	bf, bOK := toFloat(b)

	if aOK && bOK {
		return pred(compareFloat(af, bf)), nil
	}

	as, bs := fmt.Sprint(a), fmt.Sprint(b)

	return pred(strings.Compare(as, bs)), nil
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
