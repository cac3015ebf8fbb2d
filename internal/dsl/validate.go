package dsl

import (
	"context"
	"fmt"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/definition"
)

// DefinitionLookup resolves a published definition's fields for the
// validator to check `to.entity` mapping targets and the `authenticate`
// transform's password field against. Implemented by
// internal/definition.Registry.
type DefinitionLookup interface {
	Fields(ctx context.Context, entityType string) ([]definition.FieldDefinition, error)
}

// Validate checks program against the closed catalogue and the mapping/
// authenticate rules of §4.E. It aggregates every violation it finds rather
// than stopping at the first, since the admin boundary surfaces them all at
// once.
func Validate(ctx context.Context, program Program, catalogue *Catalogue, lookup DefinitionLookup) error {
	var violations []apierrors.Violation

	if len(program.Steps) == 0 {
		violations = append(violations, apierrors.Violation{
			Field: "steps", Message: "program has no steps", Code: "MissingOption",
		})
	}

	for i, step := range program.Steps {
		violations = append(violations, validateStep(ctx, i, step, catalogue, lookup)...)
	}

	if len(violations) > 0 {
		return apierrors.New(apierrors.KindValidation, "program failed validation").WithViolations(violations...)
	}

	return nil
}

func validateStep(ctx context.Context, idx int, step Step, catalogue *Catalogue, lookup DefinitionLookup) []apierrors.Violation {
	var out []apierrors.Violation

	prefix := fmt.Sprintf("steps[%d]", idx)

	if step.From.Kind == "" {
		out = append(out, apierrors.Violation{Field: prefix + ".from", Message: "missing from clause", Code: "MissingOption"})
	} else if spec, ok := catalogue.lookupFrom(step.From.Kind); !ok {
		out = append(out, unknownKindViolation(prefix+".from", step.From.Kind))
	} else {
		out = append(out, missingOptionViolations(prefix+".from", spec, step.From.Options)...)
	}

	if step.From.Kind == "format" {
		if name, _ := step.From.Options["format"].(string); name != "" && !catalogue.hasFormat(name) {
			out = append(out, apierrors.Violation{
				Field: prefix + ".from.format", Message: "unknown format handler: " + name, Code: "IncompatibleOutput",
			})
		}
	}

	for ti, tr := range step.Transforms {
		tprefix := fmt.Sprintf("%s.transforms[%d]", prefix, ti)

		spec, ok := catalogue.lookupTransform(tr.Kind)
		if !ok {
			out = append(out, unknownKindViolation(tprefix, tr.Kind))
			continue
		}

		out = append(out, missingOptionViolations(tprefix, spec, tr.Options)...)

		if tr.Kind == "authenticate" {
			out = append(out, validateAuthenticate(ctx, tprefix, tr, lookup)...)
		}
	}

	if step.To.Kind == "" {
		out = append(out, apierrors.Violation{Field: prefix + ".to", Message: "missing to clause", Code: "MissingOption"})

		return out
	}

	spec, ok := catalogue.lookupTo(step.To.Kind)
	if !ok {
		return append(out, unknownKindViolation(prefix+".to", step.To.Kind))
	}

	out = append(out, missingOptionViolations(prefix+".to", spec, step.To.Options)...)

	switch step.To.Kind {
	case "format":
		name, _ := step.To.Options["format"].(string)
		if name != "" && !catalogue.hasFormat(name) {
			out = append(out, apierrors.Violation{
				Field: prefix + ".to.format", Message: "unknown format handler: " + name, Code: "IncompatibleOutput",
			})
		}
	case "entity":
		out = append(out, validateToEntity(ctx, prefix, step.To, lookup)...)
	}

	return out
}

func validateToEntity(ctx context.Context, prefix string, to To, lookup DefinitionLookup) []apierrors.Violation {
	entityType, _ := to.Options["entity_type"].(string)
	if entityType == "" || lookup == nil {
		return nil
	}

	fields, err := lookup.Fields(ctx, entityType)
	if err != nil {
		return []apierrors.Violation{{Field: prefix + ".to.entity_type", Message: err.Error(), Code: "NotFound"}}
	}

	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !f.System {
			declared[f.Name] = true
		}
	}

	var out []apierrors.Violation

	for _, raw := range toMappingList(to.Options["mappings"]) {
		if !declared[raw.Target] {
			out = append(out, apierrors.Violation{
				Field: prefix + ".to.mappings", Message: "unresolved mapping target: " + raw.Target, Code: "UnresolvedMapping",
			})
		}
	}

	return out
}

func validateAuthenticate(ctx context.Context, prefix string, tr Transform, lookup DefinitionLookup) []apierrors.Violation {
	entityType, _ := tr.Options["entity_type"].(string)
	if entityType == "" || lookup == nil {
		return nil
	}

	fields, err := lookup.Fields(ctx, entityType)
	if err != nil {
		return []apierrors.Violation{{Field: prefix + ".entity_type", Message: err.Error(), Code: "NotFound"}}
	}

	passwordField, _ := tr.Options["password_field"].(string)

	hasPassword := false

	for _, f := range fields {
		if f.Type == definition.FieldPassword && (passwordField == "" || f.Name == passwordField) {
			hasPassword = true

			break
		}
	}

	if !hasPassword {
		return []apierrors.Violation{{
			Field: prefix + ".password_field", Message: "definition has no Password field", Code: "MissingOption",
		}}
	}

	return nil
}

func unknownKindViolation(field, kind string) apierrors.Violation {
	return apierrors.Violation{Field: field, Message: "unknown kind: " + kind, Code: "UnknownStepKind"}
}

func missingOptionViolations(prefix string, spec StepKindSpec, options map[string]any) []apierrors.Violation {
	var out []apierrors.Violation

	for _, name := range spec.RequiredOptions {
		if _, ok := options[name]; !ok {
			out = append(out, apierrors.Violation{
				Field: prefix + "." + name, Message: "missing required option: " + name, Code: "MissingOption",
			})
		}
	}

	return out
}

func toMappingList(raw any) []FieldMapping {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	out := make([]FieldMapping, 0, len(items))

	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		source, _ := m["source"].(string)
		target, _ := m["target"].(string)

		out = append(out, FieldMapping{Source: source, Target: target})
	}

	return out
}
