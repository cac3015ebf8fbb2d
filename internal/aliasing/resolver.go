// Package aliasing provides pattern-based row-key renaming for the DSL
// `rename` transform.
//
// A workflow's `rename` step maps source row keys to target keys. Literal
// source->target pairs cover most cases, but some sources (JSON blobs with
// numbered array fields, CSV columns with positional suffixes) need a
// pattern: one rule that renames every key matching a shape, with captured
// fragments reusable in the target key.
//
// Pattern syntax:
//   - {variable} captures any characters except "."
//   - {variable*} captures any characters including "." (for nested paths)
//   - Literal characters match exactly
//   - First matching pattern wins (order matters)
package aliasing

import (
	"log/slog"
	"regexp"
	"strings"
)

type (
	// compiledPattern holds a pre-compiled regex pattern and its target template.
	compiledPattern struct {
		regex     *regexp.Regexp
		target    string
		variables []string
	}

	// Resolver renames row keys using pattern-based rules. Thread-safe for
	// concurrent use (immutable after construction).
	Resolver struct {
		patterns []compiledPattern
	}
)

// variableRegex matches {name} or {name*} patterns in the pattern string.
var variableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\*?\}`)

// compilePattern converts a pattern string to a compiled regex.
//
// Pattern: "items_{index}_sku" → Regex: ^items_(?P<index>[^.]+)_sku$.
// Pattern: "meta.{path*}" → Regex: ^meta\.(?P<path>.+)$.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	variables := make([]string, 0, 4) //nolint:mnd // preallocate for typical pattern

	escaped := regexp.QuoteMeta(pattern)
	result := escaped

	matches := variableRegex.FindAllStringSubmatch(pattern, -1)
	for _, match := range matches {
		fullMatch := match[0] // e.g., "{index}" or "{path*}"
		varName := match[1]   // e.g., "index" or "path"
		isGreedy := strings.HasSuffix(fullMatch, "*}")

		variables = append(variables, varName)

		var captureGroup string
		if isGreedy {
			captureGroup = "(?P<" + varName + ">.+)"
		} else {
			captureGroup = "(?P<" + varName + ">[^.]+)"
		}

		escapedVar := regexp.QuoteMeta(fullMatch)
		result = strings.Replace(result, escapedVar, captureGroup, 1)
	}

	result = "^" + result + "$"

	regex, err := regexp.Compile(result)
	if err != nil {
		return nil, nil, err
	}

	return regex, variables, nil
}

// substituteVariables replaces {var} placeholders in target with captured values.
func substituteVariables(target string, captures map[string]string) string {
	result := target

	for varName, value := range captures {
		result = strings.ReplaceAll(result, "{"+varName+"}", value)
		result = strings.ReplaceAll(result, "{"+varName+"*}", value)
	}

	return result
}

// NewResolver creates a resolver from config with validation.
//
// Rules with an empty source or target, or an invalid pattern, are skipped
// with a warning. If config is nil or has no rules, returns a no-op resolver
// (passthrough).
func NewResolver(cfg *Config) *Resolver {
	if cfg == nil || len(cfg.RenameRules) == 0 {
		return &Resolver{
			patterns: []compiledPattern{},
		}
	}

	validPatterns := make([]compiledPattern, 0, len(cfg.RenameRules))

	for _, rule := range cfg.RenameRules {
		pattern := strings.TrimSpace(rule.Source)
		target := strings.TrimSpace(rule.Target)

		if pattern == "" {
			slog.Warn("skipping rename rule with empty source pattern")

			continue
		}

		if target == "" {
			slog.Warn("skipping rename rule with empty target",
				slog.String("source", pattern))

			continue
		}

		regex, variables, err := compilePattern(pattern)
		if err != nil {
			slog.Warn("skipping rename rule with invalid pattern",
				slog.String("source", pattern),
				slog.String("error", err.Error()))

			continue
		}

		validPatterns = append(validPatterns, compiledPattern{
			regex:     regex,
			target:    target,
			variables: variables,
		})

		slog.Debug("compiled rename rule",
			slog.String("source", pattern),
			slog.String("target", target),
			slog.Int("variables", len(variables)))
	}

	return &Resolver{
		patterns: validPatterns,
	}
}

// RuleCount returns the number of compiled rename rules.
func (r *Resolver) RuleCount() int {
	if r == nil {
		return 0
	}

	return len(r.patterns)
}

// Resolve renames a row key to its target form. Returns the target key if a
// rule matches, otherwise returns the original key unchanged.
//
// Rules are evaluated in order; first match wins.
func (r *Resolver) Resolve(key string) string {
	target, _ := r.Match(key)
	if target == "" {
		return key
	}

	return target
}

// Match checks if a key matches any rename rule and returns the renamed key.
// Returns ("", false) if no rule matches.
func (r *Resolver) Match(key string) (string, bool) {
	if r == nil || len(r.patterns) == 0 || key == "" {
		return "", false
	}

	for _, cp := range r.patterns {
		match := cp.regex.FindStringSubmatch(key)
		if match == nil {
			continue
		}

		captures := make(map[string]string)

		for i, name := range cp.regex.SubexpNames() {
			if i > 0 && name != "" && i < len(match) {
				captures[name] = match[i]
			}
		}

		return substituteVariables(cp.target, captures), true
	}

	return "", false
}
