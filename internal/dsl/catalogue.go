package dsl

// StepKindSpec describes one recognised kind within a clause (from,
// transform, or to) and the option names it requires, per Design Note
// "Dynamic dispatch over step kinds": kinds are resolved against this
// registry, never against run-time reflection or string-typed dispatch.
type StepKindSpec struct {
	Clause          string // "from" | "transform" | "to"
	Kind            string
	RequiredOptions []string
}

// Catalogue is the process-wide, closed set of recognised from/transform/to
// kinds and format handlers. Built once at startup by NewCatalogue.
type Catalogue struct {
	from      map[string]StepKindSpec
	transform map[string]StepKindSpec
	to        map[string]StepKindSpec
	formats   map[string]bool
}

// NewCatalogue constructs the engine's built-in catalogue (§4.E "From
// kinds", "Transform kinds", "To kinds", "Format handlers").
func NewCatalogue() *Catalogue {
	c := &Catalogue{
		from:      map[string]StepKindSpec{},
		transform: map[string]StepKindSpec{},
		to:        map[string]StepKindSpec{},
		formats:   map[string]bool{"csv": true, "json": true},
	}

	for _, spec := range []StepKindSpec{
		{Clause: "from", Kind: "uri", RequiredOptions: []string{"url", "method"}},
		{Clause: "from", Kind: "upload", RequiredOptions: nil},
		{Clause: "from", Kind: "entity", RequiredOptions: []string{"entity_type"}},
		{Clause: "from", Kind: "format", RequiredOptions: []string{"format"}},
	} {
		c.from[spec.Kind] = spec
	}

	for _, spec := range []StepKindSpec{
		{Clause: "transform", Kind: "rename", RequiredOptions: []string{"mappings"}},
		{Clause: "transform", Kind: "concat", RequiredOptions: []string{"operands", "target"}},
		{Clause: "transform", Kind: "arithmetic", RequiredOptions: []string{"left", "op", "right", "target"}},
		{Clause: "transform", Kind: "cast", RequiredOptions: []string{"field", "type"}},
		{Clause: "transform", Kind: "lookup", RequiredOptions: []string{"entity_type", "key_field", "target"}},
		{Clause: "transform", Kind: "filter", RequiredOptions: []string{"expression"}},
		{Clause: "transform", Kind: "validate", RequiredOptions: []string{"field"}},
		{Clause: "transform", Kind: "authenticate", RequiredOptions: []string{
			"entity_type", "identifier_field", "input_identifier", "input_password", "target_token",
		}},
	} {
		c.transform[spec.Kind] = spec
	}

	for _, spec := range []StepKindSpec{
		{Clause: "to", Kind: "format", RequiredOptions: []string{"format", "output"}},
		{Clause: "to", Kind: "entity", RequiredOptions: []string{"entity_type", "mode"}},
	} {
		c.to[spec.Kind] = spec
	}

	return c
}

// Describe enumerates the closed catalogue, for an admin pipeline editor
// (§10 supplemental feature: option catalogue introspection).
func (c *Catalogue) Describe() []StepKindSpec {
	out := make([]StepKindSpec, 0, len(c.from)+len(c.transform)+len(c.to))

	for _, m := range []map[string]StepKindSpec{c.from, c.transform, c.to} {
		for _, spec := range m {
			out = append(out, spec)
		}
	}

	return out
}

func (c *Catalogue) lookupFrom(kind string) (StepKindSpec, bool) {
	spec, ok := c.from[kind]
	return spec, ok
}

func (c *Catalogue) lookupTransform(kind string) (StepKindSpec, bool) {
	spec, ok := c.transform[kind]
	return spec, ok
}

func (c *Catalogue) lookupTo(kind string) (StepKindSpec, bool) {
	spec, ok := c.to[kind]
	return spec, ok
}

func (c *Catalogue) hasFormat(name string) bool {
	return c.formats[name]
}
