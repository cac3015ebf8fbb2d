// Package workflow implements the WorkflowDefinition registry: the named,
// versioned pipelines the Scheduler and Job Queue drive runs from (§3 data
// model, §4.H/4.G).
package workflow

import "time"

// Kind distinguishes a consumer workflow (ingests external data into the
// Entity Store) from a provider workflow (serves entity data outward).
type Kind string

const (
	KindConsumer Kind = "consumer"
	KindProvider Kind = "provider"
)

// Definition is one named pipeline: a DSL Program plus its scheduling and
// lifecycle metadata.
type Definition struct {
	ID             string
	Name           string
	Description    string
	Kind           Kind
	Enabled        bool
	Cron           *string // nil for manual-only workflows
	Program        []byte  // JSON-encoded dsl.Program; see internal/dsl
	Version        int
	LastEnqueuedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ListFilter narrows List results.
type ListFilter struct {
	EnabledOnly bool
	Kind        *Kind
}

// Page is a limit/offset pagination window.
type Page struct {
	Limit  int
	Offset int
}
