// Package version implements the append-only Version Archive: immutable
// snapshots of EntityDefinitions and Entities, and the pruning policy the
// Maintenance Worker applies to them.
package version

import "time"

type (
	// DefinitionVersion is an immutable snapshot of an EntityDefinition
	// taken immediately before a mutation.
	DefinitionVersion struct {
		DefinitionID string
		Version      int
		CreatedAt    time.Time
		CreatedBy    string
		Payload      []byte // JSON-encoded pre-change EntityDefinition
		Comment      string
	}

	// EntityVersion is an immutable snapshot of an Entity taken immediately
	// before a mutation.
	EntityVersion struct {
		EntityType string
		EntityID   string
		Version    int
		CreatedAt  time.Time
		CreatedBy  string
		Payload    []byte // JSON-encoded pre-change field data
		Comment    string
	}

	// PruningPolicy governs how many archived versions survive a
	// Maintenance Worker cycle, per §4.D. At least one version is always
	// retained regardless of the thresholds below.
	PruningPolicy struct {
		Enabled     bool
		MaxVersions *int // nil means unbounded
		MaxAgeDays  *int // nil means unbounded
	}
)
