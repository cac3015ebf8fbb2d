package maintenance

import (
	"time"

	"github.com/r3data-core/rdatacore/internal/config"
	"github.com/r3data-core/rdatacore/internal/version"
)

// Config is the Maintenance Worker's wiring (§4.J): one cron schedule
// driving four idempotent tasks per tick.
type Config struct {
	// Cron is maintenance_cron: when the worker's tick fires.
	Cron string

	VersionPolicy version.PruningPolicy

	// StaleRunAfter is how long a `running` run may go without a heartbeat
	// before the Maintenance Worker reaps it as failed (§4.I heartbeat rule).
	StaleRunAfter time.Duration

	// RunLogRetention is how long a terminal run's log lines are kept
	// before the Maintenance Worker deletes them.
	RunLogRetention time.Duration
}

// LoadConfig reads the Maintenance Worker's configuration from the
// environment.
func LoadConfig() *Config {
	maxVersions := config.GetEnvInt("RDATACORE_VERSION_MAX_VERSIONS", 50)
	maxAgeDays := config.GetEnvInt("RDATACORE_VERSION_MAX_AGE_DAYS", 365)

	return &Config{
		Cron: config.GetEnvStr("RDATACORE_MAINTENANCE_CRON", "0 * * * *"),
		VersionPolicy: version.PruningPolicy{
			Enabled:     config.GetEnvBool("RDATACORE_VERSION_PRUNING_ENABLED", true),
			MaxVersions: &maxVersions,
			MaxAgeDays:  &maxAgeDays,
		},
		StaleRunAfter:   config.GetEnvDuration("RDATACORE_RUN_STALE_AFTER", 10*time.Minute),
		RunLogRetention: config.GetEnvDuration("RDATACORE_RUN_LOG_RETENTION", 30*24*time.Hour),
	}
}
