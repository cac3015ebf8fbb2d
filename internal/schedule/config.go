package schedule

import (
	"time"

	"github.com/r3data-core/rdatacore/internal/config"
)

// Config is the Scheduler's reconciliation-loop wiring (§4.H).
type Config struct {
	// UpdateInterval is job_queue_update_interval: how often the
	// reconciliation loop wakes up to check every enabled workflow's cron
	// schedule against the Run Ledger.
	UpdateInterval time.Duration
}

// LoadConfig reads the Scheduler's configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		UpdateInterval: config.GetEnvDuration("RDATACORE_SCHEDULER_UPDATE_INTERVAL", 30*time.Second),
	}
}
