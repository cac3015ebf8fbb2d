package queue

import (
	"time"

	"github.com/r3data-core/rdatacore/internal/config"
)

// Config is the Job Queue's wiring: brokers, the two logical queues'
// topic/consumer-group names, and the blocking-pop read timeout.
type Config struct {
	Brokers []string

	FetchTopic       string
	FetchGroupID     string
	ProcessTopic     string
	ProcessGroupID   string
	ReadTimeout      time.Duration
	ReadBatchTimeout time.Duration
}

// LoadConfig reads the Job Queue's configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		Brokers:          config.ParseCommaSeparatedList(config.GetEnvStr("RDATACORE_KAFKA_BROKERS", "localhost:9092")),
		FetchTopic:       config.GetEnvStr("RDATACORE_QUEUE_FETCH_NAME", "rdatacore.fetch"),
		FetchGroupID:     config.GetEnvStr("RDATACORE_QUEUE_FETCH_GROUP", "rdatacore-fetch"),
		ProcessTopic:     config.GetEnvStr("RDATACORE_QUEUE_PROCESS_NAME", "rdatacore.process"),
		ProcessGroupID:   config.GetEnvStr("RDATACORE_QUEUE_PROCESS_GROUP", "rdatacore-process"),
		ReadTimeout:      config.GetEnvDuration("RDATACORE_QUEUE_READ_TIMEOUT", 10*time.Second),
		ReadBatchTimeout: config.GetEnvDuration("RDATACORE_QUEUE_READ_BATCH_TIMEOUT", time.Second),
	}
}
