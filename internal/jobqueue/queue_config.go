package jobqueue

import (
	"os"
	"strconv"

	"github.com/riverqueue/river"
)

// QueueConfig holds the tunable parameters for the notification queue.
type QueueConfig struct {
	// MaxWorkers bounds concurrent notification jobs. Each worker holds a
	// pool connection while running.
	MaxWorkers int
}

const defaultMaxWorkers = 4

// GetQueueConfig returns the queue configuration with env overrides
// applied. CFOLINK_QUEUE_MAX_WORKERS overrides the worker count.
func GetQueueConfig() *QueueConfig {
	config := &QueueConfig{
		MaxWorkers: defaultMaxWorkers,
	}

	if raw := os.Getenv("CFOLINK_QUEUE_MAX_WORKERS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			config.MaxWorkers = n
		}
	}

	return config
}

// RiverQueueConfig maps the configuration onto River's queue settings.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: c.MaxWorkers},
	}
}
