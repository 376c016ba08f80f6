package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration consistency before the daemon starts.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ScratchRoot) == "" {
		problems = append(problems, "paths.scratch_root must be set")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Broker.Address) == "" {
		problems = append(problems, "broker.address must be set")
	}
	if strings.TrimSpace(c.Broker.QueuePrefix) == "" {
		problems = append(problems, "broker.queue_prefix must be set")
	}

	for _, stage := range StageNames() {
		limits, _ := c.StageLimitsFor(stage)
		if strings.TrimSpace(limits.Queue) == "" {
			problems = append(problems, fmt.Sprintf("stages.%s.queue must be set", stage))
		}
		if limits.SoftLimitSeconds <= 0 {
			problems = append(problems, fmt.Sprintf("stages.%s.soft_limit_seconds must be positive", stage))
		}
		if limits.HardLimitSeconds <= limits.SoftLimitSeconds {
			problems = append(problems, fmt.Sprintf("stages.%s.hard_limit_seconds must exceed the soft limit", stage))
		}
		if limits.Workers <= 0 {
			problems = append(problems, fmt.Sprintf("stages.%s.workers must be positive", stage))
		}
	}

	if c.Janitor.RetentionHours <= 0 {
		problems = append(problems, "janitor.retention_hours must be positive")
	}
	if c.Janitor.SweepIntervalMinutes <= 0 {
		problems = append(problems, "janitor.sweep_interval_minutes must be positive")
	}
	if c.Workflow.MaxDeliveries <= 0 {
		problems = append(problems, "workflow.max_deliveries must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		problems = append(problems, "workflow.heartbeat_interval must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
