package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"stemfuse/internal/config"
	"stemfuse/internal/dispatch"
	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/notifications"
	"stemfuse/internal/scratch"
	"stemfuse/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withServices opens the job store and the broker connection for the duration
// of a single command. The CLI shares the daemon's database and queues, so no
// IPC layer is needed for inspection or enqueueing.
func (c *commandContext) withServices(fn func(*workflow.Manager, dispatch.Queue) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	queue := dispatch.NewRedis(cfg.Broker, config.StageNames(), cfg.Workflow.MaxDeliveries)
	defer queue.Close()

	scratchMgr, err := scratch.NewManager(cfg.ScratchRoot)
	if err != nil {
		return err
	}

	manager := workflow.NewManager(cfg, store, queue, scratchMgr, notifications.NewService(cfg), logging.NewNop())
	return fn(manager, queue)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
