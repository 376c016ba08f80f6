package config

const (
	defaultScratchRoot    = "~/.local/share/stemfuse/scratch"
	defaultDataDir        = "~/.local/share/stemfuse/data"
	defaultLogDir         = "~/.local/share/stemfuse/logs"
	defaultObjectStoreDir = "~/.local/share/stemfuse/objects"
	defaultMetricsBind    = "127.0.0.1:9264"

	defaultBrokerAddress = "localhost:6379"
	defaultQueuePrefix   = "stemfuse"

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60

	defaultRequestTimeout = 30
	defaultMaxAttempts    = 3
	defaultRetryBackoffMS = 250

	defaultRetentionHours       = 24
	defaultSweepIntervalMinutes = 60

	defaultClaimWaitSeconds       = 5
	defaultErrorRetryInterval     = 10
	defaultHeartbeatInterval      = 15
	defaultReclaimIntervalSeconds = 30
	defaultMaxDeliveries          = 3
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ScratchRoot:    defaultScratchRoot,
			DataDir:        defaultDataDir,
			LogDir:         defaultLogDir,
			ObjectStoreDir: defaultObjectStoreDir,
			MetricsBind:    defaultMetricsBind,
		},
		Broker: Broker{
			Address:     defaultBrokerAddress,
			QueuePrefix: defaultQueuePrefix,
		},
		Stages: Stages{
			// The generative stage gets the widest budget; separation and
			// enhancement are bounded by model inference on full tracks.
			Separation:  StageLimits{Queue: "separation", SoftLimitSeconds: 600, HardLimitSeconds: 900, Workers: 2},
			Extraction:  StageLimits{Queue: "extraction", SoftLimitSeconds: 300, HardLimitSeconds: 450, Workers: 2},
			Fusion:      StageLimits{Queue: "fusion", SoftLimitSeconds: 1200, HardLimitSeconds: 1800, Workers: 1},
			Enhancement: StageLimits{Queue: "enhancement", SoftLimitSeconds: 300, HardLimitSeconds: 450, Workers: 2},
		},
		Processing: Processing{
			SeparatorURL:   "http://localhost:8301",
			AnalyzerURL:    "http://localhost:8302",
			GeneratorURL:   "http://localhost:8303",
			EnhancerURL:    "http://localhost:8304",
			RequestTimeout: defaultRequestTimeout,
			MaxAttempts:    defaultMaxAttempts,
			RetryBackoffMS: defaultRetryBackoffMS,
		},
		Storage: Storage{
			RetryAttempts:  defaultMaxAttempts,
			RetryBackoffMS: defaultRetryBackoffMS,
		},
		Janitor: Janitor{
			RetentionHours:       defaultRetentionHours,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Workflow: Workflow{
			ClaimWaitSeconds:       defaultClaimWaitSeconds,
			ErrorRetryInterval:     defaultErrorRetryInterval,
			HeartbeatInterval:      defaultHeartbeatInterval,
			ReclaimIntervalSeconds: defaultReclaimIntervalSeconds,
			MaxDeliveries:          defaultMaxDeliveries,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
		},
		Logging: Logging{
			Level:         defaultLogLevel,
			Format:        defaultLogFormat,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
