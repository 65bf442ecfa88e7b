package config

func Defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 3000,
		},
		Storage: StorageConfig{
			Dir:           "~/.chatgate/files",
			RetentionDays: 30,
		},
		Media: MediaConfig{
			DBPath:   "~/.chatgate/media.db",
			Download: true,
		},
		Webhooks: WebhooksConfig{
			Dir:           "~/.chatgate/webhooks",
			MaxRetries:    3,
			RetryDelayS:   2,
			TimeoutS:      15,
			QueueCapacity: 1024,
		},
		Engines: EnginesConfig{
			WebClient: WebClientConfig{
				ProfileDir: "~/.chatgate/profiles",
				Headless:   true,
				Tier:       "core",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
