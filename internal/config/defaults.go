package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 8,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DBPath: "~/.orderbot/orders.db",
		},
		Session: SessionConfig{
			IdleTimeoutMinutes: 120,
		},
		Orders: OrdersConfig{
			InitialStatusCode:      1,
			InProductionSettingKey: "status_em_producao",
			DefaultLeadTimeDays:    30,
			InitialStageID:         1,
			SearchLimit:            20,
		},
		Images: ImagesConfig{
			MaxBytes:     10 * 1024 * 1024,
			JPEGQuality:  85,
			MaxDimension: 2048,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 30,
			Burst:     5,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				WebhookPath: "/webhook/whatsapp",
			},
			Webhook: WebhookConfig{
				Path: "/api/messages",
			},
			CLI: CLIConfig{
				Enabled: true,
				ChatID:  "local",
			},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
	}
}
