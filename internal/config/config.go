package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration of the order bot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Storage   StorageConfig   `json:"storage"`
	Session   SessionConfig   `json:"session"`
	Orders    OrdersConfig    `json:"orders"`
	Images    ImagesConfig    `json:"images"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Channels  ChannelsConfig  `json:"channels"`
	Server    ServerConfig    `json:"server"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
}

type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" | "postgres"
	DBPath string `json:"dbPath,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

// DataSource returns the driver-specific connection string.
func (s StorageConfig) DataSource() string {
	if s.Driver == "postgres" {
		return s.DSN
	}
	return s.DBPath
}

type SessionConfig struct {
	IdleTimeoutMinutes int `json:"idleTimeoutMinutes"` // 0 disables expiry
}

type OrdersConfig struct {
	InitialStatusCode      int    `json:"initialStatusCode"`
	InProductionSettingKey string `json:"inProductionSettingKey"`
	DefaultLeadTimeDays    int    `json:"defaultLeadTimeDays"`
	InitialStageID         int64  `json:"initialStageId"`
	SearchLimit            int    `json:"searchLimit"`
}

type ImagesConfig struct {
	MaxBytes     int `json:"maxBytes"`
	JPEGQuality  int `json:"jpegQuality"`
	MaxDimension int `json:"maxDimension"`
}

type RateLimitConfig struct {
	PerMinute float64 `json:"perMinute"` // per contact; 0 disables
	Burst     int     `json:"burst"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Webhook  WebhookConfig  `json:"webhook"`
	CLI      CLIConfig      `json:"cli"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
	APIBase       string `json:"apiBase,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// WebhookConfig is the synchronous JSON endpoint used by ERP integrations
// and tests.
type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Secret  string `json:"secret,omitempty"`
}

type CLIConfig struct {
	Enabled bool   `json:"enabled"`
	ChatID  string `json:"chatId"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr is host:port for net/http.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that also accepts JSON numbers, so Telegram
// user ids can be written either way.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns ~/.orderbot.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orderbot"
	}
	return filepath.Join(home, ".orderbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, env-expands, defaults and validates a config file.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} and ${VAR:-default}. An unset variable
// without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate collects every problem instead of stopping at the first.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}

	switch cfg.Storage.Driver {
	case "sqlite":
		if cfg.Storage.DBPath == "" {
			errs = append(errs, "storage.dbPath is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Storage.DSN == "" {
			errs = append(errs, "storage.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "storage.driver must be one of: sqlite, postgres")
	}

	if cfg.Session.IdleTimeoutMinutes < 0 {
		errs = append(errs, "session.idleTimeoutMinutes must be >= 0")
	}

	if cfg.Orders.InitialStatusCode < 1 {
		errs = append(errs, "orders.initialStatusCode must be >= 1")
	}
	if cfg.Orders.InProductionSettingKey == "" {
		errs = append(errs, "orders.inProductionSettingKey is required")
	}
	if cfg.Orders.DefaultLeadTimeDays < 0 || cfg.Orders.DefaultLeadTimeDays > 365 {
		errs = append(errs, "orders.defaultLeadTimeDays must be between 0 and 365")
	}
	if cfg.Orders.InitialStageID < 1 {
		errs = append(errs, "orders.initialStageId must be >= 1")
	}
	if cfg.Orders.SearchLimit < 1 || cfg.Orders.SearchLimit > 20 {
		errs = append(errs, "orders.searchLimit must be between 1 and 20")
	}

	if cfg.Images.MaxBytes < 0 {
		errs = append(errs, "images.maxBytes must be >= 0")
	}
	if cfg.Images.JPEGQuality < 1 || cfg.Images.JPEGQuality > 100 {
		errs = append(errs, "images.jpegQuality must be between 1 and 100")
	}

	if cfg.RateLimit.PerMinute < 0 {
		errs = append(errs, "rateLimit.perMinute must be >= 0")
	}
	if cfg.RateLimit.Burst < 1 {
		errs = append(errs, "rateLimit.burst must be >= 1")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.WhatsApp.Enabled {
		if cfg.Channels.WhatsApp.AccessToken == "" || cfg.Channels.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "channels.whatsapp.accessToken and phoneNumberId are required when whatsapp is enabled")
		}
	}
	if cfg.Channels.Webhook.Enabled && !strings.HasPrefix(cfg.Channels.Webhook.Path, "/") {
		errs = append(errs, "channels.webhook.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
