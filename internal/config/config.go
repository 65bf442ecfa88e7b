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

// Config is the root configuration for chatgate.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Storage  StorageConfig  `json:"storage"`
	Media    MediaConfig    `json:"media"`
	Webhooks WebhooksConfig `json:"webhooks"`
	Engines  EnginesConfig  `json:"engines"`
	Sessions []SessionSeed  `json:"sessions,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
}

type GatewayConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"apiKey,omitempty"`
}

type StorageConfig struct {
	Dir           string `json:"dir"`
	BaseURL       string `json:"baseUrl,omitempty"` // external prefix for file URLs; derived from gateway when empty
	RetentionDays int    `json:"retentionDays"`     // media files older than this are purged
}

type MediaConfig struct {
	DBPath   string `json:"dbPath"`
	Download bool   `json:"download"` // default for sessions that do not set it explicitly
}

type WebhooksConfig struct {
	Dir           string `json:"dir"`
	MaxRetries    int    `json:"maxRetries"`
	RetryDelayS   int    `json:"retryDelaySeconds"`
	TimeoutS      int    `json:"timeoutSeconds"`
	QueueCapacity int    `json:"queueCapacity"`
}

type EnginesConfig struct {
	WebClient WebClientConfig `json:"webclient"`
	Telegram  TelegramConfig  `json:"telegram"`
	CloudAPI  CloudAPIConfig  `json:"cloudapi"`
	Discord   DiscordConfig   `json:"discord,omitempty"`
}

type WebClientConfig struct {
	ProfileDir string            `json:"profileDir"`
	Headless   bool              `json:"headless"`
	Tier       string            `json:"tier"` // "core" | "plus"
	Proxy      ProxyConfig       `json:"proxy,omitempty"`
	Selectors  map[string]string `json:"selectors,omitempty"`
	PollMS     int               `json:"pollMilliseconds,omitempty"`
}

type ProxyConfig struct {
	Server   string `json:"server,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type TelegramConfig struct {
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom,omitempty"`
}

type CloudAPIConfig struct {
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	AppSecret     string `json:"appSecret,omitempty"`
	APIBase       string `json:"apiBase,omitempty"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to a single guild
}

// SessionSeed describes a session the daemon starts automatically on boot.
type SessionSeed struct {
	Name          string `json:"name"`
	Engine        string `json:"engine"`
	DownloadMedia *bool  `json:"downloadMedia,omitempty"` // nil falls back to media.download
}

type LoggingConfig struct {
	Level string `json:"level"`          // "debug" | "info" | "warn" | "error"
	File  string `json:"file,omitempty"` // optional log file path
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
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

// DefaultConfigDir returns the default config directory (~/.chatgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatgate"
	}
	return filepath.Join(home, ".chatgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.Dir = ExpandPath(cfg.Storage.Dir)
	cfg.Media.DBPath = ExpandPath(cfg.Media.DBPath)
	cfg.Webhooks.Dir = ExpandPath(cfg.Webhooks.Dir)
	cfg.Engines.WebClient.ProfileDir = ExpandPath(cfg.Engines.WebClient.ProfileDir)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Gateway.Port < 1 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	switch cfg.Engines.WebClient.Tier {
	case "", "core", "plus":
		// valid
	default:
		errs = append(errs, "engines.webclient.tier must be one of: core, plus")
	}

	if cfg.Webhooks.MaxRetries < 0 {
		errs = append(errs, "webhooks.maxRetries must be >= 0")
	}
	if cfg.Webhooks.RetryDelayS < 1 {
		errs = append(errs, "webhooks.retryDelaySeconds must be >= 1")
	}
	if cfg.Webhooks.TimeoutS < 1 {
		errs = append(errs, "webhooks.timeoutSeconds must be >= 1")
	}
	if cfg.Webhooks.QueueCapacity < 1 {
		errs = append(errs, "webhooks.queueCapacity must be >= 1")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, "storage.retentionDays must be >= 1")
	}

	seen := make(map[string]bool, len(cfg.Sessions))
	for i, s := range cfg.Sessions {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("sessions[%d]: name is required", i))
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("sessions[%d]: duplicate session name %q", i, s.Name))
		}
		seen[s.Name] = true
		switch s.Engine {
		case "webclient", "telegram", "cloudapi", "discord":
			// valid
		default:
			errs = append(errs, fmt.Sprintf("sessions[%d]: unknown engine %q", i, s.Engine))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
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
