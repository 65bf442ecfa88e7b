package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port=0")
	}

	cfg.Gateway.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_PortBoundary(t *testing.T) {
	cfg := Defaults()

	cfg.Gateway.Port = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("port=1 should be valid: %v", err)
	}

	cfg.Gateway.Port = 65535
	if err := Validate(cfg); err != nil {
		t.Fatalf("port=65535 should be valid: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Level = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := Defaults()
		cfg.Logging.Level = level
		if err := Validate(cfg); err != nil {
			t.Fatalf("level %q should be valid: %v", level, err)
		}
	}
}

func TestValidate_InvalidTier(t *testing.T) {
	cfg := Defaults()
	cfg.Engines.WebClient.Tier = "enterprise"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid tier")
	}
}

func TestValidate_InvalidWebhookConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Webhooks.RetryDelayS = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for retryDelaySeconds=0")
	}

	cfg = Defaults()
	cfg.Webhooks.QueueCapacity = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for queueCapacity=0")
	}
}

func TestValidate_SessionSeeds(t *testing.T) {
	cfg := Defaults()
	cfg.Sessions = []SessionSeed{{Name: "default", Engine: "webclient"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("valid session seed rejected: %v", err)
	}

	cfg.Sessions = []SessionSeed{{Name: "bad", Engine: "smoke-signal"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown engine")
	}

	cfg.Sessions = []SessionSeed{
		{Name: "dup", Engine: "telegram"},
		{Name: "dup", Engine: "discord"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for duplicate session name")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Gateway.Host = "0.0.0.0"
	original.Engines.Telegram.Token = "bot-token"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Gateway.Host != "0.0.0.0" {
		t.Fatalf("expected '0.0.0.0', got %q", loaded.Gateway.Host)
	}
	if loaded.Engines.Telegram.Token != "bot-token" {
		t.Fatalf("expected 'bot-token', got %q", loaded.Engines.Telegram.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"gateway": {
			"port": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for port=0")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "gateway.host")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "127.0.0.1" {
		t.Fatalf("expected '127.0.0.1', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "gateway.host", "0.0.0.0"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Fatalf("expected '0.0.0.0', got %q", cfg.Gateway.Host)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "media.download", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Media.Download {
		t.Fatal("expected media.download=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "gateway.port", "8080"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Gateway.Port != 8080 {
		t.Fatalf("expected 8080, got %d", cfg.Gateway.Port)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.APIKey = "gw-key-1234567890abcdef"
	cfg.Engines.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Engines.CloudAPI.AccessToken = "EAAB-access-token-12345678"

	sanitized := Sanitize(cfg)

	if sanitized.Gateway.APIKey == cfg.Gateway.APIKey {
		t.Fatal("gateway API key should be masked")
	}
	if sanitized.Engines.Telegram.Token == cfg.Engines.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Engines.CloudAPI.AccessToken == cfg.Engines.CloudAPI.AccessToken {
		t.Fatal("cloud API access token should be masked")
	}
	// Verify original is untouched
	if cfg.Engines.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Engines.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Engines.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Engines.Telegram.Token)
	}
}

func TestSanitize_MasksAppSecretAndProxyPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Engines.CloudAPI.AppSecret = "meta-app-secret-12345678"
	cfg.Engines.WebClient.Proxy.Password = "proxy-pass"
	sanitized := Sanitize(cfg)

	if sanitized.Engines.CloudAPI.AppSecret != "***" {
		t.Fatal("appSecret should be fully masked")
	}
	if sanitized.Engines.WebClient.Proxy.Password != "***" {
		t.Fatal("proxy password should be fully masked")
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	// Check some known paths exist
	for _, expected := range []string{"gateway.host", "gateway.port", "media.download", "logging.level"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_PureStrings(t *testing.T) {
	input := `["a", "b", "c"]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 3 || list[0] != "a" {
		t.Fatalf("unexpected: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	err := json.Unmarshal([]byte(`not json`), &list)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	// Ensure the var is unset
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_MultipleVars(t *testing.T) {
	t.Setenv("HOST", "localhost")
	t.Setenv("PORT", "3000")
	result := ExpandEnvVars(`"${HOST}:${PORT}"`)
	expected := `"localhost:3000"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	input := `{"key": "value", "number": 42}`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_CHATGATE_API_KEY", "secret-key")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"gateway": {
			"host": "127.0.0.1",
			"port": 3000,
			"apiKey": "${TEST_CHATGATE_API_KEY}"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.APIKey != "secret-key" {
		t.Fatalf("expected apiKey 'secret-key', got %q", cfg.Gateway.APIKey)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Storage.Dir == "" {
		t.Fatal("storage dir should not be empty")
	}
	if cfg.Engines.WebClient.Tier != "core" {
		t.Fatalf("default tier should be 'core', got %q", cfg.Engines.WebClient.Tier)
	}
}
