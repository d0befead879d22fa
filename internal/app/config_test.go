package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	intrnl "relaychat/internal"
)

func TestLoadServerConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaychat.yaml")
	content := `
server:
  addr: 127.0.0.1:9090
  path: ws
  allowed_origins: ["https://chat.example.com"]
registry:
  policy: unique
  idle_timeout: 90s
messages:
  max_attachment_bytes: 2MiB
  history_limit: 20
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" || cfg.Server.Path != "/ws" {
		t.Fatalf("unexpected server section %+v", cfg.Server)
	}
	if cfg.Registry.Policy != "unique" || cfg.Registry.IdleTimeout != 90*time.Second {
		t.Fatalf("unexpected registry section %+v", cfg.Registry)
	}
	if cfg.Messages.MaxAttachmentBytes != 2*1024*1024 || cfg.Messages.HistoryLimit != 20 {
		t.Fatalf("unexpected messages section %+v", cfg.Messages)
	}
	// keys missing from the file keep their defaults
	if cfg.Messages.MaxLength != intrnl.DefaultOptions().MaxMessageLength || cfg.Log.Level != "info" {
		t.Fatalf("defaults were lost: %+v", cfg)
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected a not found error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RELAYCHAT_ADDR":                 ":7000",
		"RELAYCHAT_ALLOWED_ORIGINS":      "https://a.example, https://b.example ,",
		"RELAYCHAT_NAME_POLICY":          "unique",
		"RELAYCHAT_IDLE_TIMEOUT":         "2m",
		"RELAYCHAT_MAX_ATTACHMENT_BYTES": "1MB",
		"RELAYCHAT_MESSAGES_PER_SECOND":  "2.5",
		"RELAYCHAT_LOG_LEVEL":            "  ",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cfg := DefaultServerConfig()
	if err := ApplyEnv(&cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Server.Addr != ":7000" || len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected server overrides %+v", cfg.Server)
	}
	if cfg.Registry.Policy != "unique" || cfg.Registry.IdleTimeout != 2*time.Minute {
		t.Fatalf("unexpected registry overrides %+v", cfg.Registry)
	}
	if cfg.Messages.MaxAttachmentBytes != 1000*1000 || cfg.Limits.MessagesPerSecond != 2.5 {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Messages, cfg.Limits)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("blank variables must not override, got %q", cfg.Log.Level)
	}

	env = map[string]string{"RELAYCHAT_MAX_NAME_LENGTH": "many", "RELAYCHAT_IDLE_TIMEOUT": "soon"}
	err := ApplyEnv(&cfg, lookup)
	if err == nil || !strings.Contains(err.Error(), "MAX_NAME_LENGTH") || !strings.Contains(err.Error(), "IDLE_TIMEOUT") {
		t.Fatalf("expected both bad variables reported, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	cfg.Registry.IdleTimeout = time.Nanosecond
	cfg.Registry.Policy = "first-wins"
	cfg.Limits.Burst = -1
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"registry.policy", "registry.idle_timeout", "bursts", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateIdleTimeoutFloor(t *testing.T) {
	for idle, ok := range map[time.Duration]bool{0: true, MinIdleTimeout: true, time.Minute: true, time.Nanosecond: false, 500 * time.Millisecond: false, -time.Second: false} {
		cfg := DefaultServerConfig()
		cfg.Registry.IdleTimeout = idle
		if err := cfg.Validate(); (err == nil) != ok {
			t.Fatalf("idle_timeout %s: valid=%v, err=%v", idle, ok, err)
		}
	}
}

func TestOptionsConversion(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Registry.Policy = "UNIQUE"
	cfg.Messages.MaxAttachmentBytes = 1234
	opts := cfg.Options(nil)
	if opts.Policy != intrnl.PolicyUnique || opts.MaxAttachmentBytes != 1234 || opts.IdleTimeout != 10*time.Minute {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestNormalizeJoinPath(t *testing.T) {
	cases := map[string]string{"": "/socket", "  ": "/socket", "chat": "/chat", "/ws": "/ws"}
	for in, want := range cases {
		if got := NormalizeJoinPath(in); got != want {
			t.Fatalf("NormalizeJoinPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("RELAYCHAT_TEST_KEEP=fromfile\nRELAYCHAT_TEST_NEW=fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAYCHAT_TEST_KEEP", "fromenv")
	t.Setenv("RELAYCHAT_TEST_NEW", "")
	os.Unsetenv("RELAYCHAT_TEST_NEW")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("RELAYCHAT_TEST_KEEP"); got != "fromenv" {
		t.Fatalf("existing variable overridden: %q", got)
	}
	if got := os.Getenv("RELAYCHAT_TEST_NEW"); got != "fromfile" {
		t.Fatalf("expected new variable from file, got %q", got)
	}
}
