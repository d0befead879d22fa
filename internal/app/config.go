package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	intrnl "relaychat/internal"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RELAYCHAT_"

// ByteSize accepts plain integers or human readable sizes ("5MB", "512 KiB").
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = ByteSize(parsed)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func parseByteSize(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	return int64(n), nil
}

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Server struct {
		Addr           string   `yaml:"addr"`
		Path           string   `yaml:"path"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Registry struct {
		Policy        string        `yaml:"policy"`
		MaxNameLength int           `yaml:"max_name_length"`
		IdleTimeout   time.Duration `yaml:"idle_timeout"`
	} `yaml:"registry"`
	Messages struct {
		MaxLength          int      `yaml:"max_length"`
		MaxAttachmentBytes ByteSize `yaml:"max_attachment_bytes"`
		HistoryLimit       int      `yaml:"history_limit"`
	} `yaml:"messages"`
	Limits struct {
		MessagesPerSecond   float64 `yaml:"messages_per_second"`
		Burst               int     `yaml:"burst"`
		HandshakesPerSecond float64 `yaml:"handshakes_per_second"`
		HandshakeBurst      int     `yaml:"handshake_burst"`
	} `yaml:"limits"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	Username  string
	Peer      string
}

// DefaultServerConfig returns the settings used when nothing is configured.
func DefaultServerConfig() ServerConfig {
	def := intrnl.DefaultOptions()
	var cfg ServerConfig
	cfg.Server.Addr = ":8080"
	cfg.Server.Path = DefaultJoinPath
	cfg.Registry.Policy = string(def.Policy)
	cfg.Registry.MaxNameLength = def.MaxNameLength
	cfg.Registry.IdleTimeout = 10 * time.Minute
	cfg.Messages.MaxLength = def.MaxMessageLength
	cfg.Messages.MaxAttachmentBytes = ByteSize(def.MaxAttachmentBytes)
	cfg.Messages.HistoryLimit = def.HistoryLimit
	cfg.Limits.MessagesPerSecond = def.MessagesPerSecond
	cfg.Limits.Burst = def.MessageBurst
	cfg.Limits.HandshakesPerSecond = def.HandshakesPerSecond
	cfg.Limits.HandshakeBurst = def.HandshakeBurst
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadServerConfig layers the YAML file at path (optional when empty) and
// RELAYCHAT_* environment variables over the defaults, then validates.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %s", path)
			}
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.Server.Path = NormalizeJoinPath(cfg.Server.Path)
	return cfg, cfg.Validate()
}

// LoadDotEnv reads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg from RELAYCHAT_* variables found through lookup.
func ApplyEnv(cfg *ServerConfig, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		value, ok := lookup(EnvPrefix + name)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}
	var errs []error
	setInt := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if v, ok := get(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}

	if v, ok := get("ADDR"); ok {
		cfg.Server.Addr = v
	}
	if v, ok := get("PATH"); ok {
		cfg.Server.Path = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := get("NAME_POLICY"); ok {
		cfg.Registry.Policy = v
	}
	setInt("MAX_NAME_LENGTH", &cfg.Registry.MaxNameLength)
	if v, ok := get("IDLE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sIDLE_TIMEOUT: %w", EnvPrefix, err))
		} else {
			cfg.Registry.IdleTimeout = d
		}
	}
	setInt("MAX_MESSAGE_LENGTH", &cfg.Messages.MaxLength)
	if v, ok := get("MAX_ATTACHMENT_BYTES"); ok {
		n, err := parseByteSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_ATTACHMENT_BYTES: %w", EnvPrefix, err))
		} else {
			cfg.Messages.MaxAttachmentBytes = ByteSize(n)
		}
	}
	setInt("HISTORY_LIMIT", &cfg.Messages.HistoryLimit)
	setFloat("MESSAGES_PER_SECOND", &cfg.Limits.MessagesPerSecond)
	setInt("MESSAGE_BURST", &cfg.Limits.Burst)
	setFloat("HANDSHAKES_PER_SECOND", &cfg.Limits.HandshakesPerSecond)
	setInt("HANDSHAKE_BURST", &cfg.Limits.HandshakeBurst)
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	return errors.Join(errs...)
}

// Validate rejects settings the hub cannot run with.
func (c ServerConfig) Validate() error {
	var errs []error
	if _, err := intrnl.ParseNamePolicy(c.Registry.Policy); err != nil {
		errs = append(errs, fmt.Errorf("registry.policy: %w", err))
	}
	if c.Registry.MaxNameLength < 0 {
		errs = append(errs, errors.New("registry.max_name_length must not be negative"))
	}
	if c.Registry.IdleTimeout < 0 || (c.Registry.IdleTimeout > 0 && c.Registry.IdleTimeout < MinIdleTimeout) {
		errs = append(errs, fmt.Errorf("registry.idle_timeout must be 0 (disabled) or at least %s", MinIdleTimeout))
	}
	if c.Messages.MaxLength < 0 {
		errs = append(errs, errors.New("messages.max_length must not be negative"))
	}
	if c.Messages.MaxAttachmentBytes < 0 {
		errs = append(errs, errors.New("messages.max_attachment_bytes must not be negative"))
	}
	if c.Limits.MessagesPerSecond < 0 || c.Limits.HandshakesPerSecond < 0 {
		errs = append(errs, errors.New("limits rates must not be negative"))
	}
	if c.Limits.Burst < 0 || c.Limits.HandshakeBurst < 0 {
		errs = append(errs, errors.New("limits bursts must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Options converts the config into hub options.
func (c ServerConfig) Options(log *slog.Logger) intrnl.Options {
	policy, _ := intrnl.ParseNamePolicy(c.Registry.Policy)
	return intrnl.Options{
		Policy:              policy,
		MaxNameLength:       c.Registry.MaxNameLength,
		IdleTimeout:         c.Registry.IdleTimeout,
		MaxMessageLength:    c.Messages.MaxLength,
		MaxAttachmentBytes:  int64(c.Messages.MaxAttachmentBytes),
		HistoryLimit:        c.Messages.HistoryLimit,
		MessagesPerSecond:   c.Limits.MessagesPerSecond,
		MessageBurst:        c.Limits.Burst,
		HandshakesPerSecond: c.Limits.HandshakesPerSecond,
		HandshakeBurst:      c.Limits.HandshakeBurst,
		AllowedOrigins:      c.Server.AllowedOrigins,
		Logger:              log,
	}
}

// MinIdleTimeout is the shortest idle timeout a config may set.
const MinIdleTimeout = time.Second

// DefaultJoinPath is where the websocket endpoint is mounted.
const DefaultJoinPath = "/socket"

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /socket when empty.
func NormalizeJoinPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultJoinPath
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
