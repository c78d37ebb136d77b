package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// FileName is the profile config file inside a profile directory.
const FileName = "config.toml"

// IPCConfig defines socket settings.
type IPCConfig struct {
	SocketPath    string `toml:"socketPath"`
	MaxFrameBytes int    `toml:"maxFrameBytes"`
}

// StorageConfig defines SQLite tuning options.
type StorageConfig struct {
	DBPath           string `toml:"dbPath"`
	JournalMode      string `toml:"journalMode"`
	Synchronous      string `toml:"synchronous"`
	JournalRetention string `toml:"journalRetention"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	Format      string `toml:"format"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
	FileBackups int    `toml:"fileMaxBackups"`
}

// SDKConfig selects and tunes the authentication SDK.
type SDKConfig struct {
	Provider       string `toml:"provider"`
	Issuer         string `toml:"issuer"`
	SigningKeyPath string `toml:"signingKeyPath"`
	Latency        string `toml:"latency"`
}

// ProfileConfig aggregates service configuration for a profile.
type ProfileConfig struct {
	ProfileName string        `toml:"profileName"`
	Storage     StorageConfig `toml:"storage"`
	IPC         IPCConfig     `toml:"ipc"`
	Logging     LoggingConfig `toml:"logging"`
	SDK         SDKConfig     `toml:"sdk"`
}

// envOverrides holds raw W3A_* values applied on top of the file.
type envOverrides struct {
	DBPath     string `env:"W3A_DB_PATH"`
	SocketPath string `env:"W3A_SOCKET_PATH"`
	LogLevel   string `env:"W3A_LOG_LEVEL"`
	LogFormat  string `env:"W3A_LOG_FORMAT"`
	LogFile    string `env:"W3A_LOG_FILE"`
	SDKIssuer  string `env:"W3A_SDK_ISSUER"`
	SDKLatency string `env:"W3A_SDK_LATENCY"`
}

// DefaultProfile returns the config written by `w3actl init`.
func DefaultProfile(name string) *ProfileConfig {
	if name == "" {
		name = "default"
	}
	return &ProfileConfig{
		ProfileName: name,
		Storage: StorageConfig{
			DBPath:           "state.db",
			JournalMode:      "WAL",
			Synchronous:      "NORMAL",
			JournalRetention: "168h",
		},
		IPC: IPCConfig{
			SocketPath:    "w3ad.sock",
			MaxFrameBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "console",
			FileMaxSize: 10,
			FileBackups: 3,
		},
		SDK: SDKConfig{
			Provider: "sandbox",
		},
	}
}

// Load reads config.toml from the provided path and applies env overrides.
func Load(path string) (*ProfileConfig, error) {
	cfg := &ProfileConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadProfile reads the config.toml inside profileDir.
func LoadProfile(profileDir string) (*ProfileConfig, error) {
	return Load(filepath.Join(profileDir, FileName))
}

// Save writes cfg as TOML, creating parent directories.
func Save(path string, cfg *ProfileConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ResolvePath makes path absolute relative to profileDir. Empty stays empty.
func ResolvePath(profileDir, path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(profileDir, path)
}

// LatencyDuration parses SDK.Latency. Empty means no latency.
func (cfg *ProfileConfig) LatencyDuration() (time.Duration, error) {
	return parseDuration("sdk.latency", cfg.SDK.Latency)
}

// RetentionDuration parses Storage.JournalRetention. Zero keeps everything.
func (cfg *ProfileConfig) RetentionDuration() (time.Duration, error) {
	return parseDuration("storage.journalRetention", cfg.Storage.JournalRetention)
}

func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func (cfg *ProfileConfig) applyEnv() error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Storage.DBPath, raw.DBPath)
	set(&cfg.IPC.SocketPath, raw.SocketPath)
	set(&cfg.Logging.Level, raw.LogLevel)
	set(&cfg.Logging.Format, raw.LogFormat)
	set(&cfg.Logging.FilePath, raw.LogFile)
	set(&cfg.SDK.Issuer, raw.SDKIssuer)
	set(&cfg.SDK.Latency, raw.SDKLatency)
	return nil
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath required")
	}
	if cfg.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socketPath required")
	}
	if cfg.IPC.MaxFrameBytes < 0 {
		return fmt.Errorf("ipc.maxFrameBytes must not be negative")
	}
	if cfg.SDK.Provider == "" {
		cfg.SDK.Provider = "sandbox"
	}
	if cfg.SDK.Provider != "sandbox" {
		return fmt.Errorf("sdk.provider %q not supported", cfg.SDK.Provider)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format %q not supported", cfg.Logging.Format)
	}
	if _, err := cfg.LatencyDuration(); err != nil {
		return err
	}
	if _, err := cfg.RetentionDuration(); err != nil {
		return err
	}
	return nil
}
