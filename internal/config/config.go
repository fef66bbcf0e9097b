package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	RecordingsDir string            `yaml:"recordings_dir"`
	Audio         AudioConfig       `yaml:"audio"`
	Playback      PlaybackConfig    `yaml:"playback"`
	Recognition   RecognitionConfig `yaml:"recognition"`
	Hotkey        HotkeyConfig      `yaml:"hotkey"`
	Server        ServerConfig      `yaml:"server"`
	LogLevel      string            `yaml:"log_level"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate  uint32        `yaml:"sample_rate"`
	Channels    uint32        `yaml:"channels"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// PlaybackConfig holds playback clock settings.
type PlaybackConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// RecognitionConfig holds speech recognition settings.
type RecognitionConfig struct {
	URL         string        `yaml:"url"`       // Vosk websocket server
	OnDevice    bool          `yaml:"on_device"` // batch requests must stay on this machine
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// HotkeyConfig holds the key combos for each command. An empty combo
// disables that command's hotkey.
type HotkeyConfig struct {
	Record []string `yaml:"record"` // toggles recording
	Play   []string `yaml:"play"`   // toggles playback
	Reset  []string `yaml:"reset"`
}

// ServerConfig holds the HTTP control surface settings.
type ServerConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-replay")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		RecordingsDir: filepath.Join(home, ".local", "share", "gostt-replay", "recordings"),
		Audio: AudioConfig{
			SampleRate:  44100,
			Channels:    1,
			SettleDelay: 200 * time.Millisecond,
		},
		Playback: PlaybackConfig{
			TickInterval: 100 * time.Millisecond,
		},
		Recognition: RecognitionConfig{
			URL:         "ws://127.0.0.1:2700",
			OnDevice:    true,
			DialTimeout: 5 * time.Second,
		},
		Hotkey: HotkeyConfig{
			Record: []string{"ctrl", "shift", "r"},
			Play:   []string{"ctrl", "shift", "p"},
			Reset:  []string{"ctrl", "shift", "x"},
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in recordings_dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.RecordingsDir = expandTilde(cfg.RecordingsDir)

	return cfg, nil
}

// LoadDotenv loads KEY=value pairs from path into the process environment.
// Variables already set are left alone, and a missing file is not an error.
func LoadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from GOSTT_* variables. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GOSTT_RECORDINGS_DIR"); ok {
		c.RecordingsDir = expandTilde(v)
	}
	if v, ok := lookup("GOSTT_RECOGNITION_URL"); ok {
		c.Recognition.URL = v
	}
	if v, ok := lookup("GOSTT_RECOGNITION_ON_DEVICE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GOSTT_RECOGNITION_ON_DEVICE: %w", err)
		}
		c.Recognition.OnDevice = b
	}
	if v, ok := lookup("GOSTT_SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := lookup("GOSTT_LOG_LEVEL"); ok {
		c.LogLevel = strings.ToLower(v)
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir must not be empty")
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.Audio.SettleDelay < 0 {
		return fmt.Errorf("audio.settle_delay must not be negative")
	}

	if c.Playback.TickInterval <= 0 {
		return fmt.Errorf("playback.tick_interval must be > 0")
	}

	if c.Recognition.URL != "" {
		u, err := url.Parse(c.Recognition.URL)
		if err != nil {
			return fmt.Errorf("recognition.url: %w", err)
		}
		switch u.Scheme {
		case "ws", "wss":
		default:
			return fmt.Errorf("recognition.url must use ws or wss, got %q", u.Scheme)
		}
	}

	if len(c.Hotkey.Record) == 0 {
		return fmt.Errorf("hotkey.record must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WriteDefault writes the default config to DefaultConfigPath and returns
// the path. If a config file already exists it is left untouched and ""
// is returned.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	header := "# gostt-replay configuration\n# Durations use Go syntax (200ms, 5s).\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
