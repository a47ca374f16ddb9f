package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "PLAYSYNC"

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Path is the explicit config file location given on the command line.
// Empty means "search the default locations".
type Path string

// Settings is the serializable configuration
type Settings struct {
	DevToolsURL             string        `toml:"devtools_url" envconfig:"DEVTOOLS_URL"`
	MusicBaseURL            string        `toml:"music_base_url" envconfig:"MUSIC_BASE_URL"`
	MetadataEndpoint        string        `toml:"metadata_endpoint" envconfig:"METADATA_ENDPOINT"`
	ListenAddr              string        `toml:"listen_addr" envconfig:"LISTEN_ADDR"`
	ObserverMode            string        `toml:"observer_mode" envconfig:"OBSERVER_MODE"`
	PollInterval            time.Duration `toml:"poll_interval" envconfig:"POLL_INTERVAL"`
	MetadataPollInterval    time.Duration `toml:"metadata_poll_interval" envconfig:"METADATA_POLL_INTERVAL"`
	NavigationTimeout       time.Duration `toml:"navigation_timeout" envconfig:"NAVIGATION_TIMEOUT"`
	EnrichmentRetryInterval time.Duration `toml:"enrichment_retry_interval" envconfig:"ENRICHMENT_RETRY_INTERVAL"`
	EnrichmentCacheSize     int           `toml:"enrichment_cache_size" envconfig:"ENRICHMENT_CACHE_SIZE"`
	ArtworkDir              string        `toml:"artwork_dir" envconfig:"ARTWORK_DIR"`
	ArtworkSize             int           `toml:"artwork_size" envconfig:"ARTWORK_SIZE"`
	MPRISEnabled            bool          `toml:"mpris_enabled" envconfig:"MPRIS_ENABLED"`
	LogLevel                string        `toml:"log_level" envconfig:"LOG_LEVEL"`
}

// Observer modes
const (
	ModePoll   = "poll"
	ModeEvents = "events"
)

// AppConfig holds application configuration
type AppConfig struct {
	Settings

	path  string
	level zap.AtomicLevel
}

// NewAppConfig creates a new application configuration instance.
// Defaults are overlaid by the TOML file, then by PLAYSYNC_* environment variables.
func NewAppConfig(path Path) (*AppConfig, error) {
	file := string(path)
	if file == "" {
		file = findConfigFile()
	}

	s, err := load(file)
	if err != nil {
		return nil, err
	}

	level, err := zapcore.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, s.LogLevel)
	}

	return &AppConfig{
		Settings: *s,
		path:     file,
		level:    zap.NewAtomicLevelAt(level),
	}, nil
}

// load reads one file (if any) on top of the defaults
func load(file string) (*Settings, error) {
	s := Default()

	if file != "" {
		if _, err := os.Stat(file); err == nil {
			if _, err := toml.DecodeFile(file, s); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", file, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", file, err)
		}
	}

	if err := envconfig.Process(envPrefix, s); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	s.ApplyDefaults()
	s.ArtworkDir = expandPath(s.ArtworkDir)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file the configuration was read from, if any
func (c *AppConfig) Path() string {
	return c.path
}

// Level returns the dynamic log level shared with the logger
func (c *AppConfig) Level() zap.AtomicLevel {
	return c.level
}

// Validate checks value ranges
func (s *Settings) Validate() error {
	if s.ObserverMode != ModePoll && s.ObserverMode != ModeEvents {
		return fmt.Errorf("%w: observer_mode must be %q or %q, got %q", ErrInvalidConfig, ModePoll, ModeEvents, s.ObserverMode)
	}
	if s.PollInterval <= 0 || s.MetadataPollInterval <= 0 {
		return fmt.Errorf("%w: poll intervals must be positive", ErrInvalidConfig)
	}
	if s.NavigationTimeout <= 0 {
		return fmt.Errorf("%w: navigation_timeout must be positive", ErrInvalidConfig)
	}
	if s.EnrichmentCacheSize <= 0 {
		return fmt.Errorf("%w: enrichment_cache_size must be positive", ErrInvalidConfig)
	}
	if s.ArtworkSize <= 0 {
		return fmt.Errorf("%w: artwork_size must be positive", ErrInvalidConfig)
	}
	if s.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	return nil
}

// findConfigFile returns the first existing config file path
func findConfigFile() string {
	if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
		return v
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	p := filepath.Join(xdgConfig, "playsync", "config.toml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// expandPath resolves environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}
