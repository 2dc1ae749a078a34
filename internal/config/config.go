package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"bizcal/internal/model"
)

// FeedConfig describes one subscribed ICS calendar.
type FeedConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
	// OwnerID assigns the feed's appointments to an owner. 0 makes them
	// visible under every owner filter.
	OwnerID int64 `yaml:"owner_id" json:"owner_id"`
}

func (f FeedConfig) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.URL, validation.Required),
		validation.Field(&f.OwnerID, validation.Min(int64(0))),
	)
}

// BasicAuthConfig enables HTTP Basic Auth on every endpoint except /health.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

func (b *BasicAuthConfig) Validate() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.Username, validation.Required),
		validation.Field(&b.Password, validation.Required),
	)
}

type StorageConfig struct {
	Path        string        `yaml:"path" json:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

func (s *StorageConfig) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Path, validation.Required),
		validation.Field(&s.BusyTimeout, validation.Min(time.Duration(0))),
	)
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone floating ICS times are read in. Dates are
	// always stored as UTC civil dates.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" or "sunday"; used for default week windows.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// HorizonDays / BackfillDays bound the default window around today and
	// the span ICS feeds are expanded over.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// RefreshCron schedules ICS feed refreshes (standard 5-field cron).
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel   string `yaml:"log_level" json:"log_level"`
	LogConsole bool   `yaml:"log_console" json:"log_console"`

	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Colors overrides the per-type event colour, keyed by event type.
	Colors map[string]string `yaml:"colors,omitempty" json:"colors,omitempty"`

	ICS         []FeedConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string       `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "UTC",
		WeekStart:    "monday",
		HorizonDays:  30,
		BackfillDays: 7,
		RefreshCron:  "*/15 * * * *",
		LogLevel:     "info",
		Storage:      StorageConfig{Path: "./var/bizcal.db", BusyTimeout: 5 * time.Second},
		ICS:          []FeedConfig{},
		ICSCacheDir:  "./var/ics-cache",
	}
}

// Normalize fills zero values from DefaultConfig so partial files still
// load.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart == "" {
		c.WeekStart = d.WeekStart
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
	if c.ICS == nil {
		c.ICS = []FeedConfig{}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = d.ICSCacheDir
	}
}

// Validate checks a normalized config.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Listen, validation.Required),
		validation.Field(&c.Timezone, validation.Required, validation.By(validTimezone)),
		validation.Field(&c.WeekStart, validation.In("monday", "sunday")),
		validation.Field(&c.HorizonDays, validation.Min(1)),
		validation.Field(&c.BackfillDays, validation.Min(0)),
		validation.Field(&c.RefreshCron, validation.Required, validation.By(validCron)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Colors, validation.By(validColors)),
		// Each FeedConfig is validated through its own Validate.
		validation.Field(&c.ICS, validation.By(uniqueFeedIDs)),
	); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.BasicAuth != nil {
		if err := c.BasicAuth.Validate(); err != nil {
			return fmt.Errorf("basic_auth: %w", err)
		}
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// FirstWeekday returns the configured start of week.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

func validTimezone(v any) error {
	s, _ := v.(string)
	if _, err := time.LoadLocation(s); err != nil {
		return fmt.Errorf("unknown timezone %q", s)
	}
	return nil
}

func validCron(v any) error {
	s, _ := v.(string)
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", s, err)
	}
	return nil
}

func validColors(v any) error {
	m, _ := v.(map[string]string)
	for k := range m {
		if _, ok := model.ParseEventType(k); !ok {
			return fmt.Errorf("unknown event type %q", k)
		}
	}
	return nil
}

func uniqueFeedIDs(v any) error {
	feeds, _ := v.([]FeedConfig)
	seen := make(map[string]bool, len(feeds))
	for _, f := range feeds {
		if seen[f.ID] {
			return fmt.Errorf("duplicate feed id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// Load reads the YAML config at path, expanding ${VAR} references from the
// environment.
//
// On first run (file missing) the default config is written with 0600
// permissions and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".bizcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
