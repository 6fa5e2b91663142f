package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix selects environment overrides, e.g. CALCLOCK_TWELVE_HOUR=true
// or CALCLOCK_BASIC_AUTH__USERNAME=admin for nested keys.
const EnvPrefix = "CALCLOCK_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// BasicAuthConfig enables HTTP Basic Auth when both fields are set.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is everything read from config.yaml and CALCLOCK_* variables.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone the clock face is drawn in. "Local"
	// uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// TwelveHour selects the 720-minute face instead of the 24-hour one.
	TwelveHour bool `yaml:"twelve_hour" json:"twelve_hour"`

	// CalendarURL is the ICS feed shown when a request does not name one.
	// Empty means no calendar; the clock renders without arcs.
	CalendarURL string `yaml:"calendar_url" json:"calendar_url"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for reloading CalendarURL.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// PageRefreshSeconds is how often the HTML page reloads to move the
	// "now" hand. Zero disables it.
	PageRefreshSeconds int `yaml:"page_refresh_seconds" json:"page_refresh_seconds"`

	// CacheDir stores the last good body of every fetched feed.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ProxyPath is the route of the same-origin calendar proxy.
	ProxyPath string `yaml:"proxy_path" json:"proxy_path"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig is the config written on first run.
func DefaultConfig() *Config {
	return &Config{
		Listen:             "127.0.0.1:8080",
		Timezone:           "Local",
		TwelveHour:         false,
		CalendarURL:        "",
		RefreshCron:        "*/15 * * * *",
		PageRefreshSeconds: 60,
		CacheDir:           "./var/ics-cache",
		ProxyPath:          "/calendar-proxy",
		LogLevel:           "info",
		LogFormat:          "text",
		BasicAuth:          nil,
	}
}

// Normalize fills zero values from DefaultConfig and tidies the URL, the
// proxy path and half-set credentials.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	c.CalendarURL = strings.TrimSpace(c.CalendarURL)
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.PageRefreshSeconds < 0 {
		c.PageRefreshSeconds = 0
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.ProxyPath == "" {
		c.ProxyPath = d.ProxyPath
	}
	if !strings.HasPrefix(c.ProxyPath, "/") {
		c.ProxyPath = "/" + c.ProxyPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	// Empty credentials mean auth is off.
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// Validate checks field values after Normalize.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Listen, validation.Required),
		validation.Field(&c.Timezone, validation.Required, validation.By(validTimezone)),
		validation.Field(&c.CalendarURL, validation.By(validCalendarURL)),
		validation.Field(&c.RefreshCron, validation.Required, validation.By(validCron)),
		validation.Field(&c.PageRefreshSeconds, validation.Min(0)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func validTimezone(v any) error {
	s, _ := v.(string)
	if _, err := time.LoadLocation(s); err != nil {
		return errors.New("unknown timezone")
	}
	return nil
}

func validCalendarURL(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return errors.New("must be an absolute URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "webcal", "webcals":
		return nil
	}
	return errors.New("must be http(s) or webcal")
}

func validCron(v any) error {
	s, _ := v.(string)
	if _, err := cron.ParseStandard(s); err != nil {
		return errors.New("invalid cron expression")
	}
	return nil
}

// Load builds a Config by layering defaults, the YAML file and
// CALCLOCK_* environment variables (low -> high precedence).
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms first, so the operator has something to edit.
//   - The result is normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		// First run: create default config file.
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	cfg := *DefaultConfig()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

const fileHeader = "# calclock configuration. Environment variables prefixed with " +
	EnvPrefix + " override these values.\n"

// Save normalizes cfg and writes it as YAML, replacing path atomically.
// The parent directory is created 0700 and the file ends up 0600, since it
// may hold basic auth credentials and a private calendar URL.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return writeAtomic(path, buf.Bytes())
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calclock-config-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Save writes c to path; see the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
