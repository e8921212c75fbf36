package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "twodo.db"
	DefaultAlarm          = "1 day"
	EnvConfigPath         = "TWODO_CONFIG"
	appDirName            = "twodo"
)

var ErrInvalidAlarm = errors.New("alarm accepts only minutes or days")

type Keymap struct {
	Quit       string `toml:"quit"`
	Add        string `toml:"add"`
	Up         string `toml:"up"`
	Down       string `toml:"down"`
	Toggle     string `toml:"toggle"`
	Delete     string `toml:"delete"`
	Detail     string `toml:"detail"`
	Confirm    string `toml:"confirm"`
	Cancel     string `toml:"cancel"`
	Edit       string `toml:"edit"`
	Search     string `toml:"search"`
	NextFilter string `toml:"next_filter"`
}

type LogConfig struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Encoding string `toml:"encoding"`
	File     string `toml:"file"`
}

type HookConfig struct {
	Command   string `toml:"command"`
	PerMinute int    `toml:"per_minute"`
}

type Config struct {
	DBPath        string     `toml:"db_path"`
	DefaultFilter string     `toml:"default_filter"`
	Alarm         string     `toml:"alarm"`
	Automark      bool       `toml:"automark"`
	Log           LogConfig  `toml:"log"`
	Hook          HookConfig `toml:"hook"`
	Keys          Keymap     `toml:"keys"`

	path string
}

// ResolveConfigPath returns $TWODO_CONFIG or the per-user default.
func ResolveConfigPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, appDirName, DefaultConfigFileName), nil
}

// LoadOrCreate reads path, writing the defaults there first when it does
// not exist.
func LoadOrCreate(path string) (Config, error) {
	cfg := defaultConfig()
	cfg.path = path
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.fillDefaults()
	if _, err := ParseAlarm(cfg.Alarm); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Path is the file cfg was loaded from.
func (c Config) Path() string {
	return c.path
}

// DatabasePath resolves a relative db_path against the config file's
// directory.
func (c Config) DatabasePath() string {
	if c.DBPath == "" || c.path == "" || filepath.IsAbs(c.DBPath) || strings.HasPrefix(c.DBPath, "file:") {
		return c.DBPath
	}
	return filepath.Join(filepath.Dir(c.path), c.DBPath)
}

// Save writes cfg to path, creating its directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Lead returns the parsed alarm interval, falling back to the default.
func (c Config) Lead() time.Duration {
	d, err := ParseAlarm(c.Alarm)
	if err != nil {
		d, _ = ParseAlarm(DefaultAlarm)
	}
	return d
}

var alarmPattern = regexp.MustCompile(`^(\d+)\s*(minute|minutes|min|mins|day|days)$`)

// ParseAlarm accepts "N minute(s)" or "N day(s)".
func ParseAlarm(text string) (time.Duration, error) {
	m := alarmPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAlarm, text)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAlarm, text)
	}
	if strings.HasPrefix(m[2], "day") {
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.Duration(n) * time.Minute, nil
}

// FormatAlarm renders d the way ParseAlarm reads it.
func FormatAlarm(d time.Duration) string {
	day := 24 * time.Hour
	if d >= day && d%day == 0 {
		n := int(d / day)
		if n == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", n)
	}
	n := int(d / time.Minute)
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}

func (c *Config) fillDefaults() {
	def := defaultConfig()
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.DefaultFilter == "" {
		c.DefaultFilter = def.DefaultFilter
	}
	if c.Alarm == "" {
		c.Alarm = def.Alarm
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Mode == "" {
		c.Log.Mode = def.Log.Mode
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = def.Log.Encoding
	}
	if c.Hook.PerMinute <= 0 {
		c.Hook.PerMinute = def.Hook.PerMinute
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.Keys.Quit, def.Keys.Quit)
	fill(&c.Keys.Add, def.Keys.Add)
	fill(&c.Keys.Up, def.Keys.Up)
	fill(&c.Keys.Down, def.Keys.Down)
	fill(&c.Keys.Toggle, def.Keys.Toggle)
	fill(&c.Keys.Delete, def.Keys.Delete)
	fill(&c.Keys.Detail, def.Keys.Detail)
	fill(&c.Keys.Confirm, def.Keys.Confirm)
	fill(&c.Keys.Cancel, def.Keys.Cancel)
	fill(&c.Keys.Edit, def.Keys.Edit)
	fill(&c.Keys.Search, def.Keys.Search)
	fill(&c.Keys.NextFilter, def.Keys.NextFilter)
}

func defaultConfig() Config {
	return Config{
		DBPath:        DefaultDBName,
		DefaultFilter: "incomplete",
		Alarm:         DefaultAlarm,
		Log: LogConfig{
			Level:    "info",
			Mode:     "production",
			Encoding: "console",
		},
		Hook: HookConfig{PerMinute: 6},
		Keys: Keymap{
			Quit:       "q",
			Add:        "a",
			Up:         "k",
			Down:       "j",
			Toggle:     " ",
			Delete:     "d",
			Detail:     "enter",
			Confirm:    "enter",
			Cancel:     "esc",
			Edit:       "e",
			Search:     "/",
			NextFilter: "tab",
		},
	}
}
