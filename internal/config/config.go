package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/valentindosimont/usagedash/internal/fsutil"
	"github.com/valentindosimont/usagedash/internal/usage"
)

const windowsMirrorPath = "/mnt/c/Users/Public/AppData/Local/UsageDash/latest.json"

type GeneralConfig struct {
	RefreshSeconds       int    `yaml:"refresh_seconds" toml:"refresh_seconds"`
	Timezone             string `yaml:"timezone" toml:"timezone"`
	StateFile            string `yaml:"state_file" toml:"state_file"`
	WindowsStatePath     string `yaml:"windows_state_path" toml:"windows_state_path"`
	HistoryDB            string `yaml:"history_db" toml:"history_db"`
	HistoryRetentionDays int    `yaml:"history_retention_days" toml:"history_retention_days"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type ProviderConfig struct {
	Enabled      bool                 `yaml:"enabled" toml:"enabled"`
	ParserMode   string               `yaml:"parser_mode" toml:"parser_mode"`
	SourcePath   string               `yaml:"source_path,omitempty" toml:"source_path,omitempty"`
	ProjectsPath string               `yaml:"projects_path,omitempty" toml:"projects_path,omitempty"`
	Manual       usage.ManualOverride `yaml:"manual" toml:"manual"`
}

type ProvidersConfig struct {
	Codex  ProviderConfig `yaml:"codex" toml:"codex"`
	Claude ProviderConfig `yaml:"claude" toml:"claude"`
	Gemini ProviderConfig `yaml:"gemini" toml:"gemini"`
}

type Config struct {
	General   GeneralConfig   `yaml:"general" toml:"general"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Providers ProvidersConfig `yaml:"providers" toml:"providers"`

	home string
}

func Default() *Config {
	mirror := ""
	if runningUnderWSL() {
		mirror = windowsMirrorPath
	}

	return &Config{
		General: GeneralConfig{
			RefreshSeconds:       15,
			Timezone:             "local",
			StateFile:            "~/.local/state/usagedash/latest.json",
			WindowsStatePath:     mirror,
			HistoryDB:            "~/.local/state/usagedash/history.db",
			HistoryRetentionDays: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:9464",
		},
		Providers: ProvidersConfig{
			Codex:  ProviderConfig{Enabled: true, ParserMode: string(usage.ParserHybrid)},
			Claude: ProviderConfig{Enabled: true, ParserMode: string(usage.ParserHybrid)},
			Gemini: ProviderConfig{Enabled: false, ParserMode: string(usage.ParserManual)},
		},
	}
}

func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "usagedash", "config.yaml")
}

// Load reads the config at path, falling back to defaults when it is missing.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, eris.Wrapf(err, "config: read %s", path)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, eris.Wrapf(err, "config: decode %s", path)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, eris.Wrapf(err, "config: decode %s", path)
	}

	return cfg, nil
}

// LoadOrInit loads path and writes the default config there if it does not exist yet
func LoadOrInit(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// Save writes the config atomically in the format implied by the extension
func (c *Config) Save(path string) error {
	data, err := c.Marshal(path)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return eris.Wrap(err, "config: save")
	}
	return nil
}

// Marshal encodes the config as TOML or YAML depending on path's extension
func (c *Config) Marshal(path string) ([]byte, error) {
	if isTOML(path) {
		var buf strings.Builder
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, eris.Wrap(err, "config: encode toml")
		}
		return []byte(buf.String()), nil
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "config: encode yaml")
	}
	return data, nil
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.General.RefreshSeconds) * time.Second
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.General.HistoryRetentionDays) * 24 * time.Hour
}

// Location resolves general.timezone; "local" and "" mean the system zone
func (c *Config) Location() (*time.Location, error) {
	switch tz := strings.TrimSpace(c.General.Timezone); strings.ToLower(tz) {
	case "", "local":
		return time.Local, nil
	default:
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, eris.Wrapf(err, "config: timezone %q", tz)
		}
		return loc, nil
	}
}

// Clock returns a time source in the configured timezone
func (c *Config) Clock() func() time.Time {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	return func() time.Time { return time.Now().In(loc) }
}

// Provider returns the config block of one provider
func (c *Config) Provider(p usage.Provider) *ProviderConfig {
	switch p {
	case usage.ProviderCodex:
		return &c.Providers.Codex
	case usage.ProviderClaude:
		return &c.Providers.Claude
	case usage.ProviderGemini:
		return &c.Providers.Gemini
	default:
		return nil
	}
}

// ProviderSettings converts one provider block into what the collector consumes
func (c *Config) ProviderSettings(p usage.Provider) usage.ProviderSettings {
	pc := c.Provider(p)
	if pc == nil {
		return usage.ProviderSettings{}
	}
	mode := usage.ParserMode(strings.ToLower(pc.ParserMode))
	if mode == "" {
		mode = usage.ParserHybrid
	}
	return usage.ProviderSettings{
		Enabled:      pc.Enabled,
		ParserMode:   mode,
		Manual:       pc.Manual,
		SourcePath:   c.expand(pc.SourcePath),
		ProjectsPath: c.expand(pc.ProjectsPath),
	}
}

// Settings returns ProviderSettings for every known provider
func (c *Config) Settings() map[usage.Provider]usage.ProviderSettings {
	out := make(map[usage.Provider]usage.ProviderSettings, len(usage.Providers))
	for _, p := range usage.Providers {
		out[p] = c.ProviderSettings(p)
	}
	return out
}

// Paths returns the effective artifact locations, overrides applied
func (c *Config) Paths() usage.Paths {
	paths := usage.DefaultPaths(c.homeDir())
	if p := c.expand(c.Providers.Codex.SourcePath); p != "" {
		paths.CodexHistory = p
	}
	if p := c.expand(c.Providers.Claude.SourcePath); p != "" {
		paths.ClaudeStats = p
	}
	if p := c.expand(c.Providers.Claude.ProjectsPath); p != "" {
		paths.ClaudeProjects = p
	}
	return paths
}

func (c *Config) StateFile() string {
	return c.expand(c.General.StateFile)
}

// MirrorPath is the secondary snapshot location, empty when disabled
func (c *Config) MirrorPath() string {
	if strings.EqualFold(c.General.WindowsStatePath, "none") {
		return ""
	}
	return c.expand(c.General.WindowsStatePath)
}

// HistoryDB is the sqlite history location, empty when disabled
func (c *Config) HistoryDB() string {
	if strings.EqualFold(c.General.HistoryDB, "none") {
		return ""
	}
	return c.expand(c.General.HistoryDB)
}

// WithHome overrides the directory "~" expands to
func (c *Config) WithHome(home string) *Config {
	c.home = home
	return c
}

func (c *Config) homeDir() string {
	if c.home != "" {
		return c.home
	}
	home, _ := os.UserHomeDir()
	return home
}

func (c *Config) expand(path string) string {
	if path == "~" {
		return c.homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(c.homeDir(), path[2:])
	}
	return path
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func runningUnderWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	_, err := os.Stat("/proc/sys/fs/binfmt_misc/WSLInterop")
	return err == nil
}
