package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap/zapcore"

	"github.com/valentindosimont/usagedash/internal/usage"
)

var (
	ErrUnknownKey   = eris.New("unknown config key")
	ErrInvalidValue = eris.New("invalid config value")
)

// Keys lists the dotted keys accepted by Set
var Keys = []string{
	"general.refresh_seconds",
	"general.timezone",
	"general.state_file",
	"general.windows_state_path",
	"general.history_db",
	"general.history_retention_days",
	"log.level",
	"log.format",
	"server.addr",
	"providers.<provider>.enabled",
	"providers.<provider>.parser_mode",
	"providers.<provider>.source_path",
	"providers.<provider>.projects_path",
	"providers.<provider>.manual.session_used_pct",
	"providers.<provider>.manual.session_reset_at",
	"providers.<provider>.manual.weekly_used_pct",
	"providers.<provider>.manual.weekly_reset_at",
}

// Set assigns one value by dotted key. "provider." is accepted as an alias
// for "providers.". Manual values accept "none" to clear them.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	if strings.HasPrefix(key, "provider.") {
		key = "providers." + strings.TrimPrefix(key, "provider.")
	}

	switch key {
	case "general.refresh_seconds":
		return setInt(&c.General.RefreshSeconds, key, value)
	case "general.timezone":
		c.General.Timezone = value
		if _, err := c.Location(); err != nil {
			return eris.Wrapf(ErrInvalidValue, "%s: %v", key, err)
		}
		return nil
	case "general.state_file":
		c.General.StateFile = value
		return nil
	case "general.windows_state_path":
		if isNone(value) {
			value = ""
		}
		c.General.WindowsStatePath = value
		return nil
	case "general.history_db":
		c.General.HistoryDB = value
		return nil
	case "general.history_retention_days":
		return setInt(&c.General.HistoryRetentionDays, key, value)
	case "log.level":
		c.Log.Level = value
		return nil
	case "log.format":
		c.Log.Format = value
		return nil
	case "server.addr":
		c.Server.Addr = value
		return nil
	}

	parts := strings.Split(key, ".")
	if len(parts) < 3 || parts[0] != "providers" {
		return eris.Wrapf(ErrUnknownKey, "%s", key)
	}

	p, err := usage.ParseProvider(parts[1])
	if err != nil {
		return eris.Wrapf(ErrUnknownKey, "%s", key)
	}
	pc := c.Provider(p)

	if len(parts) == 3 {
		switch parts[2] {
		case "enabled":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return eris.Wrapf(ErrInvalidValue, "%s: %q is not a boolean", key, value)
			}
			pc.Enabled = b
			return nil
		case "parser_mode":
			mode := usage.ParserMode(strings.ToLower(value))
			if mode != usage.ParserHybrid && mode != usage.ParserManual {
				return eris.Wrapf(ErrInvalidValue, "%s: %q is not hybrid or manual", key, value)
			}
			pc.ParserMode = string(mode)
			return nil
		case "source_path":
			pc.SourcePath = value
			return nil
		case "projects_path":
			pc.ProjectsPath = value
			return nil
		}
		return eris.Wrapf(ErrUnknownKey, "%s", key)
	}

	if len(parts) == 4 && parts[2] == "manual" {
		return c.setManual(&pc.Manual, key, parts[3], value)
	}
	return eris.Wrapf(ErrUnknownKey, "%s", key)
}

func (c *Config) setManual(m *usage.ManualOverride, key, field, value string) error {
	switch field {
	case "session_used_pct":
		return setPercent(&m.SessionUsedPct, key, value)
	case "weekly_used_pct":
		return setPercent(&m.WeeklyUsedPct, key, value)
	case "session_reset_at":
		return c.setTime(&m.SessionResetAt, key, value)
	case "weekly_reset_at":
		return c.setTime(&m.WeeklyResetAt, key, value)
	}
	return eris.Wrapf(ErrUnknownKey, "%s", key)
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return eris.Wrapf(ErrInvalidValue, "%s: %q is not an integer", key, value)
	}
	*dst = n
	return nil
}

func setPercent(dst **float64, key, value string) error {
	if isNone(value) {
		*dst = nil
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return eris.Wrapf(ErrInvalidValue, "%s: %q is not a number", key, value)
	}
	if f < 0 || f > 100 {
		return eris.Wrapf(ErrInvalidValue, "%s: %v is outside 0-100", key, f)
	}
	*dst = &f
	return nil
}

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

// setTime accepts RFC3339 or a zone-less local timestamp in the configured timezone
func (c *Config) setTime(dst **time.Time, key, value string) error {
	if isNone(value) {
		*dst = nil
		return nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		*dst = &t
		return nil
	}

	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			t = t.UTC()
			*dst = &t
			return nil
		}
	}
	return eris.Wrapf(ErrInvalidValue, "%s: %q is not RFC3339 or YYYY-MM-DDTHH:MM", key, value)
}

func isNone(value string) bool {
	return value == "" || strings.EqualFold(value, "none") || strings.EqualFold(value, "null")
}

// Validate reports the first setting that would make collection misbehave
func (c *Config) Validate() error {
	if c.General.RefreshSeconds < 1 {
		return eris.Wrapf(ErrInvalidValue, "general.refresh_seconds must be at least 1, got %d", c.General.RefreshSeconds)
	}
	if c.General.HistoryRetentionDays < 0 {
		return eris.Wrapf(ErrInvalidValue, "general.history_retention_days must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return eris.Wrapf(ErrInvalidValue, "general.timezone: %v", err)
	}
	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return eris.Wrapf(ErrInvalidValue, "log.level %q", c.Log.Level)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return eris.Wrapf(ErrInvalidValue, "log.format %q is not json or console", c.Log.Format)
	}

	for _, p := range usage.Providers {
		pc := c.Provider(p)
		switch usage.ParserMode(strings.ToLower(pc.ParserMode)) {
		case "", usage.ParserHybrid, usage.ParserManual:
		default:
			return eris.Wrapf(ErrInvalidValue, "providers.%s.parser_mode %q is not hybrid or manual", p, pc.ParserMode)
		}
		for name, v := range map[string]*float64{
			"session_used_pct": pc.Manual.SessionUsedPct,
			"weekly_used_pct":  pc.Manual.WeeklyUsedPct,
		} {
			if v != nil && (*v < 0 || *v > 100) {
				return eris.Wrapf(ErrInvalidValue, "providers.%s.manual.%s %v is outside 0-100", p, name, *v)
			}
		}
	}
	return nil
}
