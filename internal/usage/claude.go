package usage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

const (
	claudeSessionProbe = "limits.session.percent_used"
	claudeWeeklyProbe  = "limits.weekly.percent_used"
)

// ClaudeExtractor reads percent-used values from Claude's stats cache and,
// when session logs exist, attaches token-based details.
type ClaudeExtractor struct {
	StatsPath    string
	ProjectsPath string
	Now          func() time.Time
}

func (e *ClaudeExtractor) Provider() Provider {
	return ProviderClaude
}

func (e *ClaudeExtractor) Extract(ctx context.Context, settings ProviderSettings) (Observation, error) {
	path := pathOr(settings.SourcePath, e.StatsPath)

	var obs Observation
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		obs.Notes = append(obs.Notes, "missing "+path)
	case err != nil:
		return Observation{}, &ProviderError{Provider: ProviderClaude, Err: eris.Wrapf(err, "read %s", path)}
	case !gjson.ValidBytes(data):
		obs.Notes = append(obs.Notes, "malformed "+path)
	default:
		if v, ok := probePercent(data, claudeSessionProbe); ok {
			obs.SessionUsedPct = float64Ptr(v)
		}
		if v, ok := probePercent(data, claudeWeeklyProbe); ok {
			obs.WeeklyUsedPct = float64Ptr(v)
		}
		if obs.SessionUsedPct == nil && obs.WeeklyUsedPct == nil {
			obs.Notes = append(obs.Notes, "could not infer usage values from .claude/stats-cache.json; use providers.claude.manual.*")
		}
	}

	projects := pathOr(settings.ProjectsPath, e.ProjectsPath)
	if projects != "" {
		details, note := projectDetails(ctx, projects, clockOr(e.Now))
		obs.Details = details
		if note != "" {
			obs.Notes = append(obs.Notes, note)
		}
	}

	return obs, nil
}

// projectDetails analyzes the session logs under dir and explains the outcome
// in a note. A canceled context yields neither details nor a note.
func projectDetails(ctx context.Context, dir string, now time.Time) (*ClaudeDetails, string) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, "missing " + dir
	}

	details, err := AnalyzeProjects(ctx, dir, now)
	switch {
	case ctx.Err() != nil:
		return nil, ""
	case errors.Is(err, ErrNoSessionLogs):
		return nil, "no Claude session files found in " + dir
	case errors.Is(err, ErrNoUsageTokens):
		return nil, ErrNoUsageTokens.Error()
	case err != nil:
		return nil, "could not read project logs: " + err.Error()
	case details.SessionTokens <= 0 && details.WeeklyTokens <= 0:
		return nil, ErrNoUsageTokens.Error()
	}
	return details, "derived Claude metrics from current session file: " + details.SessionFile
}

// probePercent reads a numeric value at a dotted path. Missing keys and
// non-numeric values both report ok=false.
func probePercent(data []byte, path string) (float64, bool) {
	res := gjson.GetBytes(data, path)
	if res.Type != gjson.Number {
		return 0, false
	}
	return res.Float(), true
}
