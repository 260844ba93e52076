package usage

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Provider identifies a supported assistant tool
type Provider string

const (
	ProviderCodex  Provider = "codex"
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
)

// Providers is the fixed iteration order used for every snapshot.
var Providers = []Provider{ProviderCodex, ProviderClaude, ProviderGemini}

// ParseProvider converts a provider name into a Provider
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", eris.Errorf("unknown provider %q", name)
}

// Title returns the display name of the provider
func (p Provider) Title() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// Source records which inputs contributed to a merged record
type Source string

const (
	SourceParsed Source = "parsed"
	SourceManual Source = "manual"
	SourceMixed  Source = "mixed"
)

// Health is the coarse classification of a merged record
type Health string

const (
	HealthOK      Health = "ok"
	HealthPartial Health = "partial"
	HealthError   Health = "error"
)

// Observation is what an extractor found in a provider's local artifact.
// A nil field means "not found", never zero.
type Observation struct {
	SessionUsedPct  *float64
	SessionResetsAt *time.Time
	WeeklyUsedPct   *float64
	WeeklyResetsAt  *time.Time
	Notes           []string
	Details         *ClaudeDetails
}

func (o Observation) any() bool {
	return o.SessionUsedPct != nil || o.SessionResetsAt != nil ||
		o.WeeklyUsedPct != nil || o.WeeklyResetsAt != nil
}

// ManualOverride holds the user-configured fallback values for one provider
type ManualOverride struct {
	SessionUsedPct *float64   `yaml:"session_used_pct,omitempty" toml:"session_used_pct,omitempty" json:"session_used_pct,omitempty"`
	SessionResetAt *time.Time `yaml:"session_reset_at,omitempty" toml:"session_reset_at,omitempty" json:"session_reset_at,omitempty"`
	WeeklyUsedPct  *float64   `yaml:"weekly_used_pct,omitempty" toml:"weekly_used_pct,omitempty" json:"weekly_used_pct,omitempty"`
	WeeklyResetAt  *time.Time `yaml:"weekly_reset_at,omitempty" toml:"weekly_reset_at,omitempty" json:"weekly_reset_at,omitempty"`
}

// Any reports whether at least one override value is set
func (m ManualOverride) Any() bool {
	return m.SessionUsedPct != nil || m.SessionResetAt != nil ||
		m.WeeklyUsedPct != nil || m.WeeklyResetAt != nil
}

// StatusRecord is the reconciled state of one provider for one collection cycle
type StatusRecord struct {
	Provider        Provider       `json:"provider"`
	Status          Health         `json:"status"`
	SessionUsedPct  *float64       `json:"session_limit_percent_used"`
	SessionResetsAt *time.Time     `json:"session_resets_at"`
	WeeklyUsedPct   *float64       `json:"weekly_limit_percent_used"`
	WeeklyResetsAt  *time.Time     `json:"weekly_resets_at"`
	Source          Source         `json:"source"`
	LastUpdatedAt   time.Time      `json:"last_updated_at"`
	Messages        []string       `json:"messages"`
	Details         *ClaudeDetails `json:"details,omitempty"`
}

// Snapshot is one collection cycle: every enabled provider in Providers order
type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Providers   []StatusRecord `json:"providers"`
}

// Find returns the record for a provider, if the snapshot holds one
func (s Snapshot) Find(p Provider) (StatusRecord, bool) {
	for _, rec := range s.Providers {
		if rec.Provider == p {
			return rec, true
		}
	}
	return StatusRecord{}, false
}

// TokenUsage represents token counts from a Claude session log entry
type TokenUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// Add adds another TokenUsage to this one
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationInputTokens += other.CacheCreationInputTokens
	t.CacheReadInputTokens += other.CacheReadInputTokens
}

// Direct returns input plus output tokens, leaving out cache traffic
func (t TokenUsage) Direct() int64 {
	return t.InputTokens + t.OutputTokens
}

// ClaudeDetails are derived from ~/.claude/projects session logs. They are
// informational and never feed the four reconciled fields.
type ClaudeDetails struct {
	SessionFile          string             `json:"session_file"`
	SessionTokens        int64              `json:"session_tokens"`
	SessionMessages      int                `json:"session_messages"`
	WeeklyTokens         int64              `json:"weekly_tokens"`
	TokenLimitP90        int64              `json:"token_limit_p90"`
	MessageLimitP90      int64              `json:"message_limit_p90"`
	TokenUsagePct        float64            `json:"token_usage_pct"`
	MessageUsagePct      float64            `json:"message_usage_pct"`
	WeeklyEstimatePct    float64            `json:"weekly_estimate_pct"`
	BurnRateTokensPerMin float64            `json:"burn_rate_tokens_per_min"`
	PredictedRunoutAt    *time.Time         `json:"predicted_tokens_runout_at"`
	SessionResetAt       time.Time          `json:"session_reset_at"`
	ModelDistribution    map[string]float64 `json:"model_distribution"`
	EstimatedCostUSD     float64            `json:"estimated_cost_usd"`
}
