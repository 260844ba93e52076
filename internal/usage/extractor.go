package usage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// ParserMode selects whether a provider's local artifact is inspected at all
type ParserMode string

const (
	// ParserHybrid extracts from the local artifact and falls back to manual values.
	ParserHybrid ParserMode = "hybrid"
	// ParserManual skips extraction; only manual values are used.
	ParserManual ParserMode = "manual"
)

// ProviderSettings is the per-provider configuration bundle handed to the core
type ProviderSettings struct {
	Enabled    bool
	ParserMode ParserMode
	Manual     ManualOverride
	// SourcePath overrides the extractor's default artifact location.
	SourcePath string
	// ProjectsPath overrides the Claude projects directory used for details.
	ProjectsPath string
}

// Extractor reads one provider's local artifact. Missing or malformed input
// degrades to an empty Observation with a note; only unexpected I/O failures
// are returned as errors.
type Extractor interface {
	Provider() Provider
	Extract(ctx context.Context, settings ProviderSettings) (Observation, error)
}

// Stub is implemented by extractors that read no artifact. parser_mode=manual
// does not skip them, so their note still reaches the record.
type Stub interface {
	IsStub() bool
}

func isStub(ext Extractor) bool {
	s, ok := ext.(Stub)
	return ok && s.IsStub()
}

// ProviderError wraps an I/O failure that aborted one provider's extraction
type ProviderError struct {
	Provider Provider
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Paths holds the default artifact locations for every provider
type Paths struct {
	CodexHistory   string
	ClaudeStats    string
	ClaudeProjects string
}

// DefaultPaths returns the artifact locations under the given home directory
func DefaultPaths(home string) Paths {
	return Paths{
		CodexHistory:   filepath.Join(home, ".codex", "history.jsonl"),
		ClaudeStats:    filepath.Join(home, ".claude", "stats-cache.json"),
		ClaudeProjects: filepath.Join(home, ".claude", "projects"),
	}
}

// DefaultExtractors builds one extractor per provider. now is used to anchor
// reset times and recent-activity windows; nil means time.Now.
func DefaultExtractors(paths Paths, now func() time.Time) map[Provider]Extractor {
	return map[Provider]Extractor{
		ProviderCodex:  &CodexExtractor{HistoryPath: paths.CodexHistory, Now: now},
		ProviderClaude: &ClaudeExtractor{StatsPath: paths.ClaudeStats, ProjectsPath: paths.ClaudeProjects, Now: now},
		ProviderGemini: GeminiExtractor{},
	}
}

func pathOr(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func clockOr(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}

func float64Ptr(v float64) *float64 {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
