package usage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	sessionWindow = 5 * time.Hour
	weeklyWindow  = 7 * 24 * time.Hour

	defaultSessionTokenLimit   = 300_000
	defaultSessionMessageLimit = 200
)

var (
	// ErrNoSessionLogs is returned when the projects directory holds no session logs
	ErrNoSessionLogs = eris.New("no claude session files found")
	// ErrNoUsageTokens is returned when session logs exist but none carries usage
	ErrNoUsageTokens = eris.New("no usage tokens found in project logs")
)

// sessionLogEntry is one line of a Claude JSONL session log
type sessionLogEntry struct {
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp"`
	RequestID  string `json:"requestId"`
	RequestID2 string `json:"request_id"`
	UUID       string `json:"uuid"`
	Message    *struct {
		ID    string      `json:"id"`
		Role  string      `json:"role"`
		Model string      `json:"model"`
		Usage *TokenUsage `json:"usage"`
	} `json:"message"`
}

// identity dedupes entries that Claude writes more than once per response
func (e sessionLogEntry) identity() string {
	rid := e.RequestID
	if rid == "" {
		rid = e.RequestID2
	}
	mid := ""
	if e.Message != nil {
		mid = e.Message.ID
	}
	switch {
	case rid != "" && mid != "":
		return rid + ":" + mid
	case rid != "" && e.UUID != "":
		return rid + ":" + e.UUID
	case mid != "":
		return mid
	default:
		return e.UUID
	}
}

func (e sessionLogEntry) primaryAssistant() bool {
	return e.Type == "assistant" && e.Message != nil && e.Message.Role == "assistant" && e.Message.Usage != nil
}

type tokenEntry struct {
	at     time.Time
	tokens int64
	model  string
	usage  TokenUsage
}

// AnalyzeProjects scans every top-level session log under dir and derives
// session-level token metrics. Subagent logs are skipped.
func AnalyzeProjects(ctx context.Context, dir string, now time.Time) (*ClaudeDetails, error) {
	files, err := FindSessionFiles(ctx, dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoSessionLogs
	}

	seen := make(map[string]struct{})
	perFile := make(map[string][]tokenEntry, len(files))
	var all []tokenEntry

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := parseSessionFile(file, seen)
		if err != nil {
			continue
		}
		perFile[file] = entries
		all = append(all, entries...)
	}

	if len(all) == 0 {
		return nil, ErrNoUsageTokens
	}

	return summarize(all, perFile, now), nil
}

// FindSessionFiles lists the JSONL session logs under dir, excluding subagents
func FindSessionFiles(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "subagents" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "walk %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

func parseSessionFile(path string, seen map[string]struct{}) ([]tokenEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 10*1024*1024)

	usageKey := []byte(`"usage"`)
	var entries []tokenEntry

	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.Contains(line, usageKey) {
			continue
		}

		var entry sessionLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil || !entry.primaryAssistant() {
			continue
		}

		id := entry.identity()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		usage := *entry.Message.Usage
		if usage.Direct() <= 0 {
			continue
		}
		model := entry.Message.Model
		if model == "" {
			model = "unknown"
		}
		entries = append(entries, tokenEntry{at: at, tokens: usage.Direct(), model: model, usage: usage})
	}

	return entries, scanner.Err()
}

func summarize(all []tokenEntry, perFile map[string][]tokenEntry, now time.Time) *ClaudeDetails {
	sessionStart := now.Add(-sessionWindow)
	weekStart := now.Add(-weeklyWindow)

	var weeklyTokens int64
	for _, e := range all {
		if !e.at.Before(weekStart) {
			weeklyTokens += e.tokens
		}
	}

	sessionFile := activeSessionFile(perFile, sessionStart)
	var current []tokenEntry
	for _, e := range perFile[sessionFile] {
		if !e.at.Before(sessionStart) {
			current = append(current, e)
		}
	}
	sort.Slice(current, func(i, j int) bool { return current[i].at.Before(current[j].at) })

	var sessionTokens int64
	var cost float64
	byModel := make(map[string]int64)
	for _, e := range current {
		sessionTokens += e.tokens
		byModel[e.model] += e.tokens
		cost += CalculateCost(e.usage, e.model)
	}

	tokenSeries, messageSeries := sessionBlocks(all)
	tokenLimit := p90(tokenSeries)
	if tokenLimit <= 0 {
		tokenLimit = defaultSessionTokenLimit
	}
	messageLimit := p90(messageSeries)
	if messageLimit <= 0 {
		messageLimit = defaultSessionMessageLimit
	}

	start := now
	if len(current) > 0 {
		start = current[0].at
	}
	elapsed := math.Max(1, now.Sub(start).Minutes())

	var burnRate float64
	if sessionTokens > 0 {
		burnRate = float64(sessionTokens) / elapsed
	}

	var runout *time.Time
	remaining := math.Max(0, tokenLimit-float64(sessionTokens))
	if burnRate > 0 && remaining > 0 {
		at := now.Add(time.Duration(remaining / burnRate * float64(time.Minute))).UTC()
		runout = &at
	}

	weeklyLimit := tokenLimit * (weeklyWindow.Hours() / sessionWindow.Hours())

	distribution := make(map[string]float64, len(byModel))
	if sessionTokens > 0 {
		for model, tokens := range byModel {
			distribution[model] = round1(float64(tokens) / float64(sessionTokens) * 100)
		}
	}

	return &ClaudeDetails{
		SessionFile:          filepath.Base(sessionFile),
		SessionTokens:        sessionTokens,
		SessionMessages:      len(current),
		WeeklyTokens:         weeklyTokens,
		TokenLimitP90:        int64(tokenLimit),
		MessageLimitP90:      int64(messageLimit),
		TokenUsagePct:        round1(float64(sessionTokens) / tokenLimit * 100),
		MessageUsagePct:      round1(float64(len(current)) / messageLimit * 100),
		WeeklyEstimatePct:    round1(float64(weeklyTokens) / weeklyLimit * 100),
		BurnRateTokensPerMin: round1(burnRate),
		PredictedRunoutAt:    runout,
		SessionResetAt:       start.Add(sessionWindow).UTC(),
		ModelDistribution:    distribution,
		EstimatedCostUSD:     cost,
	}
}

// activeSessionFile picks the file with the most tokens inside the session
// window, breaking ties by its latest entry.
func activeSessionFile(perFile map[string][]tokenEntry, since time.Time) string {
	names := make([]string, 0, len(perFile))
	for name := range perFile {
		names = append(names, name)
	}
	sort.Strings(names)

	var best string
	var bestTokens int64 = -1
	var bestLatest time.Time
	for _, name := range names {
		var recent int64
		var latest time.Time
		for _, e := range perFile[name] {
			if !e.at.Before(since) {
				recent += e.tokens
			}
			if e.at.After(latest) {
				latest = e.at
			}
		}
		if recent > bestTokens || (recent == bestTokens && latest.After(bestLatest)) {
			best, bestTokens, bestLatest = name, recent, latest
		}
	}
	return best
}

// sessionBlocks groups entries into 5h blocks opened by the first entry
// after the previous block closed.
func sessionBlocks(entries []tokenEntry) (tokens, messages []float64) {
	sorted := make([]tokenEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].at.Before(sorted[j].at) })

	for i := 0; i < len(sorted); {
		end := sorted[i].at.Add(sessionWindow)
		var total int64
		count := 0
		for i < len(sorted) && !sorted[i].at.After(end) {
			total += sorted[i].tokens
			count++
			i++
		}
		tokens = append(tokens, float64(total))
		messages = append(messages, float64(count))
	}
	return tokens, messages
}

// p90 is the inclusive-method 90th percentile; 0 for an empty series
func p90(values []float64) float64 {
	switch len(values) {
	case 0:
		return 0
	case 1:
		return values[0]
	}

	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)

	m := len(s) - 1
	j := 9 * m / 10
	delta := float64(9*m-10*j) / 10
	return s[j] + (s[j+1]-s[j])*delta
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
