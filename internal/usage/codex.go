package usage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// codexScanLines bounds how much of the history log is inspected
const codexScanLines = 300

var (
	sessionLimitPattern = regexp.MustCompile(`5h limit:\s*\[[^\]]*\]\s*([0-9]{1,3})% left \(resets ([0-9]{2}:[0-9]{2})\)`)
	weeklyLimitPattern  = regexp.MustCompile(`Weekly limit:\s*\[[^\]]*\]\s*([0-9]{1,3})% left \(resets ([0-9]{2}:[0-9]{2}) on ([0-9]{1,2} [A-Za-z]{3})\)`)
)

// CodexExtractor reads the rate-limit banners codex writes to its history log
type CodexExtractor struct {
	HistoryPath string
	Now         func() time.Time
	// MaxLines overrides codexScanLines when positive.
	MaxLines int
}

func (e *CodexExtractor) Provider() Provider {
	return ProviderCodex
}

// Extract scans the newest history lines first and keeps the first session
// and weekly banner it sees.
func (e *CodexExtractor) Extract(_ context.Context, settings ProviderSettings) (Observation, error) {
	path := pathOr(settings.SourcePath, e.HistoryPath)

	limit := e.MaxLines
	if limit <= 0 {
		limit = codexScanLines
	}

	lines, err := tailLines(path, limit)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Observation{Notes: []string{"missing " + path}}, nil
		}
		return Observation{}, &ProviderError{Provider: ProviderCodex, Err: eris.Wrapf(err, "read %s", path)}
	}

	now := clockOr(e.Now)
	var obs Observation

	for i := len(lines) - 1; i >= 0; i-- {
		text := linePayload(lines[i])

		if obs.SessionUsedPct == nil {
			if m := sessionLimitPattern.FindStringSubmatch(text); m != nil {
				obs.SessionUsedPct = usedFromLeft(m[1])
				obs.SessionResetsAt = resetToday(m[2], now)
			}
		}

		if obs.WeeklyUsedPct == nil {
			if m := weeklyLimitPattern.FindStringSubmatch(text); m != nil {
				obs.WeeklyUsedPct = usedFromLeft(m[1])
				obs.WeeklyResetsAt = resetOnDay(m[3], m[2], now)
			}
		}

		if obs.SessionUsedPct != nil && obs.WeeklyUsedPct != nil {
			break
		}
	}

	if obs.SessionUsedPct == nil && obs.WeeklyUsedPct == nil {
		obs.Notes = append(obs.Notes, "could not parse codex usage from history; set providers.codex.manual.* values")
	}

	return obs, nil
}

// linePayload returns the text a banner would appear in: the "text" field of
// a JSON record when there is one, otherwise the raw line. ANSI styling is
// stripped either way.
func linePayload(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		if text := gjson.Get(trimmed, "text"); text.Type == gjson.String {
			return ansi.Strip(text.String())
		}
	}
	return ansi.Strip(line)
}

func usedFromLeft(raw string) *float64 {
	left, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return float64Ptr(math.Max(0, 100-left))
}

// resetToday anchors HH:MM to the current local calendar date, not the date
// the log line was written.
func resetToday(hhmm string, now time.Time) *time.Time {
	t, err := time.ParseInLocation("15:04", hhmm, now.Location())
	if err != nil {
		return nil
	}
	reset := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	return timePtr(reset.UTC())
}

// resetOnDay resolves "D Mon" and HH:MM against the current local year
func resetOnDay(dayMonth, hhmm string, now time.Time) *time.Time {
	value := fmt.Sprintf("%s %d %s", dayMonth, now.Year(), hhmm)
	t, err := time.ParseInLocation("2 Jan 2006 15:04", value, now.Location())
	if err != nil {
		return nil
	}
	return timePtr(t.UTC())
}

// tailLines returns at most n trailing lines of the file, oldest first
func tailLines(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	ring := make([]string, 0, n)
	start := 0
	reader := bufio.NewReaderSize(file, 64*1024)

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if len(ring) < n {
				ring = append(ring, line)
			} else {
				ring[start] = line
				start = (start + 1) % n
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return append(ring[start:], ring[:start]...), nil
}
