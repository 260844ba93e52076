package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valentindosimont/usagedash/internal/config"
	"github.com/valentindosimont/usagedash/internal/daemon"
	"github.com/valentindosimont/usagedash/internal/metrics"
	"github.com/valentindosimont/usagedash/internal/server"
	"github.com/valentindosimont/usagedash/internal/snapshot"
	"github.com/valentindosimont/usagedash/internal/store"
	"github.com/valentindosimont/usagedash/internal/tui"
	"github.com/valentindosimont/usagedash/internal/usage"
)

// ErrHistoryDisabled is returned by History when general.history_db is unset
var ErrHistoryDisabled = eris.New("history is disabled (general.history_db)")

// App ties collection, persistence, history and metrics together
type App struct {
	config    *config.Config
	logger    *zap.Logger
	collector *usage.Collector
	writer    *snapshot.Writer
	store     *store.Store
	exporter  *metrics.Exporter
	latest    *server.Latest
	now       func() time.Time
}

// Option configures an App
type Option func(*App)

// WithExtractors replaces the default provider extractors
func WithExtractors(extractors map[usage.Provider]usage.Extractor) Option {
	return func(a *App) { a.collector.Extractors = extractors }
}

// WithLenient skips providers whose artifacts cannot be read
func WithLenient(lenient bool) Option {
	return func(a *App) { a.collector.Lenient = lenient }
}

// New creates an App from cfg. The history store is opened only when
// general.history_db is set.
func New(cfg *config.Config, l *zap.Logger, opts ...Option) (*App, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := cfg.Clock()
	a := &App{
		config: cfg,
		logger: l,
		collector: usage.NewCollector(
			usage.DefaultExtractors(cfg.Paths(), clock),
			usage.WithLogger(l.Named("collect")),
			usage.WithClock(clock),
		),
		writer: &snapshot.Writer{
			StatePath:  cfg.StateFile(),
			MirrorPath: cfg.MirrorPath(),
			Logger:     l,
		},
		exporter: metrics.NewExporter(),
		latest:   &server.Latest{},
		now:      clock,
	}
	for _, opt := range opts {
		opt(a)
	}

	if path := cfg.HistoryDB(); path != "" {
		st, err := store.New(path)
		if err != nil {
			return nil, err
		}
		a.store = st
	}
	return a, nil
}

// Config returns the loaded configuration
func (a *App) Config() *config.Config {
	return a.config
}

// Latest holds the most recent successful snapshot
func (a *App) Latest() *server.Latest {
	return a.latest
}

func (a *App) Exporter() *metrics.Exporter {
	return a.exporter
}

// Collect runs one collection without persisting anything
func (a *App) Collect(ctx context.Context) (usage.Snapshot, error) {
	return a.collector.Collect(ctx, a.config.Settings())
}

// Cycle collects, writes the state file and mirror, records history and
// updates metrics. A history failure is logged and does not fail the cycle.
func (a *App) Cycle(ctx context.Context) (usage.Snapshot, error) {
	snap, err := a.Collect(ctx)
	if err != nil {
		a.exporter.ObserveError()
		a.latest.SetError(err, a.now())
		return usage.Snapshot{}, err
	}

	if err := a.writer.Persist(snap); err != nil {
		a.exporter.ObserveError()
		a.latest.SetError(err, a.now())
		return usage.Snapshot{}, err
	}

	a.recordHistory(ctx, snap)
	a.exporter.Observe(snap)
	a.latest.Set(snap)
	return snap, nil
}

func (a *App) recordHistory(ctx context.Context, snap usage.Snapshot) {
	if a.store == nil {
		return
	}
	id, err := a.store.RecordSnapshot(ctx, snap)
	if err != nil {
		a.logger.Warn("record history failed", zap.Error(err))
		return
	}
	a.logger.Debug("snapshot recorded", zap.String("id", id))

	if retention := a.config.HistoryRetention(); retention > 0 {
		n, err := a.store.Prune(ctx, snap.GeneratedAt.Add(-retention))
		if err != nil {
			a.logger.Warn("prune history failed", zap.Error(err))
		} else if n > 0 {
			a.logger.Debug("history pruned", zap.Int64("snapshots", n))
		}
	}
}

// Cached returns the snapshot the last cycle wrote to the state file
func (a *App) Cached() (usage.Snapshot, error) {
	return snapshot.Read(a.config.StateFile())
}

// seedLatest serves the cached snapshot until the first cycle completes
func (a *App) seedLatest() {
	if _, ok := a.latest.Get(); ok {
		return
	}
	snap, err := a.Cached()
	if err != nil {
		a.logger.Debug("no cached snapshot", zap.Error(err))
		return
	}
	a.latest.Set(snap)
}

// History returns recorded records, newest first. An empty provider means all.
func (a *App) History(ctx context.Context, provider usage.Provider, limit int) ([]store.Entry, error) {
	if a.store == nil {
		return nil, ErrHistoryDisabled
	}
	return a.store.Recent(ctx, provider, limit)
}

// Monitor returns a refresh loop running Cycle every interval and whenever
// an enabled provider's artifacts change. interval <= 0 uses the configured
// refresh interval.
func (a *App) Monitor(interval time.Duration) *daemon.Monitor {
	if interval <= 0 {
		interval = a.config.RefreshInterval()
	}
	return daemon.NewMonitor(a.Cycle, interval,
		daemon.WithWatchDirs(a.WatchDirs()...),
		daemon.WithLogger(a.logger.Named("monitor")),
	)
}

// WatchDirs lists the artifact directories of enabled, parsing providers
func (a *App) WatchDirs() []string {
	paths := a.config.Paths()
	var dirs []string
	add := func(dir string) {
		for _, d := range dirs {
			if d == dir || strings.HasPrefix(dir, d+string(filepath.Separator)) {
				return
			}
		}
		dirs = append(dirs, dir)
	}

	parsing := func(p usage.Provider) bool {
		ps := a.config.ProviderSettings(p)
		return ps.Enabled && ps.ParserMode != usage.ParserManual
	}
	if parsing(usage.ProviderCodex) {
		add(filepath.Dir(paths.CodexHistory))
	}
	if parsing(usage.ProviderClaude) {
		add(filepath.Dir(paths.ClaudeStats))
		add(paths.ClaudeProjects)
	}
	return dirs
}

// RunDashboard runs the TUI until the user quits or ctx ends
func (a *App) RunDashboard(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mon := a.Monitor(0)
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	model := tui.New(mon, tui.Options{
		Providers: a.config.Settings(),
		Location:  a.location(),
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()

	cancel()
	<-done
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return eris.Wrap(err, "app: dashboard")
	}
	return nil
}

// Serve runs the refresh loop and the HTTP server until ctx ends
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.config.Server.Addr
	}
	a.seedLatest()
	mon := a.Monitor(0)
	srv := server.New(a.latest, a.exporter, a.logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error {
		for range mon.Events() {
		}
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	return g.Wait()
}

// Check is one doctor line
type Check struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Status string `json:"status"`
}

// Report is the doctor/health output
type Report struct {
	Config   string  `json:"config"`
	Platform string  `json:"platform"`
	Timezone string  `json:"timezone"`
	Checks   []Check `json:"checks"`
}

// Doctor reports where every artifact and output is expected and whether it exists
func (a *App) Doctor(configPath string) Report {
	paths := a.config.Paths()
	enabled := func(p usage.Provider) bool { return a.config.ProviderSettings(p).Enabled }

	r := Report{
		Config:   configPath,
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		Timezone: a.location().String(),
	}
	r.Checks = append(r.Checks,
		providerCheck("codex_history", paths.CodexHistory, enabled(usage.ProviderCodex)),
		providerCheck("claude_stats", paths.ClaudeStats, enabled(usage.ProviderClaude)),
		providerCheck("claude_projects", paths.ClaudeProjects, enabled(usage.ProviderClaude)),
		pathCheck("state_file", a.config.StateFile()),
		pathCheck("windows_mirror", a.config.MirrorPath()),
		pathCheck("history_db", a.config.HistoryDB()),
	)
	return r
}

func providerCheck(name, path string, enabled bool) Check {
	if !enabled {
		return Check{Name: name, Path: path, Status: "disabled"}
	}
	return pathCheck(name, path)
}

func pathCheck(name, path string) Check {
	c := Check{Name: name, Path: path, Status: "ok"}
	switch {
	case path == "":
		c.Status = "disabled"
	default:
		if _, err := os.Stat(path); err != nil {
			c.Status = "missing"
		}
	}
	return c
}

func (a *App) location() *time.Location {
	loc, err := a.config.Location()
	if err != nil {
		return time.Local
	}
	return loc
}

// Close releases the history store
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
