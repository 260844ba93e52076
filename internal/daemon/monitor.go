// Package daemon drives refresh cycles from a ticker and from file changes
// under the provider artifact directories.
package daemon

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/valentindosimont/usagedash/internal/usage"
)

// CycleFunc runs one collect/persist cycle
type CycleFunc func(ctx context.Context) (usage.Snapshot, error)

// EventType represents the type of event
type EventType int

const (
	EventSnapshot EventType = iota
	EventError
)

// Trigger says what started a cycle
type Trigger int

const (
	TriggerStart Trigger = iota
	TriggerTick
	TriggerFile
	TriggerManual
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerTick:
		return "tick"
	case TriggerFile:
		return "file"
	case TriggerManual:
		return "manual"
	}
	return "unknown"
}

// Event is emitted after every cycle
type Event struct {
	Type     EventType
	Trigger  Trigger
	Snapshot usage.Snapshot
	Err      error
	Time     time.Time
}

const (
	defaultDebounce = 750 * time.Millisecond
	eventBuffer     = 16
)

// Monitor runs cycles until its context ends
type Monitor struct {
	cycle     CycleFunc
	interval  time.Duration
	debounce  time.Duration
	watchDirs []string
	logger    *zap.Logger
	now       func() time.Time

	watcher   *fsnotify.Watcher
	eventCh   chan Event
	refreshCh chan struct{}
}

// Option configures a Monitor
type Option func(*Monitor)

// WithWatchDirs watches dirs recursively; missing dirs are skipped
func WithWatchDirs(dirs ...string) Option {
	return func(m *Monitor) { m.watchDirs = append(m.watchDirs, dirs...) }
}

// WithDebounce sets how long file events must settle before a cycle runs
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.debounce = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates a monitor that runs cycle every interval
func NewMonitor(cycle CycleFunc, interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		cycle:     cycle,
		interval:  interval,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		now:       time.Now,
		eventCh:   make(chan Event, eventBuffer),
		refreshCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the event channel. It is closed when Run returns.
func (m *Monitor) Events() <-chan Event {
	return m.eventCh
}

// Refresh requests a cycle. Requests made while one is pending coalesce.
func (m *Monitor) Refresh() {
	select {
	case m.refreshCh <- struct{}{}:
	default:
	}
}

// Run performs an initial cycle, then one per tick, file change or Refresh
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		return eris.Errorf("daemon: invalid refresh interval %s", m.interval)
	}
	defer close(m.eventCh)

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if len(m.watchDirs) > 0 {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			m.logger.Warn("file watching disabled", zap.Error(err))
		} else {
			defer w.Close()
			for _, dir := range m.watchDirs {
				m.addRecursive(w, dir)
			}
			fsEvents, fsErrors = w.Events, w.Errors
			m.watcher = w
		}
	}

	m.run(ctx, TriggerStart)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	settle := time.NewTimer(m.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.run(ctx, TriggerTick)
		case <-m.refreshCh:
			m.run(ctx, TriggerManual)
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if m.relevant(ev) {
				settle.Reset(m.debounce)
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			m.logger.Debug("watch error", zap.Error(err))
		case <-settle.C:
			m.run(ctx, TriggerFile)
		}
	}
}

func (m *Monitor) run(ctx context.Context, trigger Trigger) {
	snap, err := m.cycle(ctx)
	if ctx.Err() != nil {
		return
	}

	ev := Event{Type: EventSnapshot, Trigger: trigger, Snapshot: snap, Time: m.now()}
	if err != nil {
		m.logger.Warn("refresh cycle failed", zap.Stringer("trigger", trigger), zap.Error(err))
		ev.Type = EventError
		ev.Err = err
	} else {
		m.logger.Debug("refresh cycle", zap.Stringer("trigger", trigger), zap.Int("providers", len(snap.Providers)))
	}

	select {
	case m.eventCh <- ev:
	default:
		m.logger.Debug("event dropped; consumer is behind", zap.Stringer("trigger", trigger))
	}
}

// relevant reports whether ev should schedule a cycle; new directories
// are added to the watch list as a side effect
func (m *Monitor) relevant(ev fsnotify.Event) bool {
	if ev.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if m.watcher != nil {
				m.addRecursive(m.watcher, ev.Name)
			}
			return false
		}
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

func (m *Monitor) addRecursive(w *fsnotify.Watcher, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			m.logger.Debug("watch failed", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}
