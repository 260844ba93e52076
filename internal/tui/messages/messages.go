package messages

import (
	"time"

	"github.com/valentindosimont/usagedash/internal/daemon"
)

// TickMsg is sent every second so relative times stay current
type TickMsg struct {
	Time time.Time
}

// MonitorEventMsg wraps daemon events for the TUI
type MonitorEventMsg struct {
	Event daemon.Event
}

// MonitorClosedMsg is sent once the refresh loop has stopped
type MonitorClosedMsg struct{}
