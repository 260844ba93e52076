// Package snapshot persists collected usage snapshots as JSON files.
package snapshot

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/valentindosimont/usagedash/internal/fsutil"
	"github.com/valentindosimont/usagedash/internal/usage"
)

// Marshal renders a snapshot as indented JSON with a trailing newline
func Marshal(snap usage.Snapshot) ([]byte, error) {
	if snap.Providers == nil {
		snap.Providers = []usage.StatusRecord{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: marshal")
	}
	return append(data, '\n'), nil
}

// Write atomically replaces the file at path with snap
func Write(path string, snap usage.Snapshot) error {
	data, err := Marshal(snap)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "snapshot: write %s", path)
	}
	return nil
}

// Read loads a snapshot previously written by Write
func Read(path string) (usage.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return usage.Snapshot{}, eris.Wrapf(err, "snapshot: read %s", path)
	}
	var snap usage.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return usage.Snapshot{}, eris.Wrapf(err, "snapshot: decode %s", path)
	}
	return snap, nil
}

// Writer writes each snapshot to the state file and, when configured, a
// mirror location such as a Windows-visible path under WSL.
type Writer struct {
	StatePath  string
	MirrorPath string
	Logger     *zap.Logger
}

// Persist writes the state file and the mirror. Only a state file failure
// is returned; a mirror failure is logged.
func (w *Writer) Persist(snap usage.Snapshot) error {
	if err := Write(w.StatePath, snap); err != nil {
		return err
	}
	if w.MirrorPath == "" {
		return nil
	}
	if err := Write(w.MirrorPath, snap); err != nil {
		log := w.Logger
		if log == nil {
			log = zap.NewNop()
		}
		log.Warn("mirror snapshot failed", zap.String("path", w.MirrorPath), zap.Error(err))
	}
	return nil
}
