package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/dex_autotag/internal/tagger"
	"gopkg.in/natefinch/lumberjack.v2"
)

// entry is one JSON line per processed contact.
type entry struct {
	RunID      string    `json:"run_id"`
	Index      int       `json:"index"`
	ContactID  string    `json:"contact_id"`
	URL        string    `json:"url"`
	Outcome    string    `json:"outcome"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// Writer appends run outcomes to <dir>/<YYYY-MM-DD>/<run_id>.jsonl.
// Write failures are logged and never surface to the run.
type Writer struct {
	path   string
	mu     sync.Mutex
	logger *lumberjack.Logger
}

// Open prepares the journal file for runID under baseDir.
func Open(baseDir, runID string, maxSizeMB int) (*Writer, error) {
	dir := filepath.Join(baseDir, time.Now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, runID+".jsonl")
	w := &Writer{
		path: path,
		logger: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 10,
			MaxAge:     30,
			LocalTime:  false,
		},
	}
	slog.Info("journal opened", "file", path)
	return w, nil
}

// Path is the journal file location.
func (w *Writer) Path() string { return w.path }

// Record implements tagger.Recorder.
func (w *Writer) Record(res tagger.Result) {
	data, err := json.Marshal(entry{
		RunID:      res.RunID,
		Index:      res.Index,
		ContactID:  res.ContactID,
		URL:        res.URL,
		Outcome:    res.Outcome,
		DurationMS: res.Duration.Milliseconds(),
		At:         res.At.UTC(),
	})
	if err != nil {
		slog.Error("journal marshal failed", "error", err, "contact_id", res.ContactID)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err, "file", w.path)
	}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logger.Close()
}
