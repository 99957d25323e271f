// Package recorder is a flight recorder that appends action events to
// size-rotated JSONL files.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"browsernerd-actions/internal/config"

	"go.uber.org/zap"
)

const (
	filePrefix = "actions_"
	fileExt    = ".jsonl"
)

// Event represents a single record in the flight recorder.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	ActionID  string      `json:"action_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Recorder writes events to the newest file in dir and starts a new file once
// the current one exceeds maxBytes. Only the newest maxFiles files are kept.
type Recorder struct {
	dir      string
	maxBytes int64
	maxFiles int
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	written int64
	seq     int
}

// NewRecorder creates a recorder and ensures its directory exists.
func NewRecorder(cfg config.RecorderConfig, logger *zap.Logger) (*Recorder, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("recorder dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recorder dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 1
	}
	return &Recorder{
		dir:      cfg.Dir,
		maxBytes: cfg.MaxFileBytes,
		maxFiles: maxFiles,
		logger:   logger.With(zap.String("component", "recorder")),
		now:      time.Now,
	}, nil
}

// Log appends one event. Write failures are logged and dropped so the
// recorder never fails the action it observes.
func (r *Recorder) Log(eventType, sessionID, actionID string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil || (r.maxBytes > 0 && r.written >= r.maxBytes) {
		if err := r.openNext(); err != nil {
			r.logger.Warn("recorder rotation failed", zap.Error(err))
			return
		}
	}

	line, err := json.Marshal(Event{
		Timestamp: r.now(),
		Type:      eventType,
		SessionID: sessionID,
		ActionID:  actionID,
		Data:      data,
	})
	if err != nil {
		r.logger.Warn("recorder encode failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	line = append(line, '\n')
	n, err := r.file.Write(line)
	r.written += int64(n)
	if err != nil {
		r.logger.Warn("recorder write failed", zap.Error(err))
	}
}

// openNext closes the current file, opens a fresh one and prunes old files.
func (r *Recorder) openNext() error {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	r.seq++
	name := fmt.Sprintf("%s%020d_%04d%s", filePrefix, r.now().UnixNano(), r.seq%10000, fileExt)
	f, err := os.OpenFile(filepath.Join(r.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	r.file = f
	r.written = 0
	return r.prune()
}

// prune keeps only the newest maxFiles recordings. Names sort by creation time.
func (r *Recorder) prune() error {
	files, err := r.Files()
	if err != nil {
		return err
	}
	for i := 0; i < len(files)-r.maxFiles; i++ {
		if err := os.Remove(files[i]); err != nil && !os.IsNotExist(err) {
			r.logger.Debug("remove old recording", zap.String("path", files[i]), zap.Error(err))
		}
	}
	return nil
}

// Files returns the recording files in dir, oldest first.
func (r *Recorder) Files() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		files = append(files, filepath.Join(r.dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Close finishes the current recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
