package solver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SummaryFile is the name of the event log in the training directory.
const SummaryFile = "events.jsonl"

// Event is one scalar summary.
type Event struct {
	Run      string  `json:"run"`
	Step     int64   `json:"step"`
	WallTime float64 `json:"wall_time"`
	Tag      string  `json:"tag"`
	Value    float64 `json:"value"`
}

// SummaryWriter appends scalar events to dir/events.jsonl, one JSON object
// per line. Every writer tags its events with a fresh run id.
type SummaryWriter struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
	run string
}

// NewSummaryWriter opens (or creates) the event log in dir.
func NewSummaryWriter(dir string) (*SummaryWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create summary directory %q", dir)
	}
	path := filepath.Join(dir, SummaryFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", path)
	}
	return &SummaryWriter{f: f, enc: json.NewEncoder(f), run: uuid.NewString()}, nil
}

// Run returns the run id stamped on every event.
func (w *SummaryWriter) Run() string {
	return w.run
}

// AddScalar appends one event.
func (w *SummaryWriter) AddScalar(tag string, step int64, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return errors.New("summary writer is closed")
	}
	ev := Event{
		Run:      w.run,
		Step:     step,
		WallTime: float64(time.Now().UnixNano()) / 1e9,
		Tag:      tag,
		Value:    value,
	}
	return errors.Wrap(w.enc.Encode(&ev), "write summary")
}

// Close flushes and closes the event log.
func (w *SummaryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return errors.Wrap(err, "close summary")
}
