// Package metrics records scalar training telemetry and the per-run score
// history.
package metrics

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// EventsFile is the file name EventWriter creates inside a run directory.
const EventsFile = "events.jsonl"

// ScalarWriter receives named scalar values keyed by step.
type ScalarWriter interface {
	AddScalar(name string, value float64, step int) error
	Close() error
}

// Nop discards every scalar.
type Nop struct{}

func (Nop) AddScalar(string, float64, int) error { return nil }
func (Nop) Close() error                         { return nil }

// Event is one line of an events file.
type Event struct {
	Name  string    `json:"name"`
	Value float64   `json:"value"`
	Step  int       `json:"step"`
	Time  time.Time `json:"time"`
}

// EventWriter appends scalars to a JSON Lines file, one Event per line.
type EventWriter struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	now  func() time.Time
	path string
}

// NewEventWriter creates dir if needed and opens dir/events.jsonl for appending.
func NewEventWriter(dir string) (*EventWriter, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create metrics directory %s", dir)
		}
	}
	path := filepath.Join(dir, EventsFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open events file")
	}
	return &EventWriter{
		f:    f,
		enc:  json.NewEncoder(f),
		now:  time.Now,
		path: path,
	}, nil
}

// Path returns the file the writer appends to.
func (w *EventWriter) Path() string {
	return w.path
}

// AddScalar appends one event. NaN and infinite values have no JSON encoding
// and are dropped.
func (w *EventWriter) AddScalar(name string, value float64, step int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return errors.New("event writer is closed")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	ev := Event{Name: name, Value: value, Step: step, Time: w.now().UTC()}
	if err := w.enc.Encode(ev); err != nil {
		return errors.Wrapf(err, "write %s at step %d", name, step)
	}
	return nil
}

func (w *EventWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return errors.Wrap(err, "close events file")
}

// ReadEvents decodes every event of a JSON Lines file.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open events file")
	}
	defer f.Close()

	var events []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, errors.Wrapf(err, "decode event %d", len(events))
		}
		events = append(events, ev)
	}
	return events, nil
}

// Point is a recorded scalar.
type Point struct {
	Step  int
	Value float64
}

// Recorder keeps scalars in memory.
type Recorder struct {
	mu     sync.Mutex
	series map[string][]Point
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{series: make(map[string][]Point)}
}

func (r *Recorder) AddScalar(name string, value float64, step int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series[name] = append(r.series[name], Point{Step: step, Value: value})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Scalars returns a copy of the points recorded under name.
func (r *Recorder) Scalars(name string) []Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Point(nil), r.series[name]...)
}

// Names returns the recorded series names in sorted order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.series))
	for name := range r.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Multi fans every scalar out to several writers. The first error wins but
// every writer still receives the value.
type Multi []ScalarWriter

func (m Multi) AddScalar(name string, value float64, step int) error {
	var first error
	for _, w := range m {
		if err := w.AddScalar(name, value, step); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, w := range m {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
