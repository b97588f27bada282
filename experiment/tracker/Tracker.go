// Package tracker implements sinks which track named scalar series
// generated during an experiment and save them after the experiment
// has finished
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Sink receives named scalar values keyed by a step counter
type Sink interface {
	Add(name string, step int, value float64)
}

// Point is a single tracked value
type Point struct {
	Step  int
	Value float64
}

// Series keeps every tracked value in memory so that it can be saved
// to disk at the end of an experiment. Series is safe for concurrent
// use.
type Series struct {
	mu   sync.Mutex
	data map[string][]Point
}

// NewSeries returns a new, empty Series
func NewSeries() *Series {
	return &Series{data: make(map[string][]Point)}
}

// Add implements the Sink interface
func (s *Series) Add(name string, step int, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append(s.data[name], Point{step, value})
}

// Get returns a copy of the values tracked under name
func (s *Series) Get(name string) []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Point(nil), s.data[name]...)
}

// Names returns the sorted names of all tracked series
func (s *Series) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save saves the data tracked by the Series to disk
func (s *Series) Save(filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %w", err)
	}
	defer file.Close()

	enc := gob.NewEncoder(file)
	if err = enc.Encode(s.data); err != nil {
		return fmt.Errorf("save: could not encode series: %w", err)
	}
	return file.Close()
}

// LoadSeries loads and returns the data saved by a Series
func LoadSeries(filename string) (*Series, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadSeries: could not open data file: %w", err)
	}
	defer file.Close()

	s := NewSeries()
	dec := gob.NewDecoder(file)
	if err = dec.Decode(&s.data); err != nil {
		return nil, fmt.Errorf("loadSeries: could not decode data: %w", err)
	}
	return s, nil
}

// Logger is a Sink which writes each value to a zerolog.Logger at debug
// level
type Logger struct {
	log zerolog.Logger
}

// NewLogger returns a new Logger sink
func NewLogger(log zerolog.Logger) Logger {
	return Logger{log: log.With().Str("component", "metrics").Logger()}
}

// Add implements the Sink interface
func (l Logger) Add(name string, step int, value float64) {
	l.log.Debug().Str("series", name).Int("step", step).
		Float64("value", value).Msg("tracked")
}

// Multi sends each value to all of its Sinks
type Multi []Sink

// Add implements the Sink interface
func (m Multi) Add(name string, step int, value float64) {
	for _, sink := range m {
		sink.Add(name, step, value)
	}
}
