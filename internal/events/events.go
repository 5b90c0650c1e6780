// Package events streams kinematic events into the binning pipeline.
package events

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/quicksim/internal/kinematics"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// IDColumn names the events CSV column that groups rows into events.
const IDColumn = "event"

// Event is one physics event. Inclusive analyses carry one entry; SIDIS and
// dihadron analyses carry one entry per hadron or hadron pair.
type Event struct {
	ID      string
	Q2      float64
	Entries []kinematics.Record
}

// Source yields events until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// SliceSource serves events from memory.
type SliceSource struct {
	events []Event
	pos    int
}

// NewSliceSource returns a source over evs.
func NewSliceSource(evs []Event) *SliceSource {
	return &SliceSource{events: evs}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// CSVSource reads events from a CSV with an "event" id column followed by
// kinematic columns named after any accepted branch alias. Consecutive rows
// sharing an id form one event.
type CSVSource struct {
	r         *csv.Reader
	closer    io.Closer
	decoder   *kinematics.Decoder
	idCol     int
	valueCols []int
	maxEvents int

	read    int
	line    int
	pending []string
	done    bool
}

// OpenCSV opens an events file. maxEvents <= 0 reads every event.
func OpenCSV(path string, kind kinematics.Kind, maxEvents int) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening events: %w", err)
	}
	src, err := NewCSVSource(f, kind, maxEvents)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewCSVSource reads the header of r and binds its columns to kind.
func NewCSVSource(r io.Reader, kind kinematics.Kind, maxEvents int) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("events csv is empty: %w", quickerr.ErrConfig)
		}
		return nil, fmt.Errorf("reading events header: %w", err)
	}

	s := &CSVSource{r: cr, idCol: -1, maxEvents: maxEvents, line: 1}
	var names []string
	for i, h := range header {
		h = strings.TrimSpace(h)
		if strings.EqualFold(h, IDColumn) {
			s.idCol = i
			continue
		}
		names = append(names, h)
		s.valueCols = append(s.valueCols, i)
	}
	if s.idCol < 0 {
		return nil, fmt.Errorf("events csv has no %q column: %w", IDColumn, quickerr.ErrConfig)
	}
	if s.decoder, err = kinematics.NewDecoder(kind, names); err != nil {
		return nil, fmt.Errorf("events csv header: %w", err)
	}
	return s, nil
}

// Next implements Source.
func (s *CSVSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.done || (s.maxEvents > 0 && s.read >= s.maxEvents) {
		return Event{}, io.EOF
	}

	first := s.pending
	s.pending = nil
	if first == nil {
		var err error
		if first, err = s.readRow(); err != nil {
			return Event{}, err
		}
	}

	// A bad row spoils its whole event: the remaining rows with the same id
	// are consumed so they cannot come back as a separate event.
	ev := Event{ID: first[s.idCol]}
	var bad error
	for row := first; ; {
		if bad == nil {
			rec, err := s.decodeRow(row)
			if err != nil {
				bad = err
			} else {
				ev.Entries = append(ev.Entries, rec)
			}
		}

		next, err := s.readRow()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			if bad == nil {
				bad = err
			}
			continue
		}
		if err != nil {
			return Event{ID: ev.ID}, err
		}
		if next[s.idCol] != ev.ID {
			s.pending = next
			break
		}
		row = next
	}
	if bad != nil {
		return Event{ID: ev.ID}, fmt.Errorf("event %s: %w", ev.ID, bad)
	}

	ev.Q2 = ev.Entries[0].Inclusive().Q2
	s.read++
	return ev, nil
}

func (s *CSVSource) readRow() ([]string, error) {
	fields, err := s.r.Read()
	s.line++
	if errors.Is(err, io.EOF) {
		s.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("events csv line %d: %w: %w", s.line, err, quickerr.ErrConfig)
	}
	return fields, nil
}

func (s *CSVSource) decodeRow(fields []string) (kinematics.Record, error) {
	values := make([]float64, len(s.valueCols))
	for i, col := range s.valueCols {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[col]), 64)
		if err != nil {
			return nil, fmt.Errorf("events csv line %d column %d: %v: %w", s.line, col+1, err, quickerr.ErrConfig)
		}
		values[i] = v
	}
	return s.decoder.Decode(values)
}

// Count returns the number of events returned so far.
func (s *CSVSource) Count() int { return s.read }

// Close releases the underlying file, if the source opened one.
func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
