/*
Copyright © 2026 the AQUA authors.
This file is part of AQUA.

AQUA is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AQUA is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AQUA.  If not, see <http://www.gnu.org/licenses/>.
*/

package accessor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spatialmodel/aqua/dataset"
)

// StreamState is the position of a Stream in its life cycle.
type StreamState int

// These are the states of a Stream.
const (
	// Idle streams have not returned any data since they were created
	// or reset.
	Idle StreamState = iota
	// Active streams have returned at least one chunk.
	Active
	// Exhausted streams have returned all of their data.
	Exhausted
)

func (s StreamState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Active:
		return "Active"
	case Exhausted:
		return "Exhausted"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// StreamExhaustedError is returned when data is requested from a stream
// that has reached its end.
type StreamExhaustedError struct {
	Start, End time.Time
}

func (e *StreamExhaustedError) Error() string {
	return fmt.Sprintf("accessor: stream from %s to %s is exhausted; reset it to read again",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// Stream returns consecutive time windows of a source. It is not safe
// for concurrent use.
type Stream struct {
	backend Backend
	query   Query
	step    Step
	lazy    bool

	start, end time.Time
	cursor     time.Time
	state      StreamState

	// pending is set when the last window reached the end; the next call
	// moves the stream to Exhausted.
	pending bool
}

// NewStream returns a stream over the part of b selected by q, in
// windows of length step. Unset bounds in q are taken from the backend.
// Each chunk returned by Next is fully loaded into memory.
func NewStream(ctx context.Context, b Backend, q Query, step Step) (*Stream, error) {
	if step.IsZero() {
		return nil, fmt.Errorf("accessor: stream step must not be zero")
	}
	start, end, err := b.Bounds(ctx)
	if err != nil {
		return nil, err
	}
	if !q.Start.IsZero() {
		start = q.Start
	}
	if !q.End.IsZero() {
		end = q.End
	}
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("accessor: streaming requires start and end dates")
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("accessor: stream start %v is not before end %v", start, end)
	}
	return &Stream{backend: b, query: q, step: step, start: start, end: end, cursor: start}, nil
}

// State returns the state of s.
func (s *Stream) State() StreamState { return s.state }

// Cursor returns the start of the next window.
func (s *Stream) Cursor() time.Time { return s.cursor }

// Bounds returns the start and end of the stream.
func (s *Stream) Bounds() (time.Time, time.Time) { return s.start, s.end }

// Window returns the next window without advancing the stream.
func (s *Stream) Window() (start, end time.Time) {
	end = s.step.Add(s.cursor)
	if end.After(s.end) {
		end = s.end
	}
	return s.cursor, end
}

// Next returns the data in the next window and advances the stream.
// The window that reaches the end of the stream is returned normally;
// the call after it returns a *StreamExhaustedError. If the retrieval
// fails the stream is not advanced.
func (s *Stream) Next(ctx context.Context) (*dataset.Dataset, error) {
	if s.state == Exhausted || s.pending {
		s.state = Exhausted
		return nil, &StreamExhaustedError{Start: s.start, End: s.end}
	}
	start, end := s.Window()
	q := s.query
	q.Start, q.End = start, end
	ds, err := s.backend.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	if !s.lazy {
		if err := ds.Load(); err != nil {
			return nil, err
		}
	}
	s.cursor = end
	s.state = Active
	s.pending = !end.Before(s.end)
	return ds, nil
}

// Select replaces the variables and levels read by later windows.
// A nil vars keeps the current selection.
func (s *Stream) Select(vars []string, levels []float64, levelDim string) {
	if vars != nil {
		s.query.Variables = vars
	}
	s.query.Levels, s.query.LevelDim = levels, levelDim
}

// Reset returns s to Idle at its original start.
func (s *Stream) Reset() {
	s.cursor = s.start
	s.state = Idle
	s.pending = false
}

// Sequence yields lazy chunks of a stream. It cannot be restarted.
type Sequence struct {
	s *Stream
}

// NewSequence returns a sequence over s. Chunks returned by the
// sequence are lazy, and reading from the sequence advances s.
func NewSequence(s *Stream) *Sequence {
	s.lazy = true
	return &Sequence{s: s}
}

// Next returns the next chunk, or io.EOF when there are no more.
func (q *Sequence) Next(ctx context.Context) (*dataset.Dataset, error) {
	ds, err := q.s.Next(ctx)
	if _, ok := err.(*StreamExhaustedError); ok {
		return nil, io.EOF
	}
	return ds, err
}
