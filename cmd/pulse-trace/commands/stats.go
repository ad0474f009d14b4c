package commands

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pulsegate/pulsegate-go/pkg/trace"
)

// stats holds aggregate statistics about a trace file.
type stats struct {
	totalEvents  int
	byCategory   map[trace.Category]int
	byDirection  map[trace.Direction]int
	envelopeType map[string]int
	bytesIn      int
	bytesOut     int
	errors       int
	stateChanges int
	sessions     map[string]struct{}

	start time.Time
	end   time.Time
}

// RunStats analyzes a trace file and prints statistics.
func RunStats(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: pulse-trace stats <file.trace>")
	}

	reader, err := trace.OpenReader(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	st := &stats{
		byCategory:   make(map[trace.Category]int),
		byDirection:  make(map[trace.Direction]int),
		envelopeType: make(map[string]int),
		sessions:     make(map[string]struct{}),
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		st.add(event)
	}

	st.print(w)
	return nil
}

func (s *stats) add(event trace.Event) {
	s.totalEvents++
	s.byCategory[event.Category]++
	s.sessions[event.SessionID] = struct{}{}

	if s.start.IsZero() || event.Timestamp.Before(s.start) {
		s.start = event.Timestamp
	}
	if event.Timestamp.After(s.end) {
		s.end = event.Timestamp
	}

	switch event.Category {
	case trace.CategoryEnvelope:
		s.byDirection[event.Direction]++
		s.envelopeType[event.Envelope.Type]++
		if event.Direction == trace.DirectionIn {
			s.bytesIn += event.Envelope.Size
		} else {
			s.bytesOut += event.Envelope.Size
		}
	case trace.CategoryState:
		s.stateChanges++
	case trace.CategoryError:
		s.errors++
	}
}

func (s *stats) print(w io.Writer) {
	fmt.Fprintf(w, "Events:         %d\n", s.totalEvents)
	fmt.Fprintf(w, "Sessions:       %d\n", len(s.sessions))
	if !s.start.IsZero() {
		fmt.Fprintf(w, "Time range:     %s .. %s (%s)\n",
			s.start.UTC().Format(time.RFC3339),
			s.end.UTC().Format(time.RFC3339),
			s.end.Sub(s.start).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Envelopes:      %d in / %d out\n",
		s.byDirection[trace.DirectionIn], s.byDirection[trace.DirectionOut])
	fmt.Fprintf(w, "Bytes:          %d in / %d out\n", s.bytesIn, s.bytesOut)
	fmt.Fprintf(w, "State changes:  %d\n", s.stateChanges)
	fmt.Fprintf(w, "Errors:         %d\n", s.errors)

	if len(s.envelopeType) > 0 {
		fmt.Fprintln(w, "\nEnvelopes by type:")
		types := make([]string, 0, len(s.envelopeType))
		for t := range s.envelopeType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(w, "  %-12s %d\n", t, s.envelopeType[t])
		}
	}
}
