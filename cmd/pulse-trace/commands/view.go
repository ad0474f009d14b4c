// Package commands implements the pulse-trace CLI commands.
package commands

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/pulsegate/pulsegate-go/pkg/trace"
)

// viewFilter specifies criteria for selecting events in the view
// command.
type viewFilter struct {
	direction *trace.Direction
	category  *trace.Category
	tenant    string
}

func (f *viewFilter) matches(event trace.Event) bool {
	if f.direction != nil {
		if event.Category != trace.CategoryEnvelope || event.Direction != *f.direction {
			return false
		}
	}
	if f.category != nil && event.Category != *f.category {
		return false
	}
	if f.tenant != "" && event.Tenant != f.tenant {
		return false
	}
	return true
}

// RunView prints a trace file in human-readable format.
func RunView(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("view", flag.ContinueOnError)
	direction := fs.String("direction", "", "Filter by direction: in, out")
	category := fs.String("category", "", "Filter by category: envelope, state, error")
	tenant := fs.String("tenant", "", "Filter by tenant id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: pulse-trace view [flags] <file.trace>")
	}

	filter := &viewFilter{tenant: *tenant}
	if *direction != "" {
		d, err := parseDirection(*direction)
		if err != nil {
			return err
		}
		filter.direction = &d
	}
	if *category != "" {
		c, err := parseCategory(*category)
		if err != nil {
			return err
		}
		filter.category = &c
	}

	reader, err := trace.OpenReader(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if filter.matches(event) {
			formatEvent(w, event)
		}
	}
}

// formatEvent writes a human-readable representation of the event.
func formatEvent(w io.Writer, event trace.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	session := shortenID(event.SessionID)

	switch event.Category {
	case trace.CategoryEnvelope:
		env := event.Envelope
		fmt.Fprintf(w, "%s [%s] %-3s %-11s", ts, session, event.Direction, env.Type)
		if env.Channel != "" {
			fmt.Fprintf(w, " channel=%s", env.Channel)
		}
		fmt.Fprintf(w, " size=%d\n", env.Size)

	case trace.CategoryState:
		sc := event.StateChange
		fmt.Fprintf(w, "%s [%s]     STATE %s -> %s", ts, session, sc.From, sc.To)
		if sc.Reason != "" {
			fmt.Fprintf(w, " (%s)", sc.Reason)
		}
		fmt.Fprintln(w)

	case trace.CategoryError:
		ee := event.Error
		fmt.Fprintf(w, "%s [%s]     ERROR", ts, session)
		if ee.Op != "" {
			fmt.Fprintf(w, " op=%s", ee.Op)
		}
		fmt.Fprintf(w, " %s\n", ee.Message)

	default:
		fmt.Fprintf(w, "%s [%s]     UNKNOWN category=%d\n", ts, session, event.Category)
	}
}

// shortenID returns the first 8 characters of a session id.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func parseDirection(s string) (trace.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return trace.DirectionIn, nil
	case "out":
		return trace.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (want in or out)", s)
	}
}

func parseCategory(s string) (trace.Category, error) {
	switch strings.ToLower(s) {
	case "envelope":
		return trace.CategoryEnvelope, nil
	case "state":
		return trace.CategoryState, nil
	case "error":
		return trace.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category %q (want envelope, state or error)", s)
	}
}
