package commands

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/pulsegate/pulsegate-go/pkg/trace"
)

// exportRecord is the JSONL shape of one trace event.
type exportRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Tenant    string    `json:"tenant,omitempty"`
	Category  string    `json:"category"`
	Direction string    `json:"direction,omitempty"`

	Envelope    *trace.EnvelopeEvent    `json:"envelope,omitempty"`
	StateChange *trace.StateChangeEvent `json:"state_change,omitempty"`
	Error       *trace.ErrorEvent       `json:"error,omitempty"`
}

// RunExport writes a trace file as JSONL, one event per line.
func RunExport(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: pulse-trace export <file.trace>")
	}

	reader, err := trace.OpenReader(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	enc := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		rec := exportRecord{
			Timestamp:   event.Timestamp,
			SessionID:   event.SessionID,
			Tenant:      event.Tenant,
			Category:    event.Category.String(),
			Envelope:    event.Envelope,
			StateChange: event.StateChange,
			Error:       event.Error,
		}
		if event.Category == trace.CategoryEnvelope {
			rec.Direction = event.Direction.String()
		}

		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
}
