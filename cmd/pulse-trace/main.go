// Command pulse-trace views and analyzes PulseGate protocol trace
// files.
//
// Trace files are created by enabling Debug with a TracePath in the
// session config, or with the pulse-cli -trace flag.
//
// Usage:
//
//	pulse-trace <command> [flags] <file.trace>
//
// Commands:
//
//	view     View trace file in human-readable format
//	export   Export trace file to JSONL
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	pulse-trace view session.trace
//
//	# View only outbound envelopes
//	pulse-trace view -direction out session.trace
//
//	# Export to JSONL
//	pulse-trace export session.trace > session.jsonl
//
//	# Show statistics
//	pulse-trace stats session.trace
package main

import (
	"fmt"
	"os"

	"github.com/pulsegate/pulsegate-go/cmd/pulse-trace/commands"
)

const usage = `pulse-trace - PulseGate Protocol Trace Analyzer

Usage:
  pulse-trace <command> [flags] <file.trace>

Commands:
  view     View trace file in human-readable format
  export   Export trace file to JSONL
  stats    Show statistics about the trace file

Use "pulse-trace <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = commands.RunView(args, os.Stdout)
	case "export":
		err = commands.RunExport(args, os.Stdout)
	case "stats":
		err = commands.RunStats(args, os.Stdout)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "pulse-trace: %v\n", err)
		os.Exit(1)
	}
}
