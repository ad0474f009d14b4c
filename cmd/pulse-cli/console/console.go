// Package console provides the interactive command-line interface for
// pulse-cli.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/pulsegate/pulsegate-go/pkg/connection"
	"github.com/pulsegate/pulsegate-go/pkg/session"
	"github.com/pulsegate/pulsegate-go/pkg/wire"
)

// Console handles interactive mode for pulse-cli.
type Console struct {
	sess *session.Session
	rl   *readline.Instance

	// watches maps event types to their handler registrations so
	// unwatch can remove them.
	watches map[string]session.HandlerID
}

// New creates a new interactive console.
func New(sess *session.Session) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pulse> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Console{
		sess:    sess,
		rl:      rl,
		watches: make(map[string]session.HandlerID),
	}

	sess.OnStateChange(func(from, to connection.State) {
		fmt.Fprintf(rl.Stdout(), "connection: %s -> %s\n", from, to)
	})

	return c, nil
}

// Stdout returns a writer that properly coordinates with the readline
// input. Use this for log output to avoid interfering with the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "connect":
			c.cmdConnect(ctx)

		case "subscribe", "sub":
			c.cmdSubscribe(args)

		case "unsubscribe", "unsub":
			c.cmdUnsubscribe(args)

		case "publish", "pub":
			c.cmdPublish(args)

		case "replay":
			c.cmdReplay(args)

		case "watch":
			c.cmdWatch(args)

		case "unwatch":
			c.cmdUnwatch(args)

		case "channels", "subs":
			c.cmdChannels()

		case "status":
			c.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
PulseGate Commands:
  Connection:
    connect                            - Connect to the gateway
    status                             - Show session status

  Channels:
    subscribe <channel> [channel...]   - Subscribe to channels
    unsubscribe <channel> [channel...] - Unsubscribe from channels
    channels                           - List active subscriptions

  Events:
    publish <channel> <type> [json]    - Publish an event
    replay <channel> <since-id> [n]    - Replay events from a position
    watch <event-type>                 - Print events of a type as they arrive
    unwatch <event-type>               - Stop printing events of a type

  Other:
    help                               - Show this help
    quit                               - Exit`)
}

func (c *Console) cmdConnect(ctx context.Context) {
	if err := c.sess.Connect(ctx); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "connect failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "connected (session %s, tenant %s)\n", c.sess.ID(), c.sess.TenantID())
}

func (c *Console) cmdSubscribe(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "usage: subscribe <channel> [channel...]")
		return
	}
	if err := c.sess.Subscribe(args, nil); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "subscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "subscribed to %d channel(s)\n", len(args))
}

func (c *Console) cmdUnsubscribe(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "usage: unsubscribe <channel> [channel...]")
		return
	}
	if err := c.sess.Unsubscribe(args); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "unsubscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "unsubscribed from %d channel(s)\n", len(args))
}

func (c *Console) cmdPublish(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "usage: publish <channel> <event-type> [json-payload]")
		return
	}

	var payload any
	if len(args) > 2 {
		raw := strings.Join(args[2:], " ")
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			fmt.Fprintf(c.rl.Stdout(), "invalid JSON payload: %v\n", err)
			return
		}
	}

	if err := c.sess.Publish(args[0], args[1], payload, nil); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "publish failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "published")
}

func (c *Console) cmdReplay(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "usage: replay <channel> <since-id> [count]")
		return
	}

	count := 0
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "invalid count: %v\n", err)
			return
		}
		count = n
	}

	if err := c.sess.Replay(args[0], args[1], count); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "replay failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "replay requested")
}

func (c *Console) cmdWatch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "usage: watch <event-type>")
		return
	}

	eventType := args[0]
	if _, ok := c.watches[eventType]; ok {
		fmt.Fprintf(c.rl.Stdout(), "already watching %q\n", eventType)
		return
	}

	out := c.rl.Stdout()
	c.watches[eventType] = c.sess.On(eventType, session.HandlerFunc(func(ev wire.Event) {
		fmt.Fprintf(out, "[%s] %s id=%s payload=%s\n",
			ev.Channel(), ev.Type, ev.ID, string(ev.Payload))
	}))
	fmt.Fprintf(out, "watching %q\n", eventType)
}

func (c *Console) cmdUnwatch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "usage: unwatch <event-type>")
		return
	}

	eventType := args[0]
	id, ok := c.watches[eventType]
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "not watching %q\n", eventType)
		return
	}

	c.sess.Off(eventType, id)
	delete(c.watches, eventType)
	fmt.Fprintf(c.rl.Stdout(), "stopped watching %q\n", eventType)
}

func (c *Console) cmdChannels() {
	subs := c.sess.Subscriptions()
	if len(subs) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "no active subscriptions")
		return
	}

	sort.Strings(subs)
	for _, ch := range subs {
		if pos, ok := c.sess.LastPosition(ch); ok {
			fmt.Fprintf(c.rl.Stdout(), "  %s (position %s)\n", ch, pos)
		} else {
			fmt.Fprintf(c.rl.Stdout(), "  %s\n", ch)
		}
	}
}

func (c *Console) cmdStatus() {
	out := c.rl.Stdout()
	fmt.Fprintf(out, "session:       %s\n", c.sess.ID())
	fmt.Fprintf(out, "tenant:        %s\n", c.sess.TenantID())
	fmt.Fprintf(out, "state:         %s\n", c.sess.State())
	fmt.Fprintf(out, "subscriptions: %d\n", len(c.sess.Subscriptions()))
	fmt.Fprintf(out, "prefix:        %s\n", session.ChannelPrefix(c.sess.TenantID()))
}
