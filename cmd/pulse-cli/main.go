// Command pulse-cli is an interactive console for a PulseGate gateway.
//
// It maintains a resilient session to the gateway and exposes the
// client operations as console commands.
//
// Usage:
//
//	pulse-cli [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-url string         Gateway websocket URL
//	-token string       Bearer auth token (or PULSEGATE_TOKEN)
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-trace string       Protocol trace capture file (CBOR)
//	-no-reconnect       Disable automatic reconnection
//
// Examples:
//
//	# Connect with an explicit URL and token
//	pulse-cli -url wss://gateway.example.com/ws -token $TOKEN
//
//	# Load settings from a config file and capture a protocol trace
//	pulse-cli -config pulsegate.yaml -trace session.trace
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulsegate/pulsegate-go/cmd/pulse-cli/console"
	"github.com/pulsegate/pulsegate-go/pkg/session"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Configuration file path (YAML)")
		url         = flag.String("url", "", "Gateway websocket URL")
		token       = flag.String("token", "", "Bearer auth token (or PULSEGATE_TOKEN)")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		tracePath   = flag.String("trace", "", "Protocol trace capture file (CBOR)")
		noReconnect = flag.Bool("no-reconnect", false, "Disable automatic reconnection")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulse-cli: %v\n", err)
		os.Exit(1)
	}

	// Flags override the config file.
	if *url != "" {
		cfg.URL = *url
	}
	if *token != "" {
		cfg.Token = *token
	} else if cfg.Token == "" {
		cfg.Token = os.Getenv("PULSEGATE_TOKEN")
	}
	if *tracePath != "" {
		cfg.Debug = true
		cfg.TracePath = *tracePath
	}
	if *noReconnect {
		cfg.AutoReconnect = false
	}
	cfg.ClientType = "pulse-cli"

	sess, err := session.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulse-cli: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ic, err := console.New(sess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulse-cli: %v\n", err)
		os.Exit(1)
	}

	// Route log output through readline so it does not clobber the
	// prompt.
	logger := slog.New(slog.NewTextHandler(ic.Stdout(), &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	sess.SetLogger(logger)

	if err := sess.Connect(ctx); err != nil {
		logger.Warn("initial connect failed, use 'connect' to retry", "error", err)
	}

	go ic.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
		// Cancelled by the console quit command.
	}
}

func loadConfig(path string) (session.Config, error) {
	if path == "" {
		return session.DefaultConfig(), nil
	}
	return session.LoadConfig(path)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
