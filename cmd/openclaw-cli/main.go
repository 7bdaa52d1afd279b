// ABOUTME: Entry point for the openclaw-cli gateway client.
// ABOUTME: Asks the remote agent questions and inspects gateway health over WebSocket.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/ddrayne/openclaw-client/internal/config"
	"github.com/ddrayne/openclaw-client/internal/gateway"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const banner = `
                               _
   ___  _ __   ___ _ __   ___| | __ ___      __
  / _ \| '_ \ / _ \ '_ \ / __| |/ _' \ \ /\ / /
 | (_) | |_) |  __/ | | | (__| | (_| |\ V  V /
  \___/| .__/ \___|_| |_|\___|_|\__,_| \_/\_/
       |_|
`

// getConfigPath returns the path to the client config file.
// Priority: OPENCLAW_CONFIG env var > XDG_CONFIG_HOME/openclaw/client.yaml > ~/.config/openclaw/client.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OPENCLAW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "client.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "openclaw", "client.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: openclaw-cli <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  ask <prompt>     Ask the agent a question and print the answer")
		fmt.Println("  stream <prompt>  Ask the agent and print output as it arrives")
		fmt.Println("  health           Check gateway health")
		fmt.Println("  status           Show gateway status")
		fmt.Println("  watch [event..]  Print gateway events until interrupted")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "ask":
		err = runAsk(ctx, os.Args[2:], false)
	case "stream":
		err = runAsk(ctx, os.Args[2:], true)
	case "health":
		err = runInfo(ctx, os.Args[2:], "health")
	case "status":
		err = runInfo(ctx, os.Args[2:], "status")
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// clientFlags is the flag set shared by every subcommand.
type clientFlags struct {
	fs         *pflag.FlagSet
	configPath *string
	timeout    *time.Duration
	session    *string
	model      *string
	thinking   *string
	verbose    *bool
}

func newClientFlags(name string) *clientFlags {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	return &clientFlags{
		fs:         fs,
		configPath: fs.String("config", getConfigPath(), "path to client config file"),
		timeout:    fs.Duration("timeout", 0, "agent response timeout (overrides config)"),
		session:    fs.String("session", "", "gateway session key (overrides config)"),
		model:      fs.String("model", "", "model override"),
		thinking:   fs.String("thinking", "", "thinking-mode override"),
		verbose:    fs.BoolP("verbose", "v", false, "debug logging"),
	}
}

// connect loads configuration, applies flag overrides, and brings up a
// connected client.
func (f *clientFlags) connect(ctx context.Context) (*gateway.Client, error) {
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if *f.timeout > 0 {
		cfg.Session.Timeout = *f.timeout
	}
	if *f.session != "" {
		cfg.Session.Key = *f.session
	}
	if *f.model != "" {
		cfg.Session.Model = *f.model
	}
	if *f.thinking != "" {
		cfg.Session.Thinking = *f.thinking
	}
	if *f.verbose {
		cfg.Logging.Level = "debug"
	}

	logger := setupLogger(cfg.Logging)

	client := gateway.NewClient(gateway.ClientConfig{
		Conn: gateway.ConnConfig{
			Host:   cfg.Gateway.Host,
			Port:   cfg.Gateway.Port,
			Token:  cfg.Gateway.Token,
			UseTLS: cfg.Gateway.UseTLS,
		},
		Timeout:    cfg.Session.Timeout,
		SessionKey: cfg.Session.Key,
		Model:      cfg.Session.Model,
		Thinking:   cfg.Session.Thinking,
		Logger:     logger,
	})

	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func runAsk(ctx context.Context, args []string, stream bool) error {
	name := "ask"
	if stream {
		name = "stream"
	}
	flags := newClientFlags(name)
	if err := flags.fs.Parse(args); err != nil {
		return err
	}

	prompt := strings.TrimSpace(strings.Join(flags.fs.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: openclaw-cli %s [flags] <prompt>", name)
	}

	client, err := flags.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if stream {
		chunks, err := client.StreamAgent(ctx, prompt)
		if err != nil {
			return err
		}
		for chunk := range chunks {
			if chunk.Err != nil {
				fmt.Println()
				return chunk.Err
			}
			fmt.Print(chunk.Text)
		}
		fmt.Println()
		return nil
	}

	answer, err := client.AskAgent(ctx, prompt)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func runInfo(ctx context.Context, args []string, method string) error {
	flags := newClientFlags(method)
	if err := flags.fs.Parse(args); err != nil {
		return err
	}

	client, err := flags.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var payload json.RawMessage
	switch method {
	case "health":
		payload, err = client.Health(ctx)
	case "status":
		payload, err = client.Status(ctx)
	}
	if err != nil {
		return err
	}

	return printJSON(payload)
}

func runWatch(ctx context.Context, args []string) error {
	flags := newClientFlags("watch")
	if err := flags.fs.Parse(args); err != nil {
		return err
	}

	events := flags.fs.Args()
	if len(events) == 0 {
		events = []string{"agent", "presence", "health"}
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	client, err := flags.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	green := color.New(color.FgGreen)
	for _, event := range events {
		name := event
		client.OnEvent(name, func(payload json.RawMessage) {
			green.Printf("%s ", name)
			gray.Print(time.Now().Format("15:04:05 "))
			fmt.Println(string(payload))
		})
	}
	client.OnConnectivityChange(func(connected bool) {
		if connected {
			green.Println("[connected]")
		} else {
			color.New(color.FgYellow).Println("[disconnected]")
		}
	})

	green.Print("    ▶ ")
	fmt.Printf("Watching:  %s\n\n", strings.Join(events, ", "))

	<-ctx.Done()
	return nil
}

func printJSON(payload json.RawMessage) error {
	var pretty map[string]any
	if err := json.Unmarshal(payload, &pretty); err != nil {
		fmt.Println(string(payload))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
