// Command convosync is a terminal client for one real-time conversation:
// it connects to the STOMP broker, keeps the conversation in sync and shows
// presence and unread counts.
package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/aeolun/convosync/pkg/client"
	"github.com/aeolun/convosync/pkg/client/ui"
	"github.com/aeolun/convosync/pkg/config"
	"github.com/aeolun/convosync/pkg/engine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "convosync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional; CONVOSYNC_* variables may come from a local .env file
	_ = godotenv.Load(".env")

	flagSet := pflag.NewFlagSet("convosync", pflag.ContinueOnError)
	configPath := flagSet.String("config", config.DefaultPath, "path to config file")
	serverURL := flagSet.String("server", "", "broker websocket URL (overrides server.url)")
	apiBase := flagSet.String("api", "", "conversation API base URL (overrides server.api_base)")
	username := flagSet.StringP("user", "u", "", "username (overrides identity.username)")
	conversationID := flagSet.StringP("conversation", "c", "", "conversation id to open")
	metricsAddr := flagSet.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9090")
	noNotify := flagSet.Bool("no-notify", false, "disable desktop notifications")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("server") {
		cfg.Server.URL = *serverURL
	}
	if flagSet.Changed("api") {
		cfg.Server.APIBase = *apiBase
	}
	if flagSet.Changed("user") {
		cfg.Identity.Username = *username
	}
	if flagSet.Changed("metrics-addr") {
		cfg.Client.MetricsAddr = *metricsAddr
	}
	if *noNotify {
		cfg.Client.Notifications = false
	}

	if cfg.Identity.Token != "" {
		info, err := client.CheckToken(cfg.Identity.Token, time.Now())
		if err != nil {
			return fmt.Errorf("identity.token: %w", err)
		}
		if cfg.Identity.UserID == "" {
			cfg.Identity.UserID = info.UserID
		}
		if cfg.Identity.Username == "" {
			cfg.Identity.Username = info.Username
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := openLogger(&cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	statePath, err := cfg.GetStatePath()
	if err != nil {
		return err
	}
	state, err := client.OpenState(statePath)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	defer state.Close()

	identity := cfg.ToIdentity()
	if err := state.SetLastUsername(identity.Username); err != nil {
		logger.Printf("Failed to save username: %v", err)
	}

	openID := *conversationID
	if openID == "" {
		openID = cfg.Client.Conversation
	}
	if openID == "" {
		openID = state.GetLastConversation()
	}

	conn, err := client.NewConnection(cfg.ToConnectionOptions())
	if err != nil {
		return err
	}
	conn.SetLogger(logger)
	defer conn.Close()

	addr := conn.GetAddress()
	if last, err := state.GetLastSuccessfulConnection(addr); err == nil && last > 0 {
		logger.Printf("Last connected to %s %s", addr, humanize.Time(time.Unix(last, 0)))
	}
	connectErr := conn.Connect()
	if connectErr != nil {
		logger.Printf("Initial connect to %s failed: %v", addr, connectErr)
	} else if err := state.SaveSuccessfulConnection(addr); err != nil {
		logger.Printf("Failed to record connection: %v", err)
	}

	dirOpts := cfg.ToDirectoryOptions()
	dirOpts.Logger = logger
	directory, err := client.NewDirectory(dirOpts)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engOpts := cfg.ToEngineOptions()
	engOpts.Logger = logger
	engOpts.Metrics = engine.NewMetrics(registry)
	eng := engine.New(conn, directory, identity, engOpts)
	if conn.IsConnected() {
		if err := eng.Start(); err != nil {
			return fmt.Errorf("subscribe private queues: %w", err)
		}
	}

	if cfg.Client.MetricsAddr != "" {
		go serveMetrics(cfg.Client.MetricsAddr, registry, conn, logger)
	}

	model := ui.NewModel(conn, state, directory, eng, ui.Options{
		ConversationID: openID,
		Notifications:  cfg.Client.Notifications,
		Logger:         logger,
		ConnectErr:     connectErr,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = program.Run()
	return err
}

// openLogger sends debug output to the configured log file; the terminal
// belongs to the UI.
func openLogger(cfg *config.TOMLConfig) (*log.Logger, func(), error) {
	logPath, err := cfg.GetLogPath()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := log.New(f, "", log.LstdFlags|log.Lmicroseconds)
	return logger, func() { f.Close() }, nil
}

// serveMetrics exposes /metrics and /health. Internal use only.
func serveMetrics(addr string, registry *prometheus.Registry, conn *client.Connection, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !conn.IsConnected() {
			http.Error(w, "disconnected", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	logger.Printf("Metrics server listening on %s (/metrics, /health)", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("Metrics server error: %v", err)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `convosync - terminal client for real-time conversations.

Settings are read from %s (created on first run) and
CONVOSYNC_SECTION_KEY environment variables; flags override both.

Usage:
  convosync [flags]

Flags:
%s`, config.DefaultPath, flagSet.FlagUsages())
}
