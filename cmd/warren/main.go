// ABOUTME: Entry point for the warren agent orchestration server
// ABOUTME: Wires the store, engine, broadcaster, enrichment pool, manager, and gateway

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/warren/internal/broadcast"
	"github.com/2389/warren/internal/config"
	"github.com/2389/warren/internal/engine"
	"github.com/2389/warren/internal/enrich"
	"github.com/2389/warren/internal/gateway"
	"github.com/2389/warren/internal/manager"
	"github.com/2389/warren/internal/orchestrator"
	"github.com/2389/warren/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
__      ____ _ _ __ _ __ ___ _ __
\ \ /\ / / _' | '__| '__/ _ \ '_ \
 \ V  V / (_| | |  | | |  __/ | | |
  \_/\_/ \__,_|_|  |_|  \___|_| |_|
`

// getConfigPath returns the path to the warren config file.
// Priority: WARREN_CONFIG env var > XDG_CONFIG_HOME/warren/warren.yaml > ~/.config/warren/warren.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WARREN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "warren.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "warren", "warren.yaml")
}

// getDataPath returns the path to the warren data directory.
// Priority: XDG_DATA_HOME/warren > ~/.local/share/warren
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "warren")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: warren <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the orchestration server")
		fmt.Println("  init     Write a default config file")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration; a missing file falls back to defaults so
	// `warren serve` works out of the box
	var cfg *config.Config
	if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
		cfg = config.Default()
		cfg.Database.Path = filepath.Join(getDataPath(), "warren.db")
	} else {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	presets, err := config.LoadPresets(cfg.Presets.Path)
	if err != nil {
		return fmt.Errorf("loading presets: %w", err)
	}

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Engine:   %s\n", cfg.Engine.Type)
	if len(presets) > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Presets:  %s\n", strings.Join(presets.Names(), ", "))
	}
	fmt.Println()

	logger.Info("starting warren",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	// Persistence
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// Engine
	eng := engine.NewScripted()
	eng.StepDelay = cfg.Engine.StepDelay

	// Event fan-out and enrichment
	bus := broadcast.New(logger, cfg.Broadcast.BufferSize)
	defer bus.Close()

	pool := enrich.NewPool(st, nil, logger, enrich.Options{
		Workers:   cfg.Enrichment.Workers,
		QueueSize: cfg.Enrichment.QueueSize,
		Timeout:   cfg.Enrichment.Timeout,
	})
	defer pool.Close()

	// Manager and operations
	mgr := manager.NewManager(st, eng, bus, pool, logger, manager.Options{
		DefaultModel:      cfg.Engine.DefaultModel,
		DefaultWorkingDir: cfg.Engine.DefaultWorkingDir,
		Presets:           presets,
	})

	registry := orchestrator.NewRegistry(logger)
	if err := orchestrator.RegisterBuiltinOps(registry, mgr, st); err != nil {
		return fmt.Errorf("registering operations: %w", err)
	}

	// Serve until signalled, then drain executions
	gw := gateway.New(cfg.Server, registry, st, bus, logger)
	runErr := gw.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := mgr.Shutdown(drainCtx); err != nil {
		logger.Warn("executions did not drain cleanly", "error", err)
	}

	return runErr
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "warren.db")

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# warren configuration
# Generated by warren init

server:
  http_addr: ":8180"

database:
  path: "%s"

engine:
  type: "scripted"
  default_model: "sonnet"

enrichment:
  workers: 2
  queue_size: 256
  timeout: "10s"

broadcast:
  buffer_size: 64

logging:
  level: "info"
  format: "text"
`, dbPath)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("\nTo start the server:")
	fmt.Println("  warren serve")

	return nil
}
