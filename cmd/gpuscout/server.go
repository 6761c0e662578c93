package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/harwick/gpuscout/internal/api"
	"github.com/harwick/gpuscout/internal/classifier"
	"github.com/harwick/gpuscout/internal/config"
	"github.com/harwick/gpuscout/internal/dedup"
	"github.com/harwick/gpuscout/internal/enrich"
	"github.com/harwick/gpuscout/internal/heuristics"
	"github.com/harwick/gpuscout/internal/ingest"
	"github.com/harwick/gpuscout/internal/pipeline"
	"github.com/harwick/gpuscout/internal/registry"
	"github.com/harwick/gpuscout/internal/resolve"
	"github.com/harwick/gpuscout/internal/scoring"
	"github.com/harwick/gpuscout/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gpuscout server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gpuscout server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gpuscout system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "gpuscout.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// buildResolver loads the device registry and constructs the resolution
// engine. A missing or malformed registry is fatal; a missing classifier
// artifact is not.
func buildResolver(cfg config.Config) (*registry.Registry, *resolve.Engine, error) {
	reg, err := registry.LoadFile(cfg.Registry.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading device registry: %w", err)
	}
	model := classifier.Detect(cfg.Resolver.ClassifierPath)
	engine := resolve.NewEngine(reg, model, resolve.Config{
		FuzzyThreshold:    cfg.Resolver.FuzzyThreshold,
		ValidityThreshold: cfg.Resolver.ValidityThreshold,
	})
	return reg, engine, nil
}

func buildPipeline(cfg config.Config) (*pipeline.Pipeline, *registry.Registry, *resolve.Engine, error) {
	reg, engine, err := buildResolver(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	hcfg, err := heuristics.LoadConfig(cfg.Resolver.HeuristicsPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading heuristics config: %w", err)
	}
	weights, err := scoring.LoadWeights(cfg.Resolver.ScoringPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading scoring weights: %w", err)
	}

	taggers := []heuristics.Tagger{
		heuristics.NewCapabilityTagger(hcfg.Capability),
		heuristics.NewCapacityTagger(hcfg.Capacity),
	}
	thresholds := dedup.Thresholds{
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		PriceEpsilon:        cfg.Dedup.PriceEpsilon,
	}

	p := pipeline.New(
		engine,
		enrich.New(reg),
		taggers,
		scoring.NewAdditive(weights),
		thresholds,
		cfg.Pipeline.Parallelism,
	)
	return p, reg, engine, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "gpuscout version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure API token exists.
	apiToken, err := config.GetAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("gpuscout is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("gpuscout is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build the analysis pipeline. The device registry is required; the
	// classifier degrades gracefully inside buildResolver.
	p, reg, engine, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Sync the registry into the devices table so API consumers see the
	// same device set the resolver uses.
	if err := store.ReplaceDevices(reg.Devices()); err != nil {
		return fmt.Errorf("syncing device registry: %w", err)
	}
	slog.Info("device registry loaded", "devices", reg.Len(), "path", cfg.Registry.Path)

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:      store,
		Registry:   reg,
		Resolver:   engine,
		Token:      apiToken,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start ingest worker.
	worker := ingest.NewWorker(store, p, store, func() string { return uuid.New().String() }, 500*time.Millisecond)
	go worker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Registry: reg,
		Resolver: engine,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "gpuscout listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("gpuscout is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop gpuscout (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to gpuscout (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check device registry.
	if reg, regErr := registry.LoadFile(cfg.Registry.Path); regErr != nil {
		printStatus("Registry", "error: %v", regErr)
	} else {
		printStatus("Registry", "%d devices (%s)", reg.Len(), cfg.Registry.Path)
	}

	if cfg.Resolver.ClassifierPath == "" {
		printStatus("Classifier", "disabled (lexical validity only)")
	} else {
		printStatus("Classifier", "%s", cfg.Resolver.ClassifierPath)
	}

	// Show listing counts if server is running.
	if running {
		if apiCli, clientErr := newAPIClient(); clientErr == nil {
			statsResp, statsErr := apiCli.get(context.Background(), "/stats")
			if statsErr == nil {
				var stats struct {
					Totals struct {
						Total      int `json:"Total"`
						Resolved   int `json:"Resolved"`
						Unique     int `json:"Unique"`
						Duplicates int `json:"Duplicates"`
					} `json:"totals"`
				}
				if decodeJSON(statsResp, &stats) == nil {
					printStatus("Listings", "%d total, %d resolved, %d unique, %d duplicates",
						stats.Totals.Total, stats.Totals.Resolved, stats.Totals.Unique, stats.Totals.Duplicates)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
