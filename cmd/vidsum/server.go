package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/vidsum/internal/api"
	"github.com/kalambet/vidsum/internal/completion"
	"github.com/kalambet/vidsum/internal/config"
	"github.com/kalambet/vidsum/internal/prefetch"
	"github.com/kalambet/vidsum/internal/proxy"
	"github.com/kalambet/vidsum/internal/qa"
	"github.com/kalambet/vidsum/internal/session"
	"github.com/kalambet/vidsum/internal/storage"
	"github.com/kalambet/vidsum/internal/upstream"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vidsum server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		host, _ := cmd.Flags().GetString("host")
		return runServer(host, withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vidsum server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vidsum system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	startCmd.Flags().String("host", "127.0.0.1", "address to bind the HTTP server to")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vidsum.pid")
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

// persistence is what the server needs from the configured backend.
type persistence interface {
	session.Persistence
	api.SummaryLister
	Close() error
}

// openPersistence opens the summary and snapshot backend. The job queue
// always lives in the SQLite store.
func openPersistence(ctx context.Context, cfg config.Config, db *storage.Store) (persistence, error) {
	switch cfg.Storage.Backend {
	case "redis":
		rs, err := storage.OpenRedis(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return nil, err
		}
		rs.SetSummaryCap(cfg.Storage.SummaryCap)
		return rs, nil
	default:
		return nopCloser{db}, nil
	}
}

// nopCloser keeps the shared SQLite store from being closed twice.
type nopCloser struct{ *storage.Store }

func (nopCloser) Close() error { return nil }

func runServer(host string, withMCP bool) error {
	fmt.Fprintln(stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	// MCP owns stdout in stdio mode, so logs always go to stderr.
	logLevel, _ := config.ParseLevel(cfg.Log.Level)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vidsum is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("vidsum is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	db, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	db.SetSummaryCap(cfg.Storage.SummaryCap)

	store, err := openPersistence(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("opening %s backend: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()
	slog.Info("storage ready", "backend", cfg.Storage.Backend, "data_dir", cfg.Storage.DataDir)

	// Upstream services.
	summaries, err := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
	if err != nil {
		return fmt.Errorf("summarization service: %w", err)
	}
	provider, err := completion.New(completion.Config{
		Provider:    cfg.Completion.Provider,
		BaseURL:     cfg.Completion.BaseURL,
		APIKey:      cfg.Completion.APIKey,
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
		Timeout:     cfg.Completion.Timeout,
	})
	if err != nil {
		return fmt.Errorf("completion provider: %w", err)
	}
	gateway := upstream.NewGateway(summaries, provider, upstream.GatewayConfig{
		SummaryLength: cfg.Upstream.SummaryLength,
		QuestionCount: cfg.Upstream.QuestionCount,
	})
	slog.Info("upstream configured",
		"summaries", summaries.BaseURL(),
		"provider", cfg.Completion.Provider,
		"model", cfg.Completion.Model,
	)

	logger := slog.Default()
	orchestrator := qa.New(gateway, logger)
	sessions := session.NewRegistry(store, logger)

	// Restore the default session eagerly so a bad snapshot shows up at startup.
	if _, err := sessions.Get(ctx, session.DefaultName); err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}

	// Start prefetch worker.
	worker := prefetch.NewWorker(db, gateway, store, cfg.Prefetch.PollInterval, logger)
	go worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Forwarder:    proxy.NewForwarder(summaries, logger),
		Orchestrator: orchestrator,
		Sessions:     sessions,
		Summaries:    store,
		Jobs:         db,
		Token:        cfg.Server.APIToken,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
	})
	if cfg.Server.APIToken == "" {
		slog.Warn("session API is unauthenticated; set server.api_token to require a bearer token")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Orchestrator: orchestrator,
			Sessions:     sessions,
			Summaries:    store,
			Version:      version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(stderr, "vidsum listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
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
		printError("vidsum is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vidsum (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vidsum (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Summaries", "%s", cfg.Upstream.BaseURL)
	printStatus("Provider", "%s (%s)", cfg.Completion.Provider, cfg.Completion.Model)
	printStatus("Storage", "%s", cfg.Storage.Backend)

	if running {
		c := &apiClient{baseURL: serverURL, token: cfg.Server.APIToken, httpClient: client}
		if r, err := c.get(ctx, "/session"); err == nil {
			var view sessionView
			if decodeJSON(r, &view) == nil {
				if view.Ready {
					printStatus("Session", "%s (%d turns)", view.VideoRef, len(view.Turns))
				} else {
					printStatus("Session", "no video loaded")
				}
			}
		}
		if r, err := c.get(ctx, "/summaries?limit=100"); err == nil {
			var records []storage.SummaryRecord
			if decodeJSON(r, &records) == nil {
				printStatus("Cached", "%s", countLabel(len(records), 100))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
