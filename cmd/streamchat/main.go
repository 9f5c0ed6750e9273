package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"StreamChat/internal/archive"
	"StreamChat/internal/backend"
	"StreamChat/internal/catalog"
	"StreamChat/internal/chatbot"
	"StreamChat/internal/config"
	"StreamChat/internal/gateway"
	"StreamChat/internal/session"
	"StreamChat/internal/telemetry"
)

type flags struct {
	configPath string
	baseURL    string
	archive    string
	debug      bool
	telemetry  bool
	listen     string
	mockAddr   string
	mockDelay  time.Duration
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:           "streamchat",
		Short:         "Multi-session chat client for a streaming model backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), f)
		},
	}
	rootCmd.PersistentFlags().StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&f.baseURL, "base-url", "", "Chat backend root URL")
	rootCmd.PersistentFlags().StringVar(&f.archive, "archive", "", "SQLite file to archive finished turns into")
	rootCmd.PersistentFlags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&f.telemetry, "telemetry", false, "Export traces and metrics to the log directory")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat over WebSocket for browser clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	serveCmd.Flags().StringVar(&f.listen, "listen", "", "Gateway listen address")

	mockCmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Run a local backend that streams mock replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockBackend(cmd.Context(), f)
		},
	}
	mockCmd.Flags().StringVar(&f.mockAddr, "addr", "", "Listen address")
	mockCmd.Flags().DurationVar(&f.mockDelay, "delay", -1, "Delay between streamed fragments")

	transcriptCmd := &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Print an archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscript(cmd.Context(), f, args[0], cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(serveCmd, mockCmd, transcriptCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig merges command-line overrides into the file/env configuration
func loadConfig(f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if f.archive != "" {
		cfg.ArchivePath = f.archive
	}
	if f.debug {
		cfg.Debug = true
	}
	if f.telemetry {
		cfg.Telemetry = true
	}
	if f.listen != "" {
		cfg.ListenAddr = f.listen
	}
	if f.mockAddr != "" {
		cfg.MockAddr = f.mockAddr
	}
	if f.mockDelay >= 0 {
		cfg.MockDelay = f.mockDelay
	}
	return cfg, cfg.Validate()
}

// app holds the wired chat client
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	client  *backend.Client
	ctrl    *chatbot.Controller
	cleanup []func()
}

func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

func newApp(ctx context.Context, f flags) (*app, error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, cleanup: []func(){closeLog}}

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, cfg.Telemetry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.cleanup = append(a.cleanup, shutdown)

	opts := []chatbot.Option{
		chatbot.WithLogger(logger),
		chatbot.WithTelemetry(tracer, meter),
	}
	if cfg.ArchivePath != "" {
		arc, err := archive.Open(cfg.ArchivePath, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		a.cleanup = append(a.cleanup, func() {
			if err := arc.Close(); err != nil {
				logger.Error("failed to close archive", "error", err)
			}
		})
		opts = append(opts, chatbot.WithRecorder(arc))
	}

	a.client = backend.NewClient(cfg.BaseURL, cfg.ConnectTimeout, logger)
	a.cleanup = append(a.cleanup, a.client.CloseIdleConnections)

	cat := catalog.New(session.Model{ID: cfg.FallbackModel, Name: config.FallbackModelName})
	a.ctrl, err = chatbot.NewController(session.NewStore(), cat, a.client, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize controller: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}
	logger.Info("streamchat started", "base_url", cfg.BaseURL, "archive", cfg.ArchivePath)

	// A failed fetch leaves the fallback model selectable
	_ = a.ctrl.LoadCatalog(ctx, a.client)
	return a, nil
}

func runConsole(ctx context.Context, f flags) error {
	a, err := newApp(ctx, f)
	if err != nil {
		return err
	}
	defer a.Close()

	return chatbot.NewConsole(a.ctrl, a.client, os.Stdout).Run(ctx, os.Stdin)
}

func runServe(ctx context.Context, f flags) error {
	a, err := newApp(ctx, f)
	if err != nil {
		return err
	}
	defer a.Close()

	gw := gateway.New(a.ctrl, a.logger)
	defer gw.Close()

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	fmt.Printf("Gateway listening on %s\n", a.cfg.ListenAddr)
	return serveUntilDone(ctx, srv, a.logger)
}

func runMockBackend(ctx context.Context, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	mock := backend.NewMockServer(logger, cfg.MockDelay)
	srv := &http.Server{
		Addr:              cfg.MockAddr,
		Handler:           http.StripPrefix("/api", mock.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	fmt.Printf("Mock backend listening on %s (base URL http://localhost%s/api)\n", cfg.MockAddr, cfg.MockAddr)
	return serveUntilDone(ctx, srv, logger)
}

// runTranscript prints what the archive holds for one session
func runTranscript(ctx context.Context, f flags, sessionID string, out io.Writer) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	if cfg.ArchivePath == "" {
		return errors.New("no archive configured, set --archive or archive_path")
	}

	arc, err := archive.Open(cfg.ArchivePath, slog.New(slog.DiscardHandler))
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer arc.Close()

	return arc.Print(ctx, sessionID, out)
}

// serveUntilDone runs srv until ctx is cancelled, then shuts it down
func serveUntilDone(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", "addr", srv.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
