package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/m2i-duo/mandoc-ocr-api/internal/config"
	"github.com/m2i-duo/mandoc-ocr-api/internal/ocr"
	"github.com/m2i-duo/mandoc-ocr-api/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the recognition API",
	Long: `Start an HTTP server that recognizes uploaded scans with both backends.

The server provides the following endpoints:
  POST /crnn/chunks, /tesseract/chunks   - one result per segmented word
  POST /crnn/merged, /tesseract/merged   - all word labels joined by a space
  POST /crnn/pdf, /tesseract/pdf         - every page image of a PDF
  POST /crnn/batch, /tesseract/batch     - several images at once
  GET  /ws/recognize                     - streaming recognition over WebSocket
  GET  /health, /models, /metrics

Examples:
  mandoc serve
  mandoc serve --port 8080
  mandoc serve --host 0.0.0.0 --port 3000 --backends crnn`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origin")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().StringSlice("backends", []string{server.BackendCRNN, server.BackendTesseract},
		"backends to start; unavailable ones are skipped")
	serveCmd.Flags().Int("requests-per-minute", 0, "maximum requests per minute per client (0 disables)")
	serveCmd.Flags().Int("requests-per-hour", 0, "maximum requests per hour per client (0 disables)")
	serveCmd.Flags().Int("max-requests-per-day", 0, "maximum requests per day per client (0 disables)")
	serveCmd.Flags().Int("max-data-per-day", 0, "maximum upload volume per day per client in MB (0 disables)")
}

// applyServeFlags overrides server settings with explicitly set flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("requests-per-minute") {
		cfg.Server.RateLimit.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("requests-per-hour") {
		cfg.Server.RateLimit.RequestsPerHour, _ = flags.GetInt("requests-per-hour")
	}
	if flags.Changed("max-requests-per-day") {
		cfg.Server.RateLimit.RequestsPerDay, _ = flags.GetInt("max-requests-per-day")
	}
	if flags.Changed("max-data-per-day") {
		cfg.Server.RateLimit.MaxDataPerDayMB, _ = flags.GetInt("max-data-per-day")
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	names, _ := cmd.Flags().GetStringSlice("backends")
	for i, n := range names {
		if names[i], err = parseBackend(n); err != nil {
			return err
		}
	}

	logger := slog.Default()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	b, err := buildBackends(ctx, cfg, names, nil, true, logger)
	if err != nil {
		return err
	}

	srvCfg := newServerConfig(cfg, b, logger)
	ocrServer, err := server.NewServer(srvCfg)
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           ocrServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.TimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.TimeoutSec+5) * time.Second,
	}

	if srvCfg.RateLimiter != nil {
		go pruneRateLimiter(ctx, srvCfg.RateLimiter)
	}

	go func() {
		logger.Info("Starting OCR server", "addr", addr, "backends", names)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	logger.Info("Starting graceful shutdown", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := ocrServer.Close(); err != nil {
		logger.Error("Server cleanup error", "error", err)
	}
	logger.Info("Graceful shutdown completed")
	return nil
}

// newServerConfig maps the loaded configuration and backends to server.Config.
func newServerConfig(cfg *config.Config, b *backends, logger *slog.Logger) server.Config {
	srvCfg := server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		TimeoutSec:  cfg.Server.TimeoutSec,
		Backends:    b.services,
		Version:     versionString(),
		Closers:     []io.Closer{b},
		Logger:      logger,
	}
	if b.model != nil {
		srvCfg.Model = b.model
	}
	if b.engine != nil {
		srvCfg.OCREngine = b.engine.Name()
		srvCfg.OCRLanguage = cfg.OCR.Language
		if srvCfg.OCRLanguage == "" {
			srvCfg.OCRLanguage = ocr.DefaultLanguage
		}
	}
	rl := cfg.Server.RateLimit
	limiter := server.NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.RequestsPerDay, int64(rl.MaxDataPerDayMB)*1024*1024)
	if limiter.Enabled() {
		srvCfg.RateLimiter = limiter
	}
	return srvCfg
}

// pruneRateLimiter drops idle clients once an hour.
func pruneRateLimiter(ctx context.Context, rl *server.RateLimiter) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Prune(); n > 0 {
				slog.Debug("Pruned rate limiter clients", "count", n)
			}
		}
	}
}
