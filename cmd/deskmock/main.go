// deskmock - in-memory support-desk backend for local development
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/deskline/internal/api"
	"github.com/ashureev/deskline/internal/clock"
	"github.com/ashureev/deskline/internal/config"
	"github.com/ashureev/deskline/internal/mockdesk"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	port := flag.String("port", cfg.Port, "listen port")
	quiet := flag.Bool("quiet", false, "disable the request log")
	flag.Parse()
	cfg.Port = *port

	slog.Info("Starting mock backend", "port", cfg.Port, "dev", cfg.IsDevelopment())

	clk := clock.Real()
	backend := mockdesk.NewBackend(mockdesk.Options{
		AccessTokenTTL: cfg.AccessTokenTTL,
		Clock:          clk,
		Logger:         logger,
	})

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}
	hubSrv := mockdesk.NewHubServer(backend, originPatterns(origins), logger)

	r := api.NewRouter(api.RouterConfig{
		Backend:        backend,
		Hub:            hubSrv,
		HubPath:        cfg.HubPath,
		AllowedOrigins: origins,
		AccessLog:      !*quiet,
		Logger:         logger,
	})

	// No WriteTimeout: hub connections are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mockdesk.StartPresenceWorker(ctx, backend, clk, cfg.PresenceTTL, hubSrv.AgentOffline)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr, "hub_path", cfg.HubPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// originPatterns strips schemes; websocket.Accept matches hosts.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		out = append(out, o)
	}
	return out
}
