package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docrelay/internal/api"
	"docrelay/internal/auth"
	"docrelay/internal/config"
	"docrelay/internal/logger"
	"docrelay/internal/observability"
	"docrelay/internal/redis"
	"docrelay/internal/relay"
	"docrelay/internal/render"
	"docrelay/internal/workspace"

	"github.com/gin-gonic/gin"
	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"
)

// staleUploadAge is how long a spooled upload may sit on disk before the
// cleaner treats it as orphaned. It is longer than any relay can run.
const staleUploadAge = time.Hour

func main() {
	cfg, err := config.Load(os.Getenv("DOCRELAY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	slogger := logger.Init()

	if err := os.MkdirAll(cfg.BasicConfig.TempDir, 0o755); err != nil {
		log.Fatalf("create temp dir: %v", err)
	}

	metrics := observability.NewMetrics(cfg.BasicConfig.MetricsNamespace)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	authService := auth.NewService(cfg.InactivityTimeout(), rdb, metrics)
	authService.StartJanitor(runCtx, cfg.SessionCheckInterval())
	if err := authService.StartSync(runCtx); err != nil {
		log.Fatalf("subscribe session invalidations: %v", err)
	}

	relayClient, err := relay.NewClient(relay.Options{
		Endpoint: cfg.Webhook.URL,
		Timeout:  cfg.RelayTimeout(),
		MaxBytes: cfg.DirectMaxBytes(),
		Metrics:  metrics,
	})
	if err != nil {
		log.Fatalf("init relay client: %v", err)
	}
	if cfg.Path() != "" {
		err := config.Watch(runCtx, cfg.Path(), func(next *config.Config) {
			if next.Webhook.URL == relayClient.Endpoint() {
				return
			}
			if err := relayClient.SetEndpoint(next.Webhook.URL); err != nil {
				slogger.Error("webhook url not applied", "error", err)
				return
			}
			slogger.Info("webhook url updated", "url", next.Webhook.URL)
		})
		if err != nil {
			slogger.Warn("config file will not be watched", "error", err)
		}
	}

	renderer, err := render.NewRenderer()
	if err != nil {
		log.Fatalf("init renderer: %v", err)
	}

	// The upload lock outlives the relay timeout so a crashed replica cannot hold it forever.
	workspaces := workspace.NewManager(rdb, cfg.RelayTimeout()+time.Minute)
	handlers := api.NewHandler(api.Options{
		Auth:          authService,
		Relay:         relayClient,
		Workspaces:    workspaces,
		Renderer:      renderer,
		Metrics:       metrics,
		TempDir:       cfg.BasicConfig.TempDir,
		ProxyMaxBytes: cfg.ProxyMaxBytes(),
		PublicBaseURL: cfg.BasicConfig.PublicBaseURL,
	})
	api.StartTempFileCleaner(runCtx, cfg.BasicConfig.TempDir, api.DefaultTempFileCleanupInterval, staleUploadAge)

	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(), api.SecurityHeaders())
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slogger.Info("server listening", "addr", addr, "webhook", relayClient.Endpoint())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()
	printAccessQR(cfg.BasicConfig.PublicBaseURL, addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slogger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slogger.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	slogger.Info("shutdown complete")
}

// printAccessQR shows the UI address as a QR code when stdout is a terminal.
func printAccessQR(publicBaseURL, addr string) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	target := publicBaseURL
	if target == "" {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		target = fmt.Sprintf("http://%s/", net.JoinHostPort(host, port))
	}
	fmt.Fprintf(os.Stdout, "\nOpen %s\n\n", target)
	qrterminal.GenerateHalfBlock(target, qrterminal.L, os.Stdout)
}
