package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/veralog-io/veralog-go/internal/auditor"
	"github.com/veralog-io/veralog-go/pkg/client"
	"github.com/veralog-io/veralog-go/pkg/state"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("auditor exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("auditor")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("veralog")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("auditor.port", 8480)
	viper.SetDefault("auditor.interval", "30s")
	viper.SetDefault("auditor.timeout", "10s")
	viper.SetDefault("auditor.rpc_rate", 10)
	viper.SetDefault("auditor.max_concurrent", 4)
	viper.SetDefault("auditor.cors_origins", []string{"*"})
	viper.SetDefault("auditor.rate_limit_rps", 20)
	viper.SetDefault("ledger.addr", "localhost:3322")
	viper.SetDefault("ledger.databases", []string{"defaultdb"})
	viper.SetDefault("ledger.verification_key", "")
	viper.SetDefault("state.dir", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Trust anchor store ───────────────────────────────────────────────────
	var anchors state.Service = state.NewCache()
	if dir := viper.GetString("state.dir"); dir != "" {
		store, err := state.OpenLevelDB(filepath.Join(dir, "anchors"))
		if err != nil {
			return fmt.Errorf("open state dir: %w", err)
		}
		defer store.Close() //nolint:errcheck
		anchors = store
		logger.Info("anchor store ready", zap.String("dir", dir))
	} else {
		logger.Warn("no state.dir configured, anchors will not survive restarts")
	}

	// ── Ledger clients, one per audited database ─────────────────────────────
	addr := viper.GetString("ledger.addr")
	databases := viper.GetStringSlice("ledger.databases")
	if len(databases) == 0 {
		return errors.New("no databases configured")
	}

	shared := []client.Option{client.WithStateService(anchors)}
	if keyPath := viper.GetString("ledger.verification_key"); keyPath != "" {
		shared = append(shared, client.WithServerSigningKeyFile(keyPath))
		logger.Info("requiring signed ledger states", zap.String("key", keyPath))
	}

	clients := make(map[string]auditor.LedgerClient, len(databases))
	var owned []*client.Client
	for _, db := range databases {
		opts := append([]client.Option{
			client.WithLogger(logger.With(zap.String("database", db))),
		}, shared...)
		c, err := client.NewFromURI(fmt.Sprintf("veralog://%s/%s", addr, db), opts...)
		if err != nil {
			return fmt.Errorf("client for %s: %w", db, err)
		}
		clients[db] = c
		owned = append(owned, c)
	}
	defer func() {
		for _, c := range owned {
			c.Close() //nolint:errcheck
		}
	}()
	logger.Info("auditing ledger", zap.String("addr", addr), zap.Strings("databases", databases))

	aud := auditor.New(clients, auditor.Config{
		Interval:      viper.GetDuration("auditor.interval"),
		Timeout:       viper.GetDuration("auditor.timeout"),
		RPCRate:       rate.Limit(viper.GetFloat64("auditor.rpc_rate")),
		RPCBurst:      2 * viper.GetInt("auditor.rpc_rate"),
		MaxConcurrent: viper.GetInt("auditor.max_concurrent"),
	}, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  viper.GetStringSlice("auditor.cors_origins"),
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	if rps := viper.GetInt("auditor.rate_limit_rps"); rps > 0 {
		router.Use(auditor.RateLimiter(rate.Limit(rps), rps*2))
	}
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", auditor.MetricsHandler())

	v1 := router.Group("/v1")
	auditor.NewHandler(aud, logger).Register(v1)

	// ── Run ──────────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runCtx, stopAudits := context.WithCancel(context.Background())
	defer stopAudits()
	go aud.Run(runCtx)

	httpPort := viper.GetInt("auditor.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("auditor HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down auditor...")
	stopAudits()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("auditor stopped")
	return nil
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
