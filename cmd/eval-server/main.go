// Command eval-server is the primary process: it owns the worker pool, the
// HTTP and WebSocket front ends, and the supporting ledger/archive/event
// side channels. Submitted code never runs in this process; every
// evaluation is dispatched to a forked eval-worker child.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Potat-Industries/eval-server/internal/admin"
	"github.com/Potat-Industries/eval-server/internal/archive"
	"github.com/Potat-Industries/eval-server/internal/common/cache"
	"github.com/Potat-Industries/eval-server/internal/common/db"
	"github.com/Potat-Industries/eval-server/internal/common/http/middleware"
	"github.com/Potat-Industries/eval-server/internal/common/mq"
	"github.com/Potat-Industries/eval-server/internal/config"
	"github.com/Potat-Industries/eval-server/internal/events"
	"github.com/Potat-Industries/eval-server/internal/ledger"
	"github.com/Potat-Industries/eval-server/internal/reversecall"
	"github.com/Potat-Industries/eval-server/internal/submission"
	httptransport "github.com/Potat-Industries/eval-server/internal/transport/http"
	"github.com/Potat-Industries/eval-server/internal/transport/socket"
	"github.com/Potat-Industries/eval-server/internal/worker"
	"github.com/Potat-Industries/eval-server/pkg/utils/logger"
)

const (
	defaultConfigPath      = "config.json"
	defaultShutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Level: "info", Format: "json", OutputPath: "stdout", ErrorPath: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	redisAddr := fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)
	redisCache, err := cache.NewRedisCache(redisAddr)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = redisCache.Close() }()

	workerPool := worker.New(worker.Settings{
		Size:                   cfg.MaxChildProcessCount,
		MaxQueueSizePerWorker:  cfg.QueueSize,
		WorkerExecutionTimeout: cfg.WorkersTimeOutDuration(),
	}, workerBinaryPath())
	go workerPool.Run(ctx)

	pipeline := submission.New(workerPool)
	pipeline.SetRecorder(sideChannels{
		ledger:   buildLedger(ctx, cfg.Ledger),
		events:   buildEventPublisher(ctx, cfg.Events),
		archiver: buildArchiver(ctx, cfg.Archive),
	})

	hub := socket.NewHub()
	callRouter := reversecall.New(submitterAdapter{pipeline}, hub.Broadcast)
	workerPool.SetCallHandler(func(ctx context.Context, name string, args []string, msg map[string]interface{}) (map[string]interface{}, error) {
		return callRouter.Call(ctx, name, msg)
	})

	engine := buildRouter(cfg, pipeline, callRouter, hub, workerPool)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}

	listener, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		logger.Error(ctx, "init listener failed", zap.Error(err))
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "eval-server started", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownTimeoutCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownTimeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
}

func buildRouter(cfg config.Config, pipeline *submission.Pipeline, router *reversecall.Router, hub *socket.Hub, pool *worker.Pool) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.TraceContextMiddleware())
	engine.Use(requestLogger())

	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	httptransport.NewHandler(pipeline, cfg.Auth).Register(engine)

	socketHandler := socket.NewHandler(hub, router, cfg.Auth)
	engine.GET("/socket", gin.WrapH(socketHandler))

	if cfg.Admin.Enabled {
		admin.NewHandler(pool).Register(engine, cfg.Admin.JWTSecret)
	}

	return engine
}

// submitterAdapter lets the reverse-call router, which only needs
// SubmitRaw, depend on the same Pipeline the HTTP front end uses.
type submitterAdapter struct {
	pipeline *submission.Pipeline
}

func (a submitterAdapter) SubmitRaw(ctx context.Context, code string, msg json.RawMessage) (json.RawMessage, error) {
	return a.pipeline.SubmitRaw(ctx, code, msg)
}

// sideChannels fans a completed submission out to the ledger, event
// publisher, and archiver. Each target is independently optional and
// already best-effort/async on its own, so Observe itself stays synchronous
// and cheap.
type sideChannels struct {
	ledger   *ledger.Ledger
	events   *events.Publisher
	archiver *archive.Archiver
}

func (s sideChannels) Observe(ctx context.Context, code string, resp submission.Response) {
	result := ""
	if len(resp.Data) > 0 {
		result = resp.Data[0]
	}

	s.ledger.Record(ctx, ledger.Entry{
		ID:         resp.ID,
		Code:       code,
		Result:     result,
		StatusCode: resp.StatusCode,
		DurationMs: resp.Duration,
	})

	s.events.Publish(ctx, events.SubmissionEvent{
		ID:         resp.ID,
		Code:       code,
		StatusCode: resp.StatusCode,
		DurationMs: resp.Duration,
		Succeeded:  resp.StatusCode == http.StatusOK,
	})

	s.archiver.Store(ctx, archive.Record{ID: resp.ID, Code: code, Result: result})
}

func buildLedger(ctx context.Context, cfg config.LedgerConfig) *ledger.Ledger {
	if !cfg.Enabled {
		return nil
	}
	database, err := db.NewMySQL(cfg.DSN)
	if err != nil {
		logger.Error(ctx, "init submission ledger failed", zap.Error(err))
		return nil
	}
	return ledger.New(database)
}

func buildEventPublisher(ctx context.Context, cfg config.EventsConfig) *events.Publisher {
	if !cfg.Enabled {
		return nil
	}
	queue, err := mq.NewKafkaQueue(mq.KafkaConfig{Brokers: cfg.Brokers})
	if err != nil {
		logger.Error(ctx, "init event publisher failed", zap.Error(err))
		return nil
	}
	return events.New(queue, cfg.Topic)
}

func buildArchiver(ctx context.Context, cfg config.ArchiveConfig) *archive.Archiver {
	if !cfg.Enabled {
		return nil
	}
	key, err := hexDecodeKey(cfg.EncryptionKey)
	if err != nil {
		logger.Error(ctx, "invalid archive encryption key", zap.Error(err))
		return nil
	}
	a, err := archive.New(archive.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Key:       key,
	})
	if err != nil {
		logger.Error(ctx, "init archiver failed", zap.Error(err))
		return nil
	}
	return a
}

func hexDecodeKey(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func workerBinaryPath() string {
	if path := os.Getenv("EVAL_WORKER_PATH"); path != "" {
		return path
	}
	if path, err := exec.LookPath("eval-worker"); err == nil {
		return path
	}
	return "./eval-worker"
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
