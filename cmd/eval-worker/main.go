// Command eval-worker is the Worker Process body forked by the Worker
// Supervisor: it reads newline-delimited Requests from stdin, evaluates
// each through the sandbox kernel, and writes a Response to stdout.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Potat-Industries/eval-server/internal/common/cache"
	"github.com/Potat-Industries/eval-server/internal/config"
	"github.com/Potat-Industries/eval-server/internal/kvstore"
	"github.com/Potat-Industries/eval-server/internal/sandbox"
	"github.com/Potat-Industries/eval-server/internal/sandboxfetch"
	"github.com/Potat-Industries/eval-server/internal/worker"
	"github.com/Potat-Industries/eval-server/pkg/utils/logger"
)

func main() {
	if err := worker.ApplySeccomp(); err != nil {
		fmt.Fprintln(os.Stderr, "seccomp bootstrap failed:", err)
		os.Exit(1)
	}

	cfgPath := os.Getenv("EVAL_CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config failed:", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Level: "info", Format: "json", OutputPath: "stderr", ErrorPath: "stderr"}); err != nil {
		fmt.Fprintln(os.Stderr, "init logger failed:", err)
		os.Exit(1)
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)
	redisCache, err := cache.NewRedisCache(redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect redis failed:", err)
		os.Exit(1)
	}
	store := kvstore.New(redisCache)

	fetcher := sandboxfetch.New(sandboxfetch.Config{
		Timeout:           cfg.FetchTimeoutDuration(),
		MaxConcurrency:    int64(cfg.MaxFetchConcurrency),
		MaxResponseLength: cfg.FetchMaxResponseLength,
	})

	transport := worker.NewChildTransport(os.Stdin, os.Stdout)

	bridge := sandbox.Bridge{
		Fetch: fetcher,
		Store: kvstore.NewBridgeAdapter(store),
		// Command is the worker's reverse-call leg: the router itself lives
		// in the primary process attached to live socket connections, so a
		// call is shipped up the same IPC pipe the supervisor drives this
		// worker over and the reply is delivered back down it.
		Command: transport.Call,
	}

	kernel := sandbox.New(sandbox.Config{VMTimeout: cfg.VMTimeoutDuration()}, bridge)

	if err := transport.Run(context.Background(), kernel, cfg.FetchMaxResponseLength); err != nil {
		fmt.Fprintln(os.Stderr, "child transport exited:", err)
		os.Exit(1)
	}
}
