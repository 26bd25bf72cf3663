package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/Potat-Industries/eval-server/internal/worker"
	"github.com/Potat-Industries/eval-server/pkg/utils/response"
)

// PoolStats is the subset of worker.Pool exposed to operators.
type PoolStats interface {
	Size() int
	Stats() []worker.WorkerStat
}

// Handler serves read-only operational stats behind AuthMiddleware.
//
// Fetch concurrency gauges (sandboxfetch.Fetcher.Inflight/MaxConcurrency)
// are deliberately not exposed here: the only live Fetcher runs inside each
// forked eval-worker, not this process, and nothing currently polls those
// gauges back over the worker IPC pipe. Reporting them would mean either a
// field that's always zero or a speculative IPC extension with no caller
// driving it yet.
type Handler struct {
	pool PoolStats
}

func NewHandler(pool PoolStats) *Handler {
	return &Handler{pool: pool}
}

// Register mounts /admin/stats on router, gated by AuthMiddleware(secret).
func (h *Handler) Register(router gin.IRouter, secret string) {
	group := router.Group("/admin")
	group.Use(AuthMiddleware(secret))
	group.GET("/stats", h.handleStats)
}

type statsResponse struct {
	PoolSize int                 `json:"poolSize"`
	Workers  []worker.WorkerStat `json:"workers"`
}

func (h *Handler) handleStats(c *gin.Context) {
	resp := statsResponse{}
	if h.pool != nil {
		resp.PoolSize = h.pool.Size()
		resp.Workers = h.pool.Stats()
	}
	response.Success(c, resp)
}
