package worker

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Settings controls pool-wide limits.
type Settings struct {
	Size                   int
	MaxQueueSizePerWorker  int
	WorkerExecutionTimeout time.Duration
}

// Pool is a fixed-size set of supervisors with least-loaded dispatch.
type Pool struct {
	supervisors []*Supervisor
	settings    Settings
}

// New builds a Pool of Size supervisors (default = logical CPU count), each
// forking helperPath as its child.
func New(settings Settings, helperPath string, helperArgs ...string) *Pool {
	if settings.Size <= 0 {
		settings.Size = runtime.NumCPU()
	}
	if settings.MaxQueueSizePerWorker <= 0 {
		settings.MaxQueueSizePerWorker = 20
	}
	if settings.WorkerExecutionTimeout <= 0 {
		settings.WorkerExecutionTimeout = 15 * time.Second
	}

	p := &Pool{settings: settings}
	for i := 0; i < settings.Size; i++ {
		p.supervisors = append(p.supervisors, NewSupervisor(helperPath, helperArgs...))
	}
	return p
}

// Run starts every supervisor's fork/monitor loop; blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, len(p.supervisors))
	for _, s := range p.supervisors {
		go func(s *Supervisor) {
			s.Run(ctx)
			done <- struct{}{}
		}(s)
	}
	for range p.supervisors {
		<-done
	}
}

// Dispatch picks the ready supervisor with the smallest queue size among
// those below MaxQueueSizePerWorker, breaking ties by stable order.
func (p *Pool) Dispatch(ctx context.Context, code string, msg []byte) (string, error) {
	var chosen *Supervisor
	best := -1

	for _, s := range p.supervisors {
		if !s.Ready() {
			continue
		}
		size := s.QueueSize()
		if size >= p.settings.MaxQueueSizePerWorker {
			continue
		}
		if best == -1 || size < best {
			best = size
			chosen = s
		}
	}

	if chosen == nil {
		return "", fmt.Errorf("The queue is full")
	}

	return chosen.Dispatch(ctx, code, msg, p.settings.WorkerExecutionTimeout)
}

// Stats reports per-worker queue depth for the admin API.
func (p *Pool) Stats() []WorkerStat {
	stats := make([]WorkerStat, len(p.supervisors))
	for i, s := range p.supervisors {
		stats[i] = WorkerStat{Ready: s.Ready(), QueueSize: s.QueueSize(), Restarts: s.Restarts()}
	}
	return stats
}

// Size returns the configured pool size.
func (p *Pool) Size() int {
	return len(p.supervisors)
}

// SetCallHandler installs the reverse-call resolver on every supervisor in
// the pool, so any worker's command() invocation can reach it regardless of
// which supervisor happens to own that worker.
func (p *Pool) SetCallHandler(h CallHandler) {
	for _, s := range p.supervisors {
		s.SetCallHandler(h)
	}
}

// WorkerStat is a snapshot of one supervisor's state.
type WorkerStat struct {
	Ready     bool  `json:"ready"`
	QueueSize int   `json:"queueSize"`
	Restarts  int64 `json:"restarts"`
}
