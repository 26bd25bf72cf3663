package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Potat-Industries/eval-server/pkg/utils/logger"

	"go.uber.org/zap"
)

type State int

const (
	StateSpawning State = iota
	StateRunning
	StateDraining
	StateDead
)

const livenessBudget = 60 * time.Second

// pendingCall is the host-side bookkeeping for one in-flight request.
type pendingCall struct {
	resultCh chan Response
}

// CallHandler resolves a reverse call a worker's guest code issued via
// command(name, ...args), against whatever lives on the primary process's
// side of the IPC pipe (a reverse-call router broadcasting to connected
// socket clients). msg is the {...callerMsg, text} payload already built on
// the guest side.
type CallHandler func(ctx context.Context, name string, args []string, msg map[string]interface{}) (map[string]interface{}, error)

// Supervisor owns one worker child process: it forks, forwards requests,
// matches responses by id, and monitors liveness via the request/response
// gap. On any failure it kills the child and re-forks after a 1s backoff.
type Supervisor struct {
	helperPath string
	helperArgs []string

	mu         sync.Mutex
	state      State
	queueSize  int64
	nextID     int64
	pending    map[int64]*pendingCall
	stdin      io.WriteCloser
	cmd        *exec.Cmd
	lastReqAt  time.Time
	lastRespAt time.Time

	writeMu sync.Mutex

	callHandlerMu sync.RWMutex
	callHandler   CallHandler

	restarts atomic.Int64
	closed   atomic.Bool
}

// SetCallHandler installs the reverse-call resolver invoked whenever this
// supervisor's child emits a CallRequest frame. It may be set before or
// after the child is running; calls that arrive with no handler installed
// fail immediately.
func (s *Supervisor) SetCallHandler(h CallHandler) {
	s.callHandlerMu.Lock()
	defer s.callHandlerMu.Unlock()
	s.callHandler = h
}

func NewSupervisor(helperPath string, helperArgs ...string) *Supervisor {
	return &Supervisor{
		helperPath: helperPath,
		helperArgs: helperArgs,
		state:      StateSpawning,
		pending:    make(map[int64]*pendingCall),
	}
}

// Ready reports whether a live child is currently attached.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// QueueSize returns the number of outstanding requests on this worker.
func (s *Supervisor) QueueSize() int {
	return int(atomic.LoadInt64(&s.queueSize))
}

// Restarts reports how many times this supervisor has re-forked its child.
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

// Run drives the fork/monitor/restart loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	first := true
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		default:
		}

		if !first {
			s.restarts.Add(1)
		}
		first = false

		if err := s.spawn(ctx); err != nil {
			logger.Warn(ctx, "worker spawn failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		s.watch(ctx)

		s.mu.Lock()
		s.state = StateDead
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (s *Supervisor) spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.helperPath, s.helperArgs...)
	applySysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.pending = make(map[int64]*pendingCall)
	s.queueSize = 0
	s.state = StateRunning
	s.mu.Unlock()

	go s.readLoop(stdout)

	return nil
}

func (s *Supervisor) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		var env Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			continue
		}

		switch env.Kind {
		case FrameKindResponse:
			if env.Response != nil {
				s.handleResponse(*env.Response)
			}
		case FrameKindCall:
			if env.Call != nil {
				go s.handleCallRequest(*env.Call)
			}
		}
	}
}

func (s *Supervisor) handleResponse(resp Response) {
	s.mu.Lock()
	s.lastRespAt = time.Now()
	call, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
		atomic.AddInt64(&s.queueSize, -1)
	}
	s.mu.Unlock()
	if ok {
		call.resultCh <- resp
	}
}

// handleCallRequest resolves a reverse call emitted by this supervisor's
// child and writes the CallReply back down the same stdin pipe Dispatch
// uses, so the worker's blocked command() call can resume.
func (s *Supervisor) handleCallRequest(call CallRequest) {
	s.callHandlerMu.RLock()
	handler := s.callHandler
	s.callHandlerMu.RUnlock()

	reply := CallReply{ID: call.ID}
	if handler == nil {
		reply.Error = "no reverse-call handler installed"
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		result, err := handler(ctx, call.Name, call.Args, call.Msg)
		cancel()
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Reply = result
		}
	}

	s.writeEnvelope(Envelope{Kind: FrameKindCallReply, CallReply: &reply})
}

func (s *Supervisor) writeEnvelope(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("worker is not ready")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = stdin.Write(payload)
	return err
}

// watch blocks until the child exits or goes unresponsive for more than
// livenessBudget after an outstanding request, per §4.3.
func (s *Supervisor) watch(ctx context.Context) {
	waitErr := make(chan error, 1)
	go func() { waitErr <- s.cmd.Wait() }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.killChild()
			<-waitErr
			return
		case err := <-waitErr:
			s.failPending(fmt.Errorf("worker exited: %v", err))
			s.mu.Lock()
			s.state = StateDraining
			s.mu.Unlock()
			return
		case <-ticker.C:
			if s.livenessExpired() {
				logger.Warn(ctx, "worker unresponsive, killing")
				s.killChild()
				<-waitErr
				s.failPending(fmt.Errorf("Worker is not responding"))
				return
			}
		}
	}
}

func (s *Supervisor) livenessExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReqAt.After(s.lastRespAt) && time.Since(s.lastReqAt) > livenessBudget
}

func (s *Supervisor) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]*pendingCall)
	atomic.StoreInt64(&s.queueSize, 0)
	s.mu.Unlock()

	for id, call := range pending {
		call.resultCh <- Response{ID: id, Error: err.Error()}
	}
}

// Dispatch sends one request to this supervisor's child and waits for its
// reply or workerExecutionTimeout, whichever comes first.
func (s *Supervisor) Dispatch(ctx context.Context, code string, msg []byte, timeout time.Duration) (string, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return "", fmt.Errorf("worker is not ready")
	}
	id := atomic.AddInt64(&s.nextID, 1)
	call := &pendingCall{resultCh: make(chan Response, 1)}
	s.pending[id] = call
	s.lastReqAt = time.Now()
	atomic.AddInt64(&s.queueSize, 1)
	s.mu.Unlock()

	req := Request{ID: id, Code: code, Msg: msg}
	if err := s.writeEnvelope(Envelope{Kind: FrameKindRequest, Request: &req}); err != nil {
		s.dropPending(id)
		return "", fmt.Errorf("write to worker: %w", err)
	}

	select {
	case resp := <-call.resultCh:
		if resp.Error != "" {
			return "", fmt.Errorf("%s", resp.Error)
		}
		return resp.Result, nil
	case <-time.After(timeout):
		s.dropPending(id)
		return "", fmt.Errorf("Worker execution timed out")
	case <-ctx.Done():
		s.dropPending(id)
		return "", ctx.Err()
	}
}

func (s *Supervisor) dropPending(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		delete(s.pending, id)
		atomic.AddInt64(&s.queueSize, -1)
	}
}

func (s *Supervisor) killChild() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	killProcessGroup(cmd.Process.Pid)
}

func (s *Supervisor) shutdown() {
	s.closed.Store(true)
	s.killChild()
}
