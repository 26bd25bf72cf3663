package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Potat-Industries/eval-server/internal/sandbox"
)

// Evaluator runs one submission and returns its stringified result.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, msg map[string]interface{}, maxResultLen int) string
}

// pendingChildCall is the child-side bookkeeping for one reverse call
// awaiting the primary process's reply.
type pendingChildCall struct {
	replyCh chan CallReply
}

// ChildTransport is the Worker Process's IPC link to its supervisor. It
// reads Requests and CallReplies from stdin and writes Responses and
// CallRequests to stdout, multiplexed over the same envelope stream: a
// reverse call issued by guest code mid-evaluation shares the pipe with the
// one request/response exchange the supervisor drives, so both directions
// are demuxed by Envelope.Kind rather than assumed to alternate strictly.
type ChildTransport struct {
	r io.Reader

	writeMu sync.Mutex
	enc     *json.Encoder

	nextCallID int64
	pendingMu  sync.Mutex
	pending    map[int64]*pendingChildCall

	requests chan Request
}

// NewChildTransport builds a transport reading requests/replies from r and
// writing responses/calls to w.
func NewChildTransport(r io.Reader, w io.Writer) *ChildTransport {
	return &ChildTransport{
		r:        r,
		enc:      json.NewEncoder(w),
		pending:  make(map[int64]*pendingChildCall),
		requests: make(chan Request),
	}
}

// Run starts the stdin-reading goroutine and drives the evaluation loop:
// every Request that arrives runs through kernel one at a time (the kernel
// serialises evaluations), writing a Response back immediately. It blocks
// until the transport's reader is exhausted.
func (t *ChildTransport) Run(ctx context.Context, kernel Evaluator, maxResultLen int) error {
	readErr := make(chan error, 1)
	go func() { readErr <- t.readLoop() }()

	for req := range t.requests {
		var msg map[string]interface{}
		if len(req.Msg) > 0 {
			_ = json.Unmarshal(req.Msg, &msg)
		}
		result := kernel.Evaluate(ctx, req.Code, msg, maxResultLen)
		t.writeResponse(Response{ID: req.ID, Result: result})
	}

	return <-readErr
}

func (t *ChildTransport) readLoop() error {
	scanner := bufio.NewScanner(t.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}

		switch env.Kind {
		case FrameKindRequest:
			if env.Request != nil {
				t.requests <- *env.Request
			}
		case FrameKindCallReply:
			if env.CallReply != nil {
				t.deliverReply(*env.CallReply)
			}
		}
	}

	close(t.requests)
	return scanner.Err()
}

func (t *ChildTransport) deliverReply(reply CallReply) {
	t.pendingMu.Lock()
	call, ok := t.pending[reply.ID]
	if ok {
		delete(t.pending, reply.ID)
	}
	t.pendingMu.Unlock()
	if ok {
		call.replyCh <- reply
	}
}

func (t *ChildTransport) writeResponse(resp Response) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.enc.Encode(Envelope{Kind: FrameKindResponse, Response: &resp})
}

// Call issues a reverse call up to the primary process and blocks for the
// matching CallReply or until ctx is cancelled. It satisfies
// sandbox.CommandFunc and is wired as Bridge.Command for the worker process,
// since the worker hosts the kernel but the reverse-call router lives in
// the primary process attached to live socket connections.
func (t *ChildTransport) Call(
	ctx context.Context,
	name string,
	args []string,
	callerMsg map[string]interface{},
) (map[string]interface{}, error) {
	id := atomic.AddInt64(&t.nextCallID, 1)
	call := &pendingChildCall{replyCh: make(chan CallReply, 1)}

	t.pendingMu.Lock()
	t.pending[id] = call
	t.pendingMu.Unlock()

	req := CallRequest{ID: id, Name: name, Args: args, Msg: callerMsg}
	t.writeMu.Lock()
	err := t.enc.Encode(Envelope{Kind: FrameKindCall, Call: &req})
	t.writeMu.Unlock()
	if err != nil {
		t.dropPending(id)
		return nil, fmt.Errorf("write reverse call: %w", err)
	}

	select {
	case reply := <-call.replyCh:
		if reply.Error != "" {
			return nil, fmt.Errorf("%s", reply.Error)
		}
		return reply.Reply, nil
	case <-ctx.Done():
		t.dropPending(id)
		return nil, ctx.Err()
	}
}

func (t *ChildTransport) dropPending(id int64) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	delete(t.pending, id)
}

var _ Evaluator = (*sandbox.Kernel)(nil)
