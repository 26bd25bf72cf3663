// Package reversecall implements the socket-transport reverse-call protocol:
// the host asks a connected client to run one of its own named commands and
// waits for a correlated reply, and routes ordinary submissions arriving
// over the same connection to the evaluation pipeline.
package reversecall

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const callTimeout = 10 * time.Second

// Frame is the wire envelope exchanged over the socket transport.
type Frame struct {
	Opcode int             `json:"opcode"`
	Data   json.RawMessage `json:"data"`
}

// Opcodes, per the socket transport's external protocol.
const (
	OpReceivedData  = 4000
	OpReconnect     = 4001
	OpUnknownError  = 4002
	OpInvalidOrigin = 4003
	OpDispatch      = 4004
	OpHeartbeat     = 4005
	OpMalformedData = 4006
	OpUnauthorized  = 4007
)

// inboundMessage is the shape of a JSON payload arriving from a socket
// client: either a reply to a pending reverse call (id matches, carries
// arbitrary reply fields) or a new submission (id + code).
type inboundMessage struct {
	ID   string          `json:"id"`
	Code string          `json:"code"`
	Msg  json.RawMessage `json:"msg"`
}

// Submitter evaluates a new submission arriving over the socket transport.
type Submitter interface {
	SubmitRaw(ctx context.Context, code string, msg json.RawMessage) (json.RawMessage, error)
}

// callResult is what resolves a pendingCall's resultCh: either a client's
// raw reply payload, or a timeout signal carrying no payload.
type callResult struct {
	raw     json.RawMessage
	timeout bool
}

// pendingCall is one in-flight reverse call awaiting a client reply.
type pendingCall struct {
	resultCh chan callResult
	timer    *time.Timer
}

// Router multiplexes inbound socket messages between reverse-call replies
// and new submissions, and broadcasts DISPATCH frames for reverse calls.
type Router struct {
	mu        sync.Mutex
	pending   map[string]*pendingCall
	submitter Submitter
	broadcast func(Frame)
}

// New builds a Router. broadcast is called to send a DISPATCH frame to every
// connected socket client when the host issues a reverse call.
func New(submitter Submitter, broadcast func(Frame)) *Router {
	return &Router{
		pending:   make(map[string]*pendingCall),
		submitter: submitter,
		broadcast: broadcast,
	}
}

// Call issues a reverse call: it broadcasts a DISPATCH frame carrying
// {id, code: name, msg} to every connected client and waits for a reply
// framed with the same id, or fails with "Command timed out" after 10s.
func (r *Router) Call(ctx context.Context, name string, msg map[string]interface{}) (map[string]interface{}, error) {
	id := uuid.NewString()

	payload, err := json.Marshal(map[string]interface{}{
		"id":   id,
		"code": name,
		"msg":  msg,
	})
	if err != nil {
		return nil, fmt.Errorf("encode reverse call: %w", err)
	}

	call := &pendingCall{resultCh: make(chan callResult, 1)}

	r.mu.Lock()
	r.pending[id] = call
	call.timer = time.AfterFunc(callTimeout, func() { r.expire(id) })
	r.mu.Unlock()

	r.broadcast(Frame{Opcode: OpDispatch, Data: payload})

	select {
	case res := <-call.resultCh:
		if res.timeout {
			return nil, fmt.Errorf("Command timed out")
		}
		var reply map[string]interface{}
		if err := json.Unmarshal(res.raw, &reply); err != nil {
			return nil, fmt.Errorf("decode reverse call reply: %w", err)
		}
		return reply, nil
	case <-ctx.Done():
		r.drop(id)
		return nil, ctx.Err()
	}
}

func (r *Router) expire(id string) {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok {
		call.resultCh <- callResult{timeout: true}
	}
}

func (r *Router) drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if call, ok := r.pending[id]; ok {
		call.timer.Stop()
		delete(r.pending, id)
	}
}

// Handle processes one inbound message from a socket client: it resolves a
// pending reverse call, dispatches a new submission, or replies with a
// MALFORMED frame, per §4.7.
func (r *Router) Handle(ctx context.Context, raw []byte) Frame {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return malformed()
	}

	if msg.ID == "" {
		return malformed()
	}

	r.mu.Lock()
	call, ok := r.pending[msg.ID]
	if ok {
		call.timer.Stop()
		delete(r.pending, msg.ID)
	}
	r.mu.Unlock()

	if ok {
		call.resultCh <- callResult{raw: raw}
		return Frame{}
	}

	if msg.Code == "" {
		return malformed()
	}

	resp, err := r.submitter.SubmitRaw(ctx, msg.Code, msg.Msg)
	if err != nil {
		return Frame{Opcode: OpUnknownError, Data: mustMarshal(map[string]string{"message": err.Error()})}
	}

	envelope, err := json.Marshal(map[string]interface{}{
		"id":       msg.ID,
		"response": json.RawMessage(resp),
	})
	if err != nil {
		return Frame{Opcode: OpUnknownError, Data: mustMarshal(map[string]string{"message": err.Error()})}
	}

	return Frame{Opcode: OpDispatch, Data: envelope}
}

func malformed() Frame {
	return Frame{Opcode: OpMalformedData, Data: mustMarshal(map[string]string{"message": "malformed frame"})}
}

func mustMarshal(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
