// Package submission implements the evaluation pipeline shared by the HTTP
// and socket front ends: validate the incoming code/msg pair, dispatch it to
// the worker pool, and shape the result into the wire Response envelope.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dispatcher is the subset of the worker pool the pipeline depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, code string, msg []byte) (string, error)
}

// ErrorDetail is one entry of Response.Errors.
type ErrorDetail struct {
	Message string `json:"message"`
}

// Response is the wire shape returned by both /eval and the socket DISPATCH
// frame.
type Response struct {
	Data       []string      `json:"data"`
	StatusCode int           `json:"statusCode"`
	Duration   float64       `json:"duration"`
	Errors     []ErrorDetail `json:"errors"`
	ID         string        `json:"id,omitempty"`
}

// Recorder observes a completed submission for the ledger, event publisher,
// and archiver side channels. Implementations must not block Submit: each
// is expected to do its own work asynchronously.
type Recorder interface {
	Observe(ctx context.Context, code string, resp Response)
}

// Pipeline validates and evaluates one submission at a time. Result
// truncation is enforced where the result is produced, inside the sandbox
// kernel on the worker side, not here.
type Pipeline struct {
	pool     Dispatcher
	recorder Recorder
}

func New(pool Dispatcher) *Pipeline {
	return &Pipeline{pool: pool}
}

// SetRecorder attaches a Recorder invoked after every Submit call that
// reaches the worker pool; submissions rejected by validation are not
// recorded. Optional: a Pipeline with no Recorder behaves exactly as before.
func (p *Pipeline) SetRecorder(r Recorder) {
	p.recorder = r
}

// Submit validates code/msg, runs the submission through the worker pool,
// and returns the shaped Response. It never returns a Go error: every
// failure mode is folded into the Response itself, matching the envelope a
// caller receives over HTTP or the socket.
func (p *Pipeline) Submit(ctx context.Context, code string, msg map[string]interface{}) Response {
	start := time.Now()
	id := uuid.NewString()

	if code == "" {
		resp := errorResponse(400, "code is required", start)
		resp.ID = id
		return resp
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		resp := errorResponse(400, fmt.Sprintf("msg is not serialisable: %s", err.Error()), start)
		resp.ID = id
		return resp
	}

	result, err := p.pool.Dispatch(ctx, code, msgBytes)
	if err != nil {
		resp := errorResponse(500, err.Error(), start)
		resp.ID = id
		p.observe(ctx, code, resp)
		return resp
	}

	resp := Response{
		Data:       []string{result},
		StatusCode: 200,
		Duration:   elapsedMillis(start),
		Errors:     []ErrorDetail{},
		ID:         id,
	}
	p.observe(ctx, code, resp)
	return resp
}

func (p *Pipeline) observe(ctx context.Context, code string, resp Response) {
	if p.recorder == nil {
		return
	}
	p.recorder.Observe(ctx, code, resp)
}

// SubmitRaw adapts Submit for callers that carry msg as undecoded JSON (the
// socket transport), returning the shaped Response already marshalled.
func (p *Pipeline) SubmitRaw(ctx context.Context, code string, rawMsg json.RawMessage) (json.RawMessage, error) {
	var msg map[string]interface{}
	if len(rawMsg) > 0 {
		if err := json.Unmarshal(rawMsg, &msg); err != nil {
			resp := errorResponse(400, fmt.Sprintf("msg is not a valid object: %s", err.Error()), time.Now())
			return json.Marshal(resp)
		}
	}

	resp := p.Submit(ctx, code, msg)
	return json.Marshal(resp)
}

func errorResponse(status int, message string, start time.Time) Response {
	return Response{
		Data:       []string{},
		StatusCode: status,
		Duration:   elapsedMillis(start),
		Errors:     []ErrorDetail{{Message: message}},
	}
}

// elapsedMillis reports time since start in milliseconds, rounded to four
// decimal places.
func elapsedMillis(start time.Time) float64 {
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	return roundTo4(ms)
}

func roundTo4(v float64) float64 {
	const factor = 10000
	return float64(int64(v*factor+0.5)) / factor
}
