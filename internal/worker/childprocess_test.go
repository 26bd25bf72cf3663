package worker_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/Potat-Industries/eval-server/internal/worker"
)

// callingEvaluator issues a reverse call through the transport given to it
// before returning its result, simulating guest code invoking command().
type callingEvaluator struct {
	transport *worker.ChildTransport
}

func (e *callingEvaluator) Evaluate(ctx context.Context, code string, msg map[string]interface{}, maxResultLen int) string {
	reply, err := e.transport.Call(ctx, "ping", []string{"a"}, nil)
	if err != nil {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("%v", reply["pong"])
}

func TestChildTransportRoundTripsReverseCall(t *testing.T) {
	childIn, testOut := io.Pipe() // test writes Requests/CallReplies, child reads them
	testIn, childOut := io.Pipe() // child writes Responses/CallRequests, test reads them

	transport := worker.NewChildTransport(childIn, childOut)
	evaluator := &callingEvaluator{transport: transport}

	runErr := make(chan error, 1)
	go func() { runErr <- transport.Run(context.Background(), evaluator, 1000) }()

	envelopes := make(chan worker.Envelope, 4)
	go func() {
		scanner := bufio.NewScanner(testIn)
		for scanner.Scan() {
			var env worker.Envelope
			if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
				continue
			}
			envelopes <- env
		}
		close(envelopes)
	}()

	enc := json.NewEncoder(testOut)
	reqEnv := worker.Envelope{Kind: worker.FrameKindRequest, Request: &worker.Request{ID: 1, Code: "command('ping', 'a')"}}
	if err := enc.Encode(reqEnv); err != nil {
		t.Fatalf("encode request: %v", err)
	}

	select {
	case env := <-envelopes:
		if env.Kind != worker.FrameKindCall || env.Call == nil {
			t.Fatalf("expected a call envelope, got %+v", env)
		}
		if env.Call.Name != "ping" {
			t.Fatalf("call name = %q, want %q", env.Call.Name, "ping")
		}
		if len(env.Call.Args) != 1 || env.Call.Args[0] != "a" {
			t.Fatalf("call args = %v, want [a]", env.Call.Args)
		}

		reply := worker.Envelope{
			Kind:      worker.FrameKindCallReply,
			CallReply: &worker.CallReply{ID: env.Call.ID, Reply: map[string]interface{}{"pong": "yes"}},
		}
		if err := enc.Encode(reply); err != nil {
			t.Fatalf("encode reply: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call envelope")
	}

	select {
	case env := <-envelopes:
		if env.Kind != worker.FrameKindResponse || env.Response == nil {
			t.Fatalf("expected a response envelope, got %+v", env)
		}
		if env.Response.ID != 1 {
			t.Fatalf("response id = %d, want 1", env.Response.ID)
		}
		if env.Response.Result != "yes" {
			t.Fatalf("response result = %q, want %q", env.Response.Result, "yes")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response envelope")
	}

	_ = testOut.Close()
	_ = childOut.Close()

	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("transport.Run did not exit after pipe close")
	}
}

func TestChildTransportCallFailsOnContextCancel(t *testing.T) {
	childIn, _ := io.Pipe()
	transport := worker.NewChildTransport(childIn, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := transport.Call(ctx, "noop", nil, nil)
	if err == nil {
		t.Fatal("expected an error from a cancelled context, got nil")
	}
}
