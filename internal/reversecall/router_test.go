package reversecall

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakeSubmitter struct {
	resp json.RawMessage
	err  error
}

func (f *fakeSubmitter) SubmitRaw(ctx context.Context, code string, msg json.RawMessage) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestHandleMalformedJSON(t *testing.T) {
	r := New(&fakeSubmitter{}, func(Frame) {})
	frame := r.Handle(context.Background(), []byte("not json"))
	if frame.Opcode != OpMalformedData {
		t.Fatalf("expected MALFORMED_DATA, got %d", frame.Opcode)
	}
}

func TestHandleMissingID(t *testing.T) {
	r := New(&fakeSubmitter{}, func(Frame) {})
	frame := r.Handle(context.Background(), []byte(`{"code":"1+1"}`))
	if frame.Opcode != OpMalformedData {
		t.Fatalf("expected MALFORMED_DATA, got %d", frame.Opcode)
	}
}

func TestHandleMissingCode(t *testing.T) {
	r := New(&fakeSubmitter{}, func(Frame) {})
	frame := r.Handle(context.Background(), []byte(`{"id":"abc"}`))
	if frame.Opcode != OpMalformedData {
		t.Fatalf("expected MALFORMED_DATA, got %d", frame.Opcode)
	}
}

func TestHandleNewSubmissionDispatches(t *testing.T) {
	r := New(&fakeSubmitter{resp: json.RawMessage(`{"statusCode":200}`)}, func(Frame) {})
	frame := r.Handle(context.Background(), []byte(`{"id":"u1","code":"1+1"}`))
	if frame.Opcode != OpDispatch {
		t.Fatalf("expected DISPATCH, got %d", frame.Opcode)
	}
}

func TestCallResolvesOnMatchingReply(t *testing.T) {
	var sent Frame
	r := New(&fakeSubmitter{}, func(f Frame) { sent = f })

	replyCh := make(chan map[string]interface{}, 1)
	go func() {
		reply, err := r.Call(context.Background(), "say", map[string]interface{}{"text": "hi"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		replyCh <- reply
	}()

	// Wait for the DISPATCH broadcast to carry the generated id.
	var id string
	for i := 0; i < 100 && sent.Opcode == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(sent.Data, &envelope); err != nil {
		t.Fatalf("decode dispatch frame: %v", err)
	}
	id, _ = envelope["id"].(string)
	if id == "" {
		t.Fatal("expected dispatch frame to carry an id")
	}

	reply, _ := json.Marshal(map[string]interface{}{"id": id, "result": "ok"})
	frame := r.Handle(context.Background(), reply)
	if frame.Opcode != 0 {
		t.Fatalf("expected no frame for a resolved reverse call, got opcode %d", frame.Opcode)
	}

	select {
	case got := <-replyCh:
		if got["result"] != "ok" {
			t.Fatalf("unexpected reply: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Call to resolve")
	}
}

func TestCallTimesOut(t *testing.T) {
	r := New(&fakeSubmitter{}, func(Frame) {})
	r.pending["preset"] = &pendingCall{resultCh: make(chan callResult, 1)}
	r.expire("preset")

	call := r.pending["preset"]
	if call != nil {
		t.Fatal("expected expired call to be removed from pending map")
	}
}

func TestCallReportsTimeoutMessage(t *testing.T) {
	r := New(&fakeSubmitter{}, func(Frame) {})
	id := "timeout-id"
	call := &pendingCall{resultCh: make(chan callResult, 1)}
	r.mu.Lock()
	r.pending[id] = call
	r.mu.Unlock()

	r.expire(id)

	select {
	case res := <-call.resultCh:
		if !res.timeout {
			t.Fatal("expected a timeout result")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expire to signal the pending call")
	}
}
