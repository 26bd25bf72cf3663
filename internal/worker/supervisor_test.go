package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"
)

// newRunningSupervisor builds a Supervisor wired directly to an in-memory
// pipe instead of a forked child, so the IPC framing can be exercised
// without spawning eval-worker.
func newRunningSupervisor(t *testing.T) (*Supervisor, io.Reader) {
	t.Helper()
	s := NewSupervisor("unused")
	r, w := io.Pipe()
	s.mu.Lock()
	s.stdin = w
	s.state = StateRunning
	s.mu.Unlock()
	t.Cleanup(func() { _ = w.Close() })
	return s, r
}

func TestSupervisorHandleCallRequestUsesInstalledHandler(t *testing.T) {
	s, stdinRead := newRunningSupervisor(t)

	s.SetCallHandler(func(ctx context.Context, name string, args []string, msg map[string]interface{}) (map[string]interface{}, error) {
		if name != "ping" {
			t.Fatalf("handler got name = %q, want %q", name, "ping")
		}
		if msg["text"] != "a" {
			t.Fatalf("handler got msg[text] = %v, want %q", msg["text"], "a")
		}
		return map[string]interface{}{"pong": true}, nil
	})

	go s.handleCallRequest(CallRequest{ID: 7, Name: "ping", Args: []string{"a"}, Msg: map[string]interface{}{"text": "a"}})

	line := readLineWithTimeout(t, stdinRead, 2*time.Second)
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Kind != FrameKindCallReply || env.CallReply == nil {
		t.Fatalf("expected a callReply envelope, got %+v", env)
	}
	if env.CallReply.ID != 7 {
		t.Fatalf("callReply id = %d, want 7", env.CallReply.ID)
	}
	if env.CallReply.Reply["pong"] != true {
		t.Fatalf("callReply.Reply[pong] = %v, want true", env.CallReply.Reply["pong"])
	}
}

func TestSupervisorHandleCallRequestNoHandlerInstalled(t *testing.T) {
	s, stdinRead := newRunningSupervisor(t)

	go s.handleCallRequest(CallRequest{ID: 1, Name: "ping"})

	line := readLineWithTimeout(t, stdinRead, 2*time.Second)
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.CallReply == nil || env.CallReply.Error == "" {
		t.Fatalf("expected a callReply with an error, got %+v", env)
	}
}

func TestSupervisorReadLoopRoutesCallFrameToHandler(t *testing.T) {
	s, stdinRead := newRunningSupervisor(t)

	handled := make(chan CallRequest, 1)
	s.SetCallHandler(func(ctx context.Context, name string, args []string, msg map[string]interface{}) (map[string]interface{}, error) {
		handled <- CallRequest{Name: name, Args: args}
		return map[string]interface{}{}, nil
	})

	stdoutRead, stdoutWrite := io.Pipe()
	go s.readLoop(stdoutRead)

	enc := json.NewEncoder(stdoutWrite)
	if err := enc.Encode(Envelope{Kind: FrameKindCall, Call: &CallRequest{ID: 1, Name: "echo", Args: []string{"x"}}}); err != nil {
		t.Fatalf("encode call frame: %v", err)
	}

	select {
	case req := <-handled:
		if req.Name != "echo" {
			t.Fatalf("handled call name = %q, want %q", req.Name, "echo")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readLoop to route the call frame")
	}

	// The handler's reply should also have been written back to stdin.
	readLineWithTimeout(t, stdinRead, 2*time.Second)

	_ = stdoutWrite.Close()
}

func readLineWithTimeout(t *testing.T, r io.Reader, timeout time.Duration) []byte {
	t.Helper()
	lineCh := make(chan []byte, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		if scanner.Scan() {
			lineCh <- append([]byte(nil), scanner.Bytes()...)
		}
	}()
	select {
	case line := <-lineCh:
		return line
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a line")
		return nil
	}
}
