package submission

import (
	"context"
	"fmt"
	"testing"
)

type fakeDispatcher struct {
	result string
	err    error
	gotMsg []byte
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, code string, msg []byte) (string, error) {
	f.gotMsg = msg
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func TestSubmitRejectsEmptyCode(t *testing.T) {
	p := New(&fakeDispatcher{})
	resp := p.Submit(context.Background(), "", nil)

	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected one error, got %d", len(resp.Errors))
	}
	if len(resp.Data) != 0 {
		t.Fatalf("expected no data on validation failure, got %v", resp.Data)
	}
}

func TestSubmitSuccess(t *testing.T) {
	dispatcher := &fakeDispatcher{result: "42"}
	p := New(dispatcher)

	resp := p.Submit(context.Background(), "return 6*7", map[string]interface{}{"user": map[string]interface{}{"id": "1"}})

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(resp.Data) != 1 || resp.Data[0] != "42" {
		t.Fatalf("unexpected data: %v", resp.Data)
	}
	if len(resp.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", resp.Errors)
	}
	if dispatcher.gotMsg == nil {
		t.Fatalf("expected msg to be forwarded to dispatcher")
	}
}

func TestSubmitWorkerFailure(t *testing.T) {
	p := New(&fakeDispatcher{err: fmt.Errorf("The queue is full")})

	resp := p.Submit(context.Background(), "1+1", nil)

	if resp.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Message != "The queue is full" {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
}

func TestSubmitDurationIsNonNegative(t *testing.T) {
	p := New(&fakeDispatcher{result: "ok"})
	resp := p.Submit(context.Background(), "1", nil)
	if resp.Duration < 0 {
		t.Fatalf("expected non-negative duration, got %f", resp.Duration)
	}
}
