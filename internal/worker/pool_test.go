package worker

import (
	"context"
	"testing"
)

func TestPoolSetCallHandlerPropagatesToEverySupervisor(t *testing.T) {
	p := New(Settings{Size: 3}, "unused")

	var calls int
	p.SetCallHandler(func(ctx context.Context, name string, args []string, msg map[string]interface{}) (map[string]interface{}, error) {
		calls++
		return nil, nil
	})

	for i, s := range p.supervisors {
		if s.callHandler == nil {
			t.Fatalf("supervisor %d has no call handler installed", i)
		}
		if _, err := s.callHandler(context.Background(), "x", nil, nil); err != nil {
			t.Fatalf("supervisor %d handler returned error: %v", i, err)
		}
	}

	if calls != len(p.supervisors) {
		t.Fatalf("calls = %d, want %d", calls, len(p.supervisors))
	}
}
