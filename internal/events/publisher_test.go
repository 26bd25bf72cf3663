package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Potat-Industries/eval-server/internal/common/mq"
)

type fakeQueue struct {
	mu        sync.Mutex
	published []*mq.Message
	fail      bool
}

func (q *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return context.DeadlineExceeded
	}
	q.published = append(q.published, message)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

func TestPublishDeliversEvent(t *testing.T) {
	queue := &fakeQueue{}
	p := New(queue, "submissions")

	p.Publish(context.Background(), SubmissionEvent{ID: "1", StatusCode: 200, Succeeded: true})

	deadline := time.Now().Add(time.Second)
	for queue.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if queue.count() != 1 {
		t.Fatalf("expected one published event, got %d", queue.count())
	}
}

func TestPublishSwallowsErrors(t *testing.T) {
	queue := &fakeQueue{fail: true}
	p := New(queue, "submissions")

	// Must not panic or block despite the underlying queue always failing.
	p.Publish(context.Background(), SubmissionEvent{ID: "1"})
	time.Sleep(10 * time.Millisecond)
}

func TestPublishOnNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	p.Publish(context.Background(), SubmissionEvent{ID: "1"})
}
