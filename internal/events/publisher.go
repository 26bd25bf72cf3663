// Package events publishes submission-completed events to Kafka. This is
// separate from the admission queue: it is a fire-and-forget side channel
// for downstream consumers (dashboards, audit feeds), not part of the
// evaluation critical path.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Potat-Industries/eval-server/internal/common/mq"
	"github.com/Potat-Industries/eval-server/pkg/utils/logger"
)

// SubmissionEvent is the payload published after every evaluation.
type SubmissionEvent struct {
	ID         string  `json:"id"`
	Code       string  `json:"code"`
	StatusCode int     `json:"statusCode"`
	DurationMs float64 `json:"durationMs"`
	Succeeded  bool    `json:"succeeded"`
	Timestamp  int64   `json:"timestamp"`
}

// Publisher pushes SubmissionEvents to a topic, swallowing publish failures:
// event delivery is best-effort and must never affect a submission's result.
type Publisher struct {
	queue mq.Publisher
	topic string
}

func New(queue mq.Publisher, topic string) *Publisher {
	return &Publisher{queue: queue, topic: topic}
}

// Publish fires the event asynchronously; any error is logged and dropped.
func (p *Publisher) Publish(ctx context.Context, event SubmissionEvent) {
	if p == nil || p.queue == nil {
		return
	}
	event.Timestamp = time.Now().UnixMilli()

	go func() {
		body, err := json.Marshal(event)
		if err != nil {
			logger.Warn(ctx, "encode submission event failed")
			return
		}
		msg := &mq.Message{ID: uuid.NewString(), Body: body, Timestamp: time.Now()}
		if err := p.queue.Publish(context.Background(), p.topic, msg); err != nil {
			logger.Warn(ctx, "publish submission event failed")
		}
	}()
}
