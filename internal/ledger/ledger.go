// Package ledger records every submission's code, result, and outcome to
// MySQL for audit purposes. Writes are asynchronous and best-effort: a
// ledger failure never affects a submission's response.
package ledger

import (
	"context"
	"time"

	"github.com/Potat-Industries/eval-server/internal/common/db"
	"github.com/Potat-Industries/eval-server/pkg/utils/logger"
)

// Entry is one row of the submission ledger.
type Entry struct {
	ID         string
	Code       string
	Result     string
	StatusCode int
	DurationMs float64
	CreatedAt  time.Time
}

// Ledger persists Entries to MySQL, best-effort and off the hot path.
type Ledger struct {
	database db.Database
}

func New(database db.Database) *Ledger {
	return &Ledger{database: database}
}

// Record writes entry asynchronously. Failures are logged, never returned:
// callers must not block a submission's response on ledger durability.
func (l *Ledger) Record(ctx context.Context, entry Entry) {
	if l == nil || l.database == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	go func() {
		query := `
			INSERT INTO submission_ledger
			(id, code, result, status_code, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err := l.database.Exec(context.Background(), query,
			entry.ID, entry.Code, entry.Result, entry.StatusCode, entry.DurationMs, entry.CreatedAt)
		if err != nil {
			logger.Warn(ctx, "submission ledger write failed")
		}
	}()
}
