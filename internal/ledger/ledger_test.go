package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Potat-Industries/eval-server/internal/common/db"
)

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeDB struct {
	mu      sync.Mutex
	queries []string
	fail    bool
}

func (d *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, context.DeadlineExceeded
	}
	d.queries = append(d.queries, query)
	return fakeResult{}, nil
}

func (d *fakeDB) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queries)
}

func TestRecordWritesEntry(t *testing.T) {
	fake := &fakeDB{}
	l := New(fake)

	l.Record(context.Background(), Entry{ID: "1", Code: "1+1", Result: "2", StatusCode: 200})

	deadline := time.Now().Add(time.Second)
	for fake.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fake.count() != 1 {
		t.Fatalf("expected one ledger write, got %d", fake.count())
	}
}

func TestRecordSwallowsErrors(t *testing.T) {
	fake := &fakeDB{fail: true}
	l := New(fake)
	l.Record(context.Background(), Entry{ID: "1"})
	time.Sleep(10 * time.Millisecond)
}

func TestRecordOnNilLedgerIsNoop(t *testing.T) {
	var l *Ledger
	l.Record(context.Background(), Entry{ID: "1"})
}
