package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

type fakeLedger struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeLedger) RebuildCounters(_ context.Context, subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, subject)
	if f.fail {
		return errors.New("store down")
	}
	return nil
}

func (f *fakeLedger) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func publish(t *testing.T, q queue.Queue, subject string) {
	t.Helper()
	msg, err := queue.NewRecorded(queue.Recorded{RecordID: "r", Date: "2024-03-01", Subject: subject, StudentID: "S100"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(context.Background(), msg))
}

func TestRunRebuildsEachEvent(t *testing.T) {
	q := queue.NewInMemory(8)
	ledger := &fakeLedger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- New(q, ledger, 0).Run(ctx) }()

	publish(t, q, "Math")
	require.NoError(t, q.Publish(context.Background(), queue.Message{Type: "other"}))
	require.NoError(t, q.Publish(context.Background(), queue.Message{Type: queue.TypeAttendanceRecorded, Body: []byte("{")}))
	publish(t, q, "Physics")

	assert.Eventually(t, func() bool { return len(ledger.Calls()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Math", "Physics"}, ledger.Calls())

	cancel()
	assert.NoError(t, <-done)
}

func TestRunCoalescesBursts(t *testing.T) {
	q := queue.NewInMemory(8)
	ledger := &fakeLedger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = New(q, ledger, 50*time.Millisecond).Run(ctx) }()

	for i := 0; i < 5; i++ {
		publish(t, q, "Math")
	}
	assert.Eventually(t, func() bool { return len(ledger.Calls()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"Math"}, ledger.Calls())
}

func TestRebuildFailureIsCounted(t *testing.T) {
	before := testutil.ToFloat64(metrics.CounterRebuilds.WithLabelValues("error"))
	w := New(queue.NewInMemory(1), &fakeLedger{fail: true}, 0)

	w.rebuild(context.Background(), "Math")

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CounterRebuilds.WithLabelValues("error")))
}
