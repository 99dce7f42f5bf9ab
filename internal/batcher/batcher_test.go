package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/callsight/console/internal/events"
	"github.com/callsight/console/internal/testutil"
)

func record(i int) events.Record {
	return events.Record{
		EventID:   fmt.Sprintf("evt-%d", i),
		SessionID: "sess-1",
		Kind:      events.KindOperatorPartial,
		Timestamp: time.Now().UTC(),
		Payload:   []byte(`{"type":"operator.partial"}`),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAdd_FlushesAtThreshold(t *testing.T) {
	ms := testutil.NewMockStore()
	b := New(ms, Config{FlushInterval: time.Hour, FlushThreshold: 3, BufferMax: 100})

	b.Add(record(1))
	b.Add(record(2))
	if ms.GetEventCount() != 0 {
		t.Errorf("expected no flush below threshold, got %d events", ms.GetEventCount())
	}

	b.Add(record(3))
	waitFor(t, func() bool { return ms.GetEventCount() == 3 }, "threshold flush did not happen")

	if b.BufferLen() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", b.BufferLen())
	}
}

func TestStart_PeriodicFlush(t *testing.T) {
	ms := testutil.NewMockStore()
	b := New(ms, Config{FlushInterval: 20 * time.Millisecond, FlushThreshold: 100, BufferMax: 100})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	b.Add(record(1))
	b.Add(record(2))

	waitFor(t, func() bool { return ms.GetEventCount() == 2 }, "periodic flush did not happen")
}

func TestStart_FinalFlushOnShutdown(t *testing.T) {
	ms := testutil.NewMockStore()
	b := New(ms, Config{FlushInterval: time.Hour, FlushThreshold: 100, BufferMax: 100})

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)

	b.Add(record(1))
	cancel()
	b.Wait()

	if ms.GetEventCount() != 1 {
		t.Errorf("expected final flush on shutdown, got %d events", ms.GetEventCount())
	}
}

func TestAdd_DropsOldestOnOverflow(t *testing.T) {
	ms := testutil.NewMockStore()
	b := New(ms, Config{FlushInterval: time.Hour, FlushThreshold: 100, BufferMax: 3})

	var mu sync.Mutex
	var alerts []string
	b.SetNATSPublisher(func(subject string, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, subject)
		return nil
	})

	for i := 1; i <= 4; i++ {
		b.Add(record(i))
	}

	if got := b.BufferLen(); got != 3 {
		t.Errorf("expected buffer capped at 3, got %d", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 1 || alerts[0] != "assist.alert.buffer_overflow" {
		t.Errorf("expected one overflow alert, got %v", alerts)
	}
}

func TestFlush_RequeuesOnWriteFailure(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = errors.New("connection refused")
	b := New(ms, Config{FlushInterval: time.Hour, FlushThreshold: 100, BufferMax: 100})

	b.Add(record(1))
	b.Add(record(2))
	b.flush()

	if got := b.BufferLen(); got != 2 {
		t.Fatalf("failed batch was not re-queued, buffer=%d", got)
	}
	if ms.GetInsertCalls() != 0 {
		t.Errorf("expected no successful inserts, got %d", ms.GetInsertCalls())
	}

	// Store recovers; the re-queued records flush on the next attempt.
	ms.InsertErr = nil
	b.flush()

	if ms.GetEventCount() != 2 {
		t.Errorf("expected re-queued records written after recovery, got %d", ms.GetEventCount())
	}
	if b.BufferLen() != 0 {
		t.Errorf("expected empty buffer, got %d", b.BufferLen())
	}
}

func TestFlush_AlertsAfterThreeConsecutiveFailures(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = errors.New("connection refused")
	b := New(ms, Config{FlushInterval: time.Hour, FlushThreshold: 100, BufferMax: 100})

	var mu sync.Mutex
	var alerts []string
	b.SetNATSPublisher(func(subject string, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, subject)
		return nil
	})

	b.Add(record(1))
	for i := 0; i < 3; i++ {
		b.flush()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 1 || alerts[0] != "assist.alert.write_failure" {
		t.Errorf("expected one write-failure alert, got %v", alerts)
	}
}

func TestFlush_SuccessResetsFailureCount(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = errors.New("connection refused")
	b := New(ms, Config{FlushInterval: time.Hour, FlushThreshold: 100, BufferMax: 100})

	var mu sync.Mutex
	var alerts []string
	b.SetNATSPublisher(func(subject string, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, subject)
		return nil
	})

	b.Add(record(1))
	b.flush()
	b.flush()

	ms.InsertErr = nil
	b.flush()

	ms.InsertErr = errors.New("connection refused")
	b.Add(record(2))
	b.flush()
	b.flush()

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, counter should have reset: %v", alerts)
	}
}

func TestAdd_Concurrent(t *testing.T) {
	ms := testutil.NewMockStore()
	b := New(ms, Config{FlushInterval: time.Hour, FlushThreshold: 10, BufferMax: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.Add(record(base*10 + j))
			}
		}(i)
	}
	wg.Wait()

	waitFor(t, func() bool { return ms.GetEventCount()+b.BufferLen() == 100 }, "records lost under concurrent adds")
}
