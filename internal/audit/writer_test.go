package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockRepo struct {
	mu          sync.Mutex
	logs        []RequestLog
	failCreates int
}

func (m *mockRepo) Create(_ context.Context, log *RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreates > 0 {
		m.failCreates--
		return errors.New("disk full")
	}
	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockRepo) List(_ context.Context, filter Filter) (*ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RequestLog
	for _, l := range m.logs {
		if filter.DeviceID != "" && l.DeviceID != filter.DeviceID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		out = append(out, l)
	}
	return &ListResult{Logs: out, Total: len(out)}, nil
}

func (m *mockRepo) stored() []RequestLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RequestLog(nil), m.logs...)
}

func TestWriter_RecordPersistsAsync(t *testing.T) {
	repo := &mockRepo{}
	w := NewWriter(repo)

	w.Record("HANIBI-001", "/api/v1/sensors/data", StatusSuccess, "")
	w.RecordWithLatency("HANIBI-002", "/api/v1/sensors/events", StatusValidationFailed, "unknown event type", 12*time.Millisecond)
	w.Close()

	logs := repo.stored()
	if len(logs) != 2 {
		t.Fatalf("stored logs = %d, want 2", len(logs))
	}
	if logs[0].DeviceID != "HANIBI-001" || logs[0].Status != StatusSuccess {
		t.Errorf("first log = %+v, want HANIBI-001 SUCCESS", logs[0])
	}
	if logs[0].LatencyMs != nil {
		t.Error("Record must not attach a latency")
	}
	if logs[1].LatencyMs == nil || *logs[1].LatencyMs != 12 {
		t.Errorf("LatencyMs = %v, want 12", logs[1].LatencyMs)
	}
	if logs[1].Message != "unknown event type" {
		t.Errorf("Message = %q, want the failure detail", logs[1].Message)
	}
}

func TestWriter_RecordAfterCloseIsNoOp(t *testing.T) {
	repo := &mockRepo{}
	w := NewWriter(repo)
	w.Close()

	// Must neither panic nor store.
	w.Record("HANIBI-001", "/api/v1/sensors/data", StatusSuccess, "")
	if len(repo.stored()) != 0 {
		t.Error("entry stored after Close")
	}
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	w := NewWriter(&mockRepo{})
	w.Close()
	w.Close()
}

func TestWriter_RepoFailureDoesNotStopWorker(t *testing.T) {
	repo := &mockRepo{failCreates: 1}
	w := NewWriter(repo)

	w.Record("HANIBI-001", "/api/v1/sensors/data", StatusError, "")
	w.Record("HANIBI-002", "/api/v1/sensors/data", StatusSuccess, "")
	w.Close()

	logs := repo.stored()
	if len(logs) != 1 || logs[0].DeviceID != "HANIBI-002" {
		t.Errorf("stored logs = %+v, want only the post-recovery entry", logs)
	}
}

func TestWriter_ConcurrentRecords(t *testing.T) {
	repo := &mockRepo{}
	w := NewWriter(repo)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Record("HANIBI-001", "/api/v1/sensors/heartbeat", StatusSuccess, "")
		}()
	}
	wg.Wait()
	w.Close()

	if got := len(repo.stored()); got != 50 {
		t.Errorf("stored logs = %d, want 50", got)
	}
}
