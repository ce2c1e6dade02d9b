package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/cliniguard/cliniguard/internal/dispatch"
)

type failingStore struct {
	MemoryStore
	err error
}

func (s *failingStore) Append(ctx context.Context, rec Record) (Record, bool, error) {
	return Record{}, false, s.err
}

func TestRecorderReceipt(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, RecorderOptions{Sampling: SamplingConfig{}})

	receipt, err := rec.Record(context.Background(), makeOutcome())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if receipt.Sequence != 1 || receipt.RecordID == "" || receipt.RecordedAt.IsZero() {
		t.Errorf("receipt = %+v", receipt)
	}
	if receipt.Replayed {
		t.Error("first record must not be a replay")
	}

	again, err := rec.Record(context.Background(), makeOutcome())
	if err != nil {
		t.Fatalf("replay Record: %v", err)
	}
	if !again.Replayed || again.Sequence != receipt.Sequence || again.RecordID != receipt.RecordID {
		t.Errorf("replay receipt = %+v, want original %+v", again, receipt)
	}
	if store.Size() != 1 {
		t.Errorf("store holds %d records, want 1", store.Size())
	}
}

func TestRecorderStoreErrorPropagates(t *testing.T) {
	boom := errors.New("disk full")
	rec := NewRecorder(&failingStore{err: boom}, RecorderOptions{})

	_, err := rec.Record(context.Background(), makeOutcome())
	if !errors.Is(err, boom) {
		t.Errorf("Record error = %v, want wrapped store error", err)
	}
}

func TestRecorderEchoesToLog(t *testing.T) {
	store := NewMemoryStore()
	output := captureLog(func(logger *slog.Logger) {
		rec := NewRecorder(store, RecorderOptions{
			Logger:   logger,
			Sampling: SamplingConfig{SuccessRate: 1.0, FailureRate: 1.0},
		})
		if _, err := rec.Record(context.Background(), makeOutcome()); err != nil {
			t.Fatalf("Record: %v", err)
		}
	})

	if !strings.Contains(output, `"request_id":"req-100"`) {
		t.Errorf("expected audit echo in log output, got: %s", output)
	}
}

func TestRecorderMetrics(t *testing.T) {
	m := NewMetrics()
	store := NewMemoryStore()
	rec := NewRecorder(store, RecorderOptions{Metrics: m, Backend: "memory"})

	if _, err := rec.Record(context.Background(), makeOutcome()); err != nil {
		t.Fatalf("Record: %v", err)
	}

	body := scrapeMetrics(t, m)
	if !strings.Contains(body, `cliniguard_audit_writes_total{backend="memory",result="success"} 1`) {
		t.Errorf("expected audit write counter, got:\n%s", body)
	}
}

func TestRecorderExposesStore(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, RecorderOptions{})
	if rec.Store() != Store(store) {
		t.Error("Store() must return the wrapped backend")
	}
	var _ dispatch.Recorder = rec
}
