package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/config"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

func newTestIndex(t *testing.T) (*AnomalyIndex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	idx, err := NewAnomalyIndex(context.Background(), config.RedisConfig{Addr: mr.Addr(), Retention: time.Hour})
	if err != nil {
		t.Fatalf("NewAnomalyIndex() error = %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx, mr
}

func TestKeys(t *testing.T) {
	at := time.Unix(1700000000, 42)
	if got := entryKey("pi_data", at); got != "anomaly:pi_data:1700000000000000042" {
		t.Errorf("entryKey() = %q", got)
	}
	if got := listKey("esp32/dustsensor"); got != "anomaly_list:esp32/dustsensor" {
		t.Errorf("listKey() = %q", got)
	}
}

func TestAnomalyIndex_RecordAndRecent(t *testing.T) {
	idx, mr := newTestIndex(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		err := idx.Record(ctx, models.AnomalyRecord{
			Topic:      "pi_data",
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
			Fields:     map[string]interface{}{"temperature": 27.0 + float64(i)},
			Payload:    map[string]interface{}{"status": "Anomaly"},
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := idx.Recent(ctx, "pi_data", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d records, want 2", len(got))
	}
	if got[0].Fields["temperature"] != 29.0 || got[1].Fields["temperature"] != 28.0 {
		t.Fatalf("records not newest first: %+v", got)
	}

	if ttl := mr.TTL(entryKey("pi_data", base)); ttl != time.Hour {
		t.Errorf("entry ttl = %v, want 1h", ttl)
	}

	other, err := idx.Recent(ctx, "esp32/dustsensor", 10)
	if err != nil || len(other) != 0 {
		t.Fatalf("Recent(other) = %v, %v", other, err)
	}
}

func TestAnomalyIndex_SkipsExpiredEntries(t *testing.T) {
	idx, mr := newTestIndex(t)
	ctx := context.Background()
	at := time.Now()

	rec := models.AnomalyRecord{Topic: "pi_data", ReceivedAt: at, Payload: map[string]interface{}{"status": "Anomaly"}}
	if err := idx.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}
	mr.Del(entryKey("pi_data", at))

	got, err := idx.Recent(ctx, "pi_data", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected expired entry to be skipped, got %+v", got)
	}
}

func TestNewAnomalyIndex_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewAnomalyIndex(context.Background(), config.RedisConfig{Addr: addr}); err == nil {
		t.Fatal("expected connection error")
	}
}
