package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/berenice-ai/berenice/internal/config"
)

type fakeStats struct {
	conversations int
	messages      int
	observers     int
	connected     bool
	uptime        time.Duration
}

func (f *fakeStats) ActiveConversations() int              { return f.conversations }
func (f *fakeStats) TotalMessages() int                    { return f.messages }
func (f *fakeStats) DashboardConnections() int             { return f.observers }
func (f *fakeStats) StoreConnected(_ context.Context) bool { return f.connected }
func (f *fakeStats) Uptime() time.Duration                 { return f.uptime }

func newTestPublisher(stats StatsSource) *Publisher {
	cfg := config.MQTTConfig{
		Enabled:     true,
		BrokerURL:   "mqtt://localhost:1883",
		TopicPrefix: "berenice",
		IntervalSec: 60,
	}
	p := New(cfg, stats, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time {
		return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	}
	return p
}

func TestTopics(t *testing.T) {
	p := newTestPublisher(&fakeStats{})

	if got := p.availabilityTopic(); got != "berenice/availability" {
		t.Errorf("availability topic = %q", got)
	}
	if got := p.statsTopic(); got != "berenice/stats" {
		t.Errorf("stats topic = %q", got)
	}
}

func TestBuildStats(t *testing.T) {
	stats := &fakeStats{
		conversations: 3,
		messages:      42,
		observers:     2,
		connected:     true,
		uptime:        90*time.Minute + 500*time.Millisecond,
	}
	p := newTestPublisher(stats)

	payload := p.buildStats(context.Background())

	if payload.ActiveConversations != 3 {
		t.Errorf("active_conversations = %d", payload.ActiveConversations)
	}
	if payload.TotalMessages != 42 {
		t.Errorf("total_messages = %d", payload.TotalMessages)
	}
	if payload.DashboardConnections != 2 {
		t.Errorf("dashboard_connections = %d", payload.DashboardConnections)
	}
	if !payload.StoreConnected {
		t.Error("store_connected = false")
	}
	if payload.Uptime != "1h30m0s" {
		t.Errorf("uptime = %q", payload.Uptime)
	}
	if payload.Timestamp != "2025-03-10T12:00:00Z" {
		t.Errorf("timestamp = %q", payload.Timestamp)
	}
}

func TestStatsPayloadJSON(t *testing.T) {
	p := newTestPublisher(&fakeStats{conversations: 1, connected: true})

	data, err := json.Marshal(p.buildStats(context.Background()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{
		"active_conversations", "total_messages", "dashboard_connections",
		"store_connected", "uptime", "timestamp",
	} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("payload missing field %q", field)
		}
	}
}

func TestStartRejectsBadBrokerURL(t *testing.T) {
	cfg := config.MQTTConfig{BrokerURL: "://not-a-url"}
	p := New(cfg, &fakeStats{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid broker URL")
	}
}
