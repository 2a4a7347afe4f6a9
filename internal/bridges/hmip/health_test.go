package hmip

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	cloud "github.com/nerrad567/gray-logic-hmip/internal/hmip"
)

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name       string
		mqtt       bool
		stream     *fakeStream
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", true, &fakeStream{stats: cloud.StreamStats{Connected: true}}, HealthHealthy, ""},
		{"mqtt down", false, &fakeStream{stats: cloud.StreamStats{Connected: true}}, HealthDegraded, "MQTT disconnected"},
		{"cloud down", true, &fakeStream{}, HealthDegraded, "HomematicIP cloud disconnected"},
		{"no stream", true, nil, HealthHealthy, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.setConnected(tt.mqtt)

			cfg := HealthReporterConfig{Version: "1.2.3", Publisher: pub}
			if tt.stream != nil {
				cfg.Stream = tt.stream
			}
			h := NewHealthReporter(cfg)

			if err := h.PublishNow(); err != nil {
				t.Fatalf("PublishNow() error = %v", err)
			}
			var msg HealthMessage
			p := pub.lastOn(t, "graylogic/health/hmip", &msg)
			if !p.Retained {
				t.Error("health not retained")
			}
			if msg.Status != tt.wantStatus || msg.Reason != tt.wantReason {
				t.Errorf("status = %s (%q), want %s (%q)", msg.Status, msg.Reason, tt.wantStatus, tt.wantReason)
			}
			if msg.Bridge != "hmip" || msg.Version != "1.2.3" {
				t.Errorf("message = %+v", msg)
			}
		})
	}
}

func TestHealthReporter_Statistics(t *testing.T) {
	last := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		Publisher: pub,
		Stream: &fakeStream{stats: cloud.StreamStats{
			Connected:      true,
			EventsReceived: 12,
			EventErrors:    1,
			Reconnects:     2,
			LastEventAt:    last,
		}},
	})
	h.counters = func() (uint64, uint64) { return 7, 3 }
	h.SetEntityCount(6)

	msg := h.buildMessage(HealthHealthy, "")
	if msg.EntitiesManaged != 6 {
		t.Errorf("EntitiesManaged = %d, want 6", msg.EntitiesManaged)
	}
	want := BridgeStatistics{EventsReceived: 12, EventErrors: 1, Reconnects: 2, CommandsReceived: 7, CommandsFailed: 3}
	if *msg.Statistics != want {
		t.Errorf("Statistics = %+v, want %+v", *msg.Statistics, want)
	}
	if msg.Connection == nil || msg.Connection.Status != "connected" || !msg.Connection.LastEventAt.Equal(last) {
		t.Errorf("Connection = %+v", msg.Connection)
	}
}

func TestHealthReporter_StopPublishesStopping(t *testing.T) {
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Interval: time.Hour})
	if h.interval != time.Hour {
		t.Errorf("interval = %v", h.interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.Start(ctx)
	h.Stop()
	h.Stop()

	msgs := pub.byTopic("graylogic/health/hmip")
	if len(msgs) != 1 {
		t.Fatalf("health messages = %d, want 1", len(msgs))
	}
	var msg HealthMessage
	if err := json.Unmarshal(msgs[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Status != HealthStopping {
		t.Errorf("status = %s, want stopping", msg.Status)
	}
}

func TestNewHealthReporter_DefaultInterval(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if h.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, defaultHealthInterval)
	}
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
}
