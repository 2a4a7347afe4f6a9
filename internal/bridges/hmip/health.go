package hmip

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	cloud "github.com/nerrad567/gray-logic-hmip/internal/hmip"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/mqtt"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StreamMonitor exposes the state of the cloud event stream.
// *cloud.EventStream satisfies it.
type StreamMonitor interface {
	Stats() cloud.StreamStats
}

// HealthReporter publishes the bridge health at a fixed interval.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	stream    StreamMonitor
	topic     string

	// counters supplies command statistics; may be nil.
	counters func() (received, failed uint64)

	entityCount   int
	entityCountMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Stream provides event stream statistics. Optional.
	Stream StreamMonitor
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		stream:    cfg.Stream,
		topic:     mqtt.Topics{}.BridgeHealth(Protocol),
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// SetEntityCount updates the number of managed light entities.
func (h *HealthReporter) SetEntityCount(count int) {
	h.entityCountMu.Lock()
	h.entityCount = count
	h.entityCountMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.stream != nil && !h.stream.Stats().Connected {
		return HealthDegraded, "HomematicIP cloud disconnected"
	}
	return HealthHealthy, ""
}

// buildMessage assembles a health message for status.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	h.entityCountMu.RLock()
	entities := h.entityCount
	h.entityCountMu.RUnlock()

	msg := HealthMessage{
		Bridge:          Protocol,
		Timestamp:       time.Now().UTC(),
		Status:          status,
		Version:         h.version,
		UptimeSeconds:   int64(time.Since(h.startTime).Seconds()),
		EntitiesManaged: entities,
		Reason:          reason,
		Statistics:      &BridgeStatistics{},
	}

	if h.stream != nil {
		stats := h.stream.Stats()
		msg.Connection = &ConnectionStatus{Status: "disconnected"}
		if stats.Connected {
			msg.Connection.Status = "connected"
		}
		if !stats.LastEventAt.IsZero() {
			last := stats.LastEventAt.UTC()
			msg.Connection.LastEventAt = &last
		}
		msg.Statistics.EventsReceived = stats.EventsReceived
		msg.Statistics.EventErrors = stats.EventErrors
		msg.Statistics.Reconnects = stats.Reconnects
	}

	if h.counters != nil {
		msg.Statistics.CommandsReceived, msg.Statistics.CommandsFailed = h.counters()
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
