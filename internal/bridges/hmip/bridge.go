package hmip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hmip/internal/audit"
	"github.com/nerrad567/gray-logic-hmip/internal/entity"
	cloud "github.com/nerrad567/gray-logic-hmip/internal/hmip"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hmip/internal/light"
)

const (
	// minTopicParts is graylogic/{category}/hmip/{address}.
	minTopicParts = 4

	// commandTimeout bounds a single command against the cloud.
	commandTimeout = 10 * time.Second

	// qosAtLeastOnce is used for every bridge topic.
	qosAtLeastOnce byte = 1
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// ServiceCaller executes light service calls. *light.Dispatcher satisfies it.
type ServiceCaller interface {
	Call(ctx context.Context, call light.ServiceCall) error
}

// StateSource reads entity states. *entity.Registry satisfies it.
type StateSource interface {
	Get(ctx context.Context, entityID string) (entity.State, error)
	List() []entity.State
}

// MetricsWriter records light metrics. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteLightEnergy(entityID, deviceID string, powerWatts, energyKWh float64)
	WriteLightState(entityID, deviceID string, on bool, brightness int)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BridgeOptions holds the collaborators of a bridge.
type BridgeOptions struct {
	// MQTTClient is required.
	MQTTClient MQTTClient

	// Services executes commands. Required.
	Services ServiceCaller

	// States answers read requests. Required.
	States StateSource

	// Metrics is optional; nil disables InfluxDB writes.
	Metrics MetricsWriter

	// Stream feeds the health report. Optional.
	Stream StreamMonitor

	Version        string
	HealthInterval time.Duration
	Logger         Logger
}

// Bridge translates between the Gray Logic MQTT bridge interface and the
// HomematicIP light platform.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	services ServiceCaller
	states   StateSource
	metrics  MetricsWriter
	health   *HealthReporter
	topics   mqtt.Topics
	logger   Logger

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64

	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Services == nil {
		return nil, fmt.Errorf("service caller is required")
	}
	if opts.States == nil {
		return nil, fmt.Errorf("state source is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		mqtt:      opts.MQTTClient,
		services:  opts.Services,
		states:    opts.States,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		ctx:       ctx,
		ctxCancel: cancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Stream:    opts.Stream,
	})
	b.health.counters = func() (uint64, uint64) {
		return b.commandsReceived.Load(), b.commandsFailed.Load()
	}
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to commands and requests, publishes every known state
// and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.BridgeCommandSubscription(Protocol)
	if err := b.mqtt.Subscribe(commandTopic, qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := b.topics.BridgeRequestSubscription(Protocol)
	if err := b.mqtt.Subscribe(requestTopic, qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	states := b.states.List()
	for _, s := range states {
		b.publishState(s)
	}
	b.health.SetEntityCount(len(states))

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started", "entities", len(states))
	return nil
}

// Stop cancels in-flight commands and publishes a final "stopping" status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// HandleStateChange mirrors a registry state change to MQTT and InfluxDB.
// Register it with entity.Registry.OnStateChanged.
func (b *Bridge) HandleStateChange(_ context.Context, change entity.StateChange) {
	if change.New.Domain() != light.Domain {
		return
	}
	if change.Removed {
		b.clearState(change.New.EntityID)
		b.health.SetEntityCount(len(b.states.List()))
		return
	}
	b.publishState(change.New)
	b.writeMetrics(change.New)
	b.health.SetEntityCount(len(b.states.List()))
}

func (b *Bridge) publishState(state entity.State) {
	payload, err := json.Marshal(NewStateMessage(state))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	topic := b.topics.BridgeState(Protocol, state.EntityID)
	if err := b.mqtt.Publish(topic, payload, qosAtLeastOnce, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

// ClearStates drops the retained state of lights that no longer exist,
// such as those light.Platform.StaleEntities reports after a restart.
func (b *Bridge) ClearStates(entityIDs []string) {
	for _, id := range entityIDs {
		if (entity.State{EntityID: id}).Domain() == light.Domain {
			b.clearState(id)
		}
	}
}

// clearState deletes the retained state of a removed entity. An empty
// retained payload is how MQTT brokers drop a retained message.
func (b *Bridge) clearState(entityID string) {
	topic := b.topics.BridgeState(Protocol, entityID)
	if err := b.mqtt.Publish(topic, []byte{}, qosAtLeastOnce, true); err != nil {
		b.logError("failed to clear state", err)
		return
	}
	b.logInfo("cleared retained state", "entity_id", entityID)
}

func (b *Bridge) writeMetrics(state entity.State) {
	if b.metrics == nil || state.State == entity.StateUnavailable {
		return
	}

	deviceID, _ := state.Attributes[light.AttrDeviceID].(string)
	on := state.State == entity.StateOn
	brightness, hasBrightness := numberAttr(state.Attributes, light.AttrBrightness)
	switch {
	case !on:
		brightness = 0
	case !hasBrightness:
		brightness = 255
	}
	b.metrics.WriteLightState(state.EntityID, deviceID, on, int(brightness))

	power, hasPower := numberAttr(state.Attributes, light.AttrPowerConsumption)
	energy, hasEnergy := numberAttr(state.Attributes, light.AttrEnergyCounter)
	if hasPower && hasEnergy {
		b.metrics.WriteLightEnergy(state.EntityID, deviceID, power, energy)
	}
}

// numberAttr reads a numeric attribute as published (int) or as decoded
// from storage (float64).
func numberAttr(attrs map[string]any, key string) (float64, bool) {
	switch v := attrs[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// handleMQTTMessage routes a message by the category segment of its topic.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts || parts[2] != Protocol {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	address := parts[len(parts)-1]

	switch parts[1] {
	case "command":
		return b.handleCommand(address, payload)
	case "request":
		return b.handleRequest(address, payload)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
}

// handleCommand executes a command and publishes its acknowledgment.
func (b *Bridge) handleCommand(address string, payload []byte) error {
	b.commandsReceived.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.commandsFailed.Add(1)
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if cmd.EntityID == "" {
		cmd.EntityID = address
	}
	if cmd.ID == "" {
		cmd.ID = newID()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"entity_id", cmd.EntityID,
		"command", cmd.Command,
		"source", cmd.Source)

	call, err := commandToServiceCall(cmd)
	if err == nil {
		ctx, cancel := context.WithTimeout(commandContext(b.ctx, cmd), commandTimeout)
		err = b.services.Call(ctx, call)
		cancel()
	}

	if err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(cmd, NewAckError(cmd, errorCode(err), err.Error()))
		return fmt.Errorf("command %s: %w", cmd.ID, err)
	}

	b.publishAck(cmd, NewAckMessage(cmd))
	return nil
}

// commandContext carries the command issuer for the audit log.
func commandContext(ctx context.Context, cmd CommandMessage) context.Context {
	subject := cmd.UserID
	if subject == "" {
		subject = cmd.Source
	}
	if subject == "" {
		return ctx
	}
	return audit.WithSubject(ctx, subject)
}

// commandToServiceCall maps a bridge command onto a light service call.
func commandToServiceCall(cmd CommandMessage) (light.ServiceCall, error) {
	data := make(map[string]any, len(cmd.Parameters)+1)
	for k, v := range cmd.Parameters {
		data[k] = v
	}
	data[light.KeyEntityID] = cmd.EntityID

	call := light.ServiceCall{Domain: light.Domain, Data: data}

	switch cmd.Command {
	case CommandTurnOn, CommandOn:
		call.Service = light.ServiceTurnOn
	case CommandTurnOff, CommandOff:
		call.Service = light.ServiceTurnOff
	case CommandToggle:
		call.Service = light.ServiceToggle
	case CommandDim:
		level, ok := data["level"]
		if !ok {
			return call, fmt.Errorf("%w: dim requires level", light.ErrInvalidParameters)
		}
		delete(data, "level")
		data[light.KeyBrightnessPct] = level
		call.Service = light.ServiceTurnOn
	default:
		return call, fmt.Errorf("%w: %s", light.ErrUnknownService, cmd.Command)
	}
	return call, nil
}

// errorCode maps an execution error to a bridge error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, light.ErrEntityNotFound), errors.Is(err, entity.ErrEntityNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, light.ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, light.ErrUnknownService):
		return ErrCodeInvalidCommand
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, cloud.ErrRequestFailed), errors.Is(err, cloud.ErrUnauthorized):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) publishAck(cmd CommandMessage, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := b.topics.BridgeAck(Protocol, cmd.EntityID)
	if err := b.mqtt.Publish(topic, payload, qosAtLeastOnce, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest answers read_state and read_all requests.
func (b *Bridge) handleRequest(address string, payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if req.RequestID == "" {
		req.RequestID = address
	}

	b.logDebug("received request", "request_id", req.RequestID, "action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionReadAll:
		resp = b.handleReadAll(req)
	default:
		resp = newResponseError(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	topic := b.topics.BridgeResponse(Protocol, req.RequestID)
	if err := b.mqtt.Publish(topic, respPayload, qosAtLeastOnce, false); err != nil {
		return fmt.Errorf("publish response: %w", err)
	}
	return nil
}

func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.EntityID == "" {
		return newResponseError(req.RequestID, ErrCodeInvalidParameters, "entity_id is required")
	}

	state, err := b.states.Get(b.ctx, req.EntityID)
	if err != nil {
		return newResponseError(req.RequestID, errorCode(err), err.Error())
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      map[string]any{"state": NewStateMessage(state)},
	}
}

func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	states := b.states.List()
	msgs := make([]StateMessage, 0, len(states))
	for _, s := range states {
		if s.Domain() == light.Domain {
			msgs = append(msgs, NewStateMessage(s))
		}
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"states": msgs,
			"count":  len(msgs),
		},
	}
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}
