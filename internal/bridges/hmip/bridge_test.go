package hmip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hmip/internal/audit"
	"github.com/nerrad567/gray-logic-hmip/internal/entity"
	cloud "github.com/nerrad567/gray-logic-hmip/internal/hmip"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hmip/internal/light"
	"github.com/nerrad567/gray-logic-hmip/migrations"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// deliver simulates an incoming message on topic through the subscribed handler.
func (m *MockMQTTClient) deliver(t *testing.T, subscription, topic string, payload any) error {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers[subscription]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler for %s", subscription)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return handler(topic, data)
}

func (m *MockMQTTClient) byTopic(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) lastOn(t *testing.T, topic string, v any) mockPublish {
	t.Helper()
	msgs := m.byTopic(topic)
	if len(msgs) == 0 {
		t.Fatalf("nothing published on %s", topic)
	}
	last := msgs[len(msgs)-1]
	if err := json.Unmarshal(last.Payload, v); err != nil {
		t.Fatalf("unmarshal %s: %v", topic, err)
	}
	return last
}

type mockServices struct {
	mu    sync.Mutex
	calls []light.ServiceCall
	err   error
}

func (m *mockServices) Call(_ context.Context, call light.ServiceCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *mockServices) last(t *testing.T) light.ServiceCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		t.Fatal("no service calls")
	}
	return m.calls[len(m.calls)-1]
}

type mockStates struct {
	states map[string]entity.State
}

func (m *mockStates) Get(_ context.Context, entityID string) (entity.State, error) {
	s, ok := m.states[entityID]
	if !ok {
		return entity.State{}, fmt.Errorf("%w: %s", entity.ErrEntityNotFound, entityID)
	}
	return s, nil
}

func (m *mockStates) List() []entity.State {
	out := make([]entity.State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out
}

type energyWrite struct {
	entityID, deviceID string
	power, energy      float64
}

type stateWrite struct {
	entityID, deviceID string
	on                 bool
	brightness         int
}

type mockMetrics struct {
	mu     sync.Mutex
	energy []energyWrite
	states []stateWrite
}

func (m *mockMetrics) WriteLightEnergy(entityID, deviceID string, power, energy float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.energy = append(m.energy, energyWrite{entityID, deviceID, power, energy})
}

func (m *mockMetrics) WriteLightState(entityID, deviceID string, on bool, brightness int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, stateWrite{entityID, deviceID, on, brightness})
}

type fakeStream struct {
	stats cloud.StreamStats
}

func (f *fakeStream) Stats() cloud.StreamStats { return f.stats }

var (
	commandSub = mqtt.Topics{}.BridgeCommandSubscription(Protocol)
	requestSub = mqtt.Topics{}.BridgeRequestSubscription(Protocol)
)

func treppeState() entity.State {
	return entity.State{
		EntityID: "light.treppe",
		UniqueID: "HomematicipLight_3014F711BSL0000000000050",
		State:    entity.StateOn,
		Attributes: map[string]any{
			light.AttrFriendlyName: "Treppe",
			light.AttrDeviceID:     "3014F711BSL0000000000050",
		},
		LastChanged: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

type testBridge struct {
	bridge   *Bridge
	mqtt     *MockMQTTClient
	services *mockServices
	metrics  *mockMetrics
	stream   *fakeStream
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	tb := &testBridge{
		mqtt:     NewMockMQTTClient(),
		services: &mockServices{},
		metrics:  &mockMetrics{},
		stream:   &fakeStream{stats: cloud.StreamStats{Connected: true, EventsReceived: 4}},
	}
	states := &mockStates{states: map[string]entity.State{"light.treppe": treppeState()}}

	b, err := NewBridge(BridgeOptions{
		MQTTClient:     tb.mqtt,
		Services:       tb.services,
		States:         states,
		Metrics:        tb.metrics,
		Stream:         tb.stream,
		Version:        "test",
		HealthInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	tb.bridge = b
	return tb
}

func TestNewBridge_RequiresCollaborators(t *testing.T) {
	tests := map[string]BridgeOptions{
		"no mqtt":     {Services: &mockServices{}, States: &mockStates{}},
		"no services": {MQTTClient: NewMockMQTTClient(), States: &mockStates{}},
		"no states":   {MQTTClient: NewMockMQTTClient(), Services: &mockServices{}},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewBridge(opts); err == nil {
				t.Error("NewBridge() error = nil")
			}
		})
	}
}

func TestBridge_StartPublishesStates(t *testing.T) {
	tb := newTestBridge(t)

	var msg StateMessage
	pub := tb.mqtt.lastOn(t, "graylogic/state/hmip/light.treppe", &msg)
	if !pub.Retained || pub.QoS != 1 {
		t.Errorf("state publish retained=%v qos=%d, want retained qos 1", pub.Retained, pub.QoS)
	}
	if msg.State != entity.StateOn || msg.Protocol != "hmip" {
		t.Errorf("state message = %+v", msg)
	}

	var health HealthMessage
	tb.mqtt.lastOn(t, "graylogic/health/hmip", &health)
	if health.Status != HealthHealthy || health.EntitiesManaged != 1 {
		t.Errorf("health = %+v, want healthy with 1 entity", health)
	}
}

func TestBridge_Command(t *testing.T) {
	tests := []struct {
		name        string
		cmd         CommandMessage
		wantService string
		wantData    map[string]any
	}{
		{
			name:        "turn_on with brightness",
			cmd:         CommandMessage{ID: "c1", Command: CommandTurnOn, Parameters: map[string]any{"brightness_pct": 40.0}},
			wantService: light.ServiceTurnOn,
			wantData:    map[string]any{"entity_id": "light.treppe", "brightness_pct": 40.0},
		},
		{
			name:        "generic off",
			cmd:         CommandMessage{ID: "c2", Command: CommandOff},
			wantService: light.ServiceTurnOff,
			wantData:    map[string]any{"entity_id": "light.treppe"},
		},
		{
			name:        "dim maps level to brightness_pct",
			cmd:         CommandMessage{ID: "c3", Command: CommandDim, Parameters: map[string]any{"level": 50.0}},
			wantService: light.ServiceTurnOn,
			wantData:    map[string]any{"entity_id": "light.treppe", "brightness_pct": 50.0},
		},
		{
			name:        "toggle",
			cmd:         CommandMessage{ID: "c4", Command: CommandToggle},
			wantService: light.ServiceToggle,
			wantData:    map[string]any{"entity_id": "light.treppe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			if err := tb.mqtt.deliver(t, commandSub, "graylogic/command/hmip/light.treppe", tt.cmd); err != nil {
				t.Fatalf("handler error = %v", err)
			}

			call := tb.services.last(t)
			if call.Domain != light.Domain || call.Service != tt.wantService {
				t.Errorf("call = %s.%s, want light.%s", call.Domain, call.Service, tt.wantService)
			}
			if len(call.Data) != len(tt.wantData) {
				t.Errorf("data = %v, want %v", call.Data, tt.wantData)
			}
			for k, v := range tt.wantData {
				if call.Data[k] != v {
					t.Errorf("data[%s] = %v, want %v", k, call.Data[k], v)
				}
			}

			var ack AckMessage
			tb.mqtt.lastOn(t, "graylogic/ack/hmip/light.treppe", &ack)
			if ack.Status != AckAccepted || ack.CommandID != tt.cmd.ID {
				t.Errorf("ack = %+v, want accepted for %s", ack, tt.cmd.ID)
			}
		})
	}
}

func TestBridge_CommandFailures(t *testing.T) {
	tests := []struct {
		name     string
		cmd      CommandMessage
		callErr  error
		wantCode string
	}{
		{"unknown command", CommandMessage{Command: "blink"}, nil, ErrCodeInvalidCommand},
		{"dim without level", CommandMessage{Command: CommandDim}, nil, ErrCodeInvalidParameters},
		{"unknown entity", CommandMessage{Command: CommandTurnOn}, fmt.Errorf("x: %w", light.ErrEntityNotFound), ErrCodeNotConfigured},
		{"cloud failure", CommandMessage{Command: CommandTurnOn}, fmt.Errorf("x: %w", cloud.ErrRequestFailed), ErrCodeDeviceUnreachable},
		{"timeout", CommandMessage{Command: CommandTurnOn}, context.DeadlineExceeded, ErrCodeTimeout},
		{"other", CommandMessage{Command: CommandTurnOn}, errors.New("boom"), ErrCodeBridgeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			tb.services.err = tt.callErr

			if err := tb.mqtt.deliver(t, commandSub, "graylogic/command/hmip/light.treppe", tt.cmd); err == nil {
				t.Error("handler error = nil, want failure")
			}

			var ack AckMessage
			tb.mqtt.lastOn(t, "graylogic/ack/hmip/light.treppe", &ack)
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Fatalf("ack = %+v, want code %s", ack, tt.wantCode)
			}
			if ack.CommandID == "" {
				t.Error("ack without command id")
			}
			wantStatus := AckFailed
			if tt.wantCode == ErrCodeTimeout {
				wantStatus = AckTimeout
			}
			if ack.Status != wantStatus {
				t.Errorf("ack status = %s, want %s", ack.Status, wantStatus)
			}
		})
	}
}

func TestBridge_InvalidMessages(t *testing.T) {
	tb := newTestBridge(t)

	tb.mqtt.mu.Lock()
	handler := tb.mqtt.handlers[commandSub]
	tb.mqtt.mu.Unlock()

	if err := handler("graylogic/command/hmip/light.treppe", []byte("{")); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("bad json error = %v, want ErrInvalidMessage", err)
	}
	if err := handler("graylogic/command/knx/1/2/3", []byte("{}")); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("foreign topic error = %v, want ErrInvalidTopic", err)
	}
	if err := handler("graylogic/command", []byte("{}")); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("short topic error = %v, want ErrInvalidTopic", err)
	}
}

func TestBridge_Requests(t *testing.T) {
	tb := newTestBridge(t)

	req := RequestMessage{RequestID: "r1", Action: ActionReadState, EntityID: "light.treppe"}
	if err := tb.mqtt.deliver(t, requestSub, "graylogic/request/hmip/r1", req); err != nil {
		t.Fatalf("read_state error = %v", err)
	}
	var resp ResponseMessage
	tb.mqtt.lastOn(t, "graylogic/response/hmip/r1", &resp)
	if !resp.Success {
		t.Fatalf("read_state response = %+v", resp)
	}
	state, _ := resp.Data["state"].(map[string]any)
	if state["state"] != entity.StateOn {
		t.Errorf("read_state data = %v", resp.Data)
	}

	req = RequestMessage{RequestID: "r2", Action: ActionReadState, EntityID: "light.keller"}
	if err := tb.mqtt.deliver(t, requestSub, "graylogic/request/hmip/r2", req); err != nil {
		t.Fatalf("read_state error = %v", err)
	}
	tb.mqtt.lastOn(t, "graylogic/response/hmip/r2", &resp)
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeNotConfigured {
		t.Errorf("unknown entity response = %+v", resp)
	}

	req = RequestMessage{Action: ActionReadAll}
	if err := tb.mqtt.deliver(t, requestSub, "graylogic/request/hmip/r3", req); err != nil {
		t.Fatalf("read_all error = %v", err)
	}
	resp = ResponseMessage{}
	tb.mqtt.lastOn(t, "graylogic/response/hmip/r3", &resp)
	if !resp.Success || resp.RequestID != "r3" || resp.Data["count"] != 1.0 {
		t.Errorf("read_all response = %+v", resp)
	}

	req = RequestMessage{RequestID: "r4", Action: "restart"}
	if err := tb.mqtt.deliver(t, requestSub, "graylogic/request/hmip/r4", req); err != nil {
		t.Fatalf("unknown action error = %v", err)
	}
	resp = ResponseMessage{}
	tb.mqtt.lastOn(t, "graylogic/response/hmip/r4", &resp)
	if resp.Success || resp.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("unknown action response = %+v", resp)
	}
}

func TestBridge_HandleStateChange(t *testing.T) {
	tb := newTestBridge(t)

	measuring := entity.State{
		EntityID: "light.flur_oben",
		State:    entity.StateOn,
		Attributes: map[string]any{
			light.AttrDeviceID:         "3014F711BSM0000000000007",
			light.AttrPowerConsumption: 50.0,
			light.AttrEnergyCounter:    6.33,
		},
	}
	tb.bridge.HandleStateChange(context.Background(), entity.StateChange{New: measuring})

	var msg StateMessage
	tb.mqtt.lastOn(t, "graylogic/state/hmip/light.flur_oben", &msg)
	if msg.Attributes[light.AttrPowerConsumption] != 50.0 {
		t.Errorf("state attributes = %v", msg.Attributes)
	}

	tb.metrics.mu.Lock()
	defer tb.metrics.mu.Unlock()
	if len(tb.metrics.energy) != 1 {
		t.Fatalf("energy writes = %d, want 1", len(tb.metrics.energy))
	}
	if w := tb.metrics.energy[0]; w.power != 50 || w.energy != 6.33 || w.deviceID != "3014F711BSM0000000000007" {
		t.Errorf("energy write = %+v", w)
	}
	if len(tb.metrics.states) != 1 || !tb.metrics.states[0].on || tb.metrics.states[0].brightness != 255 {
		t.Errorf("state writes = %+v", tb.metrics.states)
	}
}

func TestBridge_HandleStateChange_SkipsOtherDomainsAndUnavailable(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleStateChange(context.Background(), entity.StateChange{New: entity.State{EntityID: "sensor.temp", State: "21"}})
	if got := tb.mqtt.byTopic("graylogic/state/hmip/sensor.temp"); len(got) != 0 {
		t.Error("non-light state published")
	}

	tb.bridge.HandleStateChange(context.Background(), entity.StateChange{New: entity.State{
		EntityID: "light.stehlampe_wohnzimmer",
		State:    entity.StateUnavailable,
	}})
	if got := tb.mqtt.byTopic("graylogic/state/hmip/light.stehlampe_wohnzimmer"); len(got) != 1 {
		t.Errorf("unavailable state publishes = %d, want 1", len(got))
	}
	tb.metrics.mu.Lock()
	defer tb.metrics.mu.Unlock()
	if len(tb.metrics.states) != 0 {
		t.Errorf("metrics written for unavailable light: %+v", tb.metrics.states)
	}
}

func TestBridge_HandleStateChange_RemovalClearsRetainedState(t *testing.T) {
	tb := newTestBridge(t)

	old := treppeState()
	tb.bridge.HandleStateChange(context.Background(), entity.StateChange{
		Old:     &old,
		New:     entity.State{EntityID: "light.treppe"},
		Removed: true,
	})

	msgs := tb.mqtt.byTopic("graylogic/state/hmip/light.treppe")
	last := msgs[len(msgs)-1]
	if len(last.Payload) != 0 || !last.Retained {
		t.Errorf("removal publish = %q retained=%v, want empty retained payload", last.Payload, last.Retained)
	}
	tb.metrics.mu.Lock()
	defer tb.metrics.mu.Unlock()
	if len(tb.metrics.states) != 0 {
		t.Errorf("metrics written for removed light: %+v", tb.metrics.states)
	}
}

func TestBridge_ClearStates(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.ClearStates([]string{"light.gone", "sensor.outdoor"})

	msgs := tb.mqtt.byTopic("graylogic/state/hmip/light.gone")
	if len(msgs) != 1 || len(msgs[0].Payload) != 0 || !msgs[0].Retained {
		t.Errorf("light.gone publishes = %+v, want one empty retained payload", msgs)
	}
	if got := tb.mqtt.byTopic("graylogic/state/hmip/sensor.outdoor"); len(got) != 0 {
		t.Error("non-light state cleared")
	}
}

// ─── Entity lifecycle against the real registry ─────────────────────

func newRegistryRepo(t *testing.T) *entity.SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return entity.NewSQLiteRepository(db.DB)
}

func TestBridge_EntityLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newRegistryRepo(t)

	// An earlier run knew a light whose device has since been deleted.
	if _, err := entity.NewRegistry(repo, 0).Publish(ctx, entity.State{EntityID: "light.gone", State: entity.StateOn}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	registry := entity.NewRegistry(repo, 0)
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	data, err := os.ReadFile("../../hmip/testdata/current_state.json")
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	home := cloud.NewHome(nil)
	if err := home.LoadState(data); err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	platform, err := light.Setup(ctx, home, registry)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	mq := NewMockMQTTClient()
	b, err := NewBridge(BridgeOptions{
		MQTTClient:     mq,
		Services:       &mockServices{},
		States:         registry,
		HealthInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	registry.OnStateChanged(b.HandleStateChange)
	b.ClearStates(platform.StaleEntities())
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	if _, err := registry.Get(ctx, "light.gone"); !errors.Is(err, entity.ErrEntityNotFound) {
		t.Errorf("Get(light.gone) = %v, want ErrEntityNotFound", err)
	}
	gone := mq.byTopic("graylogic/state/hmip/light.gone")
	if len(gone) != 1 || len(gone[0].Payload) != 0 || !gone[0].Retained {
		t.Errorf("light.gone publishes = %+v, want a single empty retained payload", gone)
	}

	const dimmerTopic = "graylogic/state/hmip/light.schlafzimmerlicht"
	var msg StateMessage
	mq.lastOn(t, dimmerTopic, &msg)
	before := len(mq.byTopic(dimmerTopic))

	removed := `{"events":{"0":{"pushEventType":"DEVICE_REMOVED","id":"3014F711BDT0000000000012"}}}`
	if err := home.ApplyPushMessage([]byte(removed)); err != nil {
		t.Fatalf("ApplyPushMessage() error = %v", err)
	}

	msgs := mq.byTopic(dimmerTopic)
	if len(msgs) != before+1 {
		t.Fatalf("publishes after removal = %d, want 1", len(msgs)-before)
	}
	if last := msgs[len(msgs)-1]; len(last.Payload) != 0 || !last.Retained {
		t.Errorf("removal publish = %q retained=%v, want empty retained payload", last.Payload, last.Retained)
	}
	if _, err := registry.Get(ctx, "light.schlafzimmerlicht"); !errors.Is(err, entity.ErrEntityNotFound) {
		t.Errorf("Get(light.schlafzimmerlicht) = %v, want ErrEntityNotFound", err)
	}
}

func TestCommandMessage_Roundtrip(t *testing.T) {
	in := CommandMessage{
		ID:         "cmd-1",
		Timestamp:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		EntityID:   "light.treppe",
		Command:    CommandTurnOn,
		Parameters: map[string]any{"hs_color": []any{240.0, 100.0}},
		Source:     "api",
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var out CommandMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.ID != in.ID || !out.Timestamp.Equal(in.Timestamp) || out.EntityID != in.EntityID {
		t.Errorf("roundtrip = %+v", out)
	}
}

func TestCommandContext(t *testing.T) {
	tests := []struct {
		name string
		cmd  CommandMessage
		want string
	}{
		{"user wins", CommandMessage{UserID: "usr-1", Source: "scene"}, "usr-1"},
		{"source fallback", CommandMessage{Source: "automation"}, "automation"},
		{"anonymous", CommandMessage{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := commandContext(context.Background(), tt.cmd)
			if got := audit.SubjectFrom(ctx); got != tt.want {
				t.Errorf("subject = %q, want %q", got, tt.want)
			}
		})
	}
}
