package light

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-hmip/internal/entity"
	"github.com/nerrad567/gray-logic-hmip/internal/hmip"
)

const (
	treppeID            = "3014F711BSL0000000000050"
	schlafzimmerlichtID = "3014F711BDT0000000000012"
	flurObenID          = "3014F711BSM0000000000007"
	stehlampeID         = "3014F711PDT0000000000031"
)

type controllerCall struct {
	method   string
	deviceID string
	channel  int
	on       bool
	level    float64
	color    hmip.RGBColorState
}

// recordingController records every cloud call instead of sending it.
type recordingController struct {
	mu    sync.Mutex
	calls []controllerCall
	err   error
}

func (r *recordingController) record(c controllerCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.err
}

func (r *recordingController) SetSwitchState(_ context.Context, deviceID string, channel int, on bool) error {
	return r.record(controllerCall{method: "SetSwitchState", deviceID: deviceID, channel: channel, on: on})
}

func (r *recordingController) SetDimLevel(_ context.Context, deviceID string, channel int, level float64) error {
	return r.record(controllerCall{method: "SetDimLevel", deviceID: deviceID, channel: channel, level: level})
}

func (r *recordingController) SetSimpleRGBColorDimLevel(_ context.Context, deviceID string, channel int, color hmip.RGBColorState, level float64) error {
	return r.record(controllerCall{method: "SetSimpleRGBColorDimLevel", deviceID: deviceID, channel: channel, color: color, level: level})
}

func (r *recordingController) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingController) last(t *testing.T) controllerCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		t.Fatal("no controller calls recorded")
	}
	return r.calls[len(r.calls)-1]
}

// memoryStore is an in-memory StateStore.
type memoryStore struct {
	mu        sync.Mutex
	states    map[string]entity.State
	publishes int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: make(map[string]entity.State)}
}

func (m *memoryStore) Publish(_ context.Context, state entity.State) (entity.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.EntityID] = state
	m.publishes++
	return state, nil
}

func (m *memoryStore) Remove(_ context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, entityID)
	return nil
}

func (m *memoryStore) List() []entity.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out
}

func (m *memoryStore) get(t *testing.T, entityID string) entity.State {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[entityID]
	if !ok {
		t.Fatalf("no state for %s", entityID)
	}
	return s
}

type testEnv struct {
	controller *recordingController
	home       *hmip.Home
	store      *memoryStore
	platform   *Platform
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	data, err := os.ReadFile("testdata/home.json")
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}

	controller := &recordingController{}
	home := hmip.NewHome(controller)
	if err := home.LoadState(data); err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}

	store := newMemoryStore()
	platform, err := Setup(context.Background(), home, store)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	return &testEnv{
		controller: controller,
		home:       home,
		store:      store,
		platform:   platform,
		dispatcher: NewDispatcher(platform, nil),
	}
}

func (e *testEnv) call(t *testing.T, service string, data map[string]any) {
	t.Helper()
	err := e.dispatcher.Call(context.Background(), ServiceCall{Domain: Domain, Service: service, Data: data})
	if err != nil {
		t.Fatalf("%s(%v) error = %v", service, data, err)
	}
}

// push simulates a cloud update of one channel of a device.
func (e *testEnv) push(t *testing.T, deviceID string, channel int, patch string) {
	t.Helper()
	device, ok := e.home.Device(deviceID)
	if !ok {
		t.Fatalf("device %s not in home", deviceID)
	}
	if err := device.ApplyChannelJSON(channel, []byte(patch)); err != nil {
		t.Fatalf("ApplyChannelJSON() error = %v", err)
	}
}

func checkBasics(t *testing.T, env *testEnv, entityID, name, model string) entity.State {
	t.Helper()
	state := env.store.get(t, entityID)
	if got := state.Attributes[AttrFriendlyName]; got != name {
		t.Errorf("friendly_name = %v, want %q", got, name)
	}
	if got := state.Attributes[AttrModelType]; got != model {
		t.Errorf("model_type = %v, want %q", got, model)
	}
	return state
}
