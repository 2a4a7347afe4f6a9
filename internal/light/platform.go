package light

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hmip/internal/entity"
	"github.com/nerrad567/gray-logic-hmip/internal/hmip"
)

// Unique id prefixes per entity kind.
const (
	uniquePrefixLight        = "HomematicipLight"
	uniquePrefixMeasuring    = "HomematicipLightMeasuring"
	uniquePrefixDimmer       = "HomematicipDimmer"
	uniquePrefixNotification = "HomematicipNotificationLight"
)

// defaultPublishTimeout bounds a state publish triggered by a device update.
const defaultPublishTimeout = 5 * time.Second

// StateStore receives entity states. entity.Registry satisfies it.
type StateStore interface {
	Publish(ctx context.Context, state entity.State) (entity.State, error)
	Remove(ctx context.Context, entityID string) error
	List() []entity.State
}

// Logger is the logging interface used by the platform.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Platform.
type Option func(*Platform)

// WithLogger sets the platform logger.
func WithLogger(logger Logger) Option {
	return func(p *Platform) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPublishTimeout overrides the timeout for update-driven publishes.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Platform) {
		if d > 0 {
			p.publishTimeout = d
		}
	}
}

// Platform owns the light entities of one home and keeps their states
// in the store in step with the devices.
type Platform struct {
	store          StateStore
	logger         Logger
	publishTimeout time.Duration

	mu        sync.RWMutex
	entities  map[string]Light
	byDevice  map[string][]Light
	listeners map[string]func()

	// stale holds the entity ids Setup dropped from the store.
	stale []string
}

// Setup creates light entities for every supported device in home,
// publishes their initial states and subscribes to device updates.
// Lights left in the store from an earlier run whose device is gone are
// removed. Devices added or removed later are picked up automatically.
func Setup(ctx context.Context, home *hmip.Home, store StateStore, opts ...Option) (*Platform, error) {
	p := &Platform{
		store:          store,
		logger:         noopLogger{},
		publishTimeout: defaultPublishTimeout,
		entities:       make(map[string]Light),
		byDevice:       make(map[string][]Light),
		listeners:      make(map[string]func()),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, device := range home.Devices() {
		if err := p.addDevice(ctx, device); err != nil {
			return nil, err
		}
	}
	if err := p.removeStale(ctx); err != nil {
		return nil, err
	}

	home.OnDeviceEvent(p.handleDeviceEvent)

	p.logger.Info("light platform ready", "entities", p.Count())
	return p, nil
}

// removeStale deletes every stored light this platform did not create.
func (p *Platform) removeStale(ctx context.Context) error {
	for _, state := range p.store.List() {
		if state.Domain() != Domain {
			continue
		}
		if _, ok := p.Entity(state.EntityID); ok {
			continue
		}
		if err := p.store.Remove(ctx, state.EntityID); err != nil {
			return fmt.Errorf("removing stale entity %s: %w", state.EntityID, err)
		}
		p.stale = append(p.stale, state.EntityID)
		p.logger.Info("stale light entity removed", "entity_id", state.EntityID)
	}
	return nil
}

// newLights builds the entities a device provides. Unsupported devices
// yield nil.
func newLights(device *hmip.Device) []Light {
	label := device.Label()

	switch device.Type {
	case hmip.DeviceTypeBrandSwitchMeasuring:
		l := newMeasuringLight(device, label)
		l.uniqueID = uniquePrefixMeasuring + "_" + device.ID
		return []Light{l}

	case hmip.DeviceTypeBrandSwitchNotificationLight:
		sw := newSwitchLight(device, label)
		sw.uniqueID = uniquePrefixLight + "_" + device.ID

		top := newNotificationLight(device, label+" Top Notification", channelTop)
		top.uniqueID = uniquePrefixNotification + "_Top_" + device.ID

		bottom := newNotificationLight(device, label+" Bottom Notification", channelBottom)
		bottom.uniqueID = uniquePrefixNotification + "_Bottom_" + device.ID

		return []Light{sw, top, bottom}

	case hmip.DeviceTypeBrandDimmer, hmip.DeviceTypePluggableDimmer, hmip.DeviceTypeFullFlushDimmer:
		l := newDimmer(device, label)
		l.uniqueID = uniquePrefixDimmer + "_" + device.ID
		return []Light{l}
	}
	return nil
}

func (p *Platform) addDevice(ctx context.Context, device *hmip.Device) error {
	lights := newLights(device)
	if len(lights) == 0 {
		return nil
	}

	p.mu.Lock()
	if _, exists := p.byDevice[device.ID]; exists {
		p.mu.Unlock()
		return nil
	}
	for _, l := range lights {
		p.assignEntityID(l)
		p.entities[l.EntityID()] = l
	}
	p.byDevice[device.ID] = lights
	p.listeners[device.ID] = device.AddListener(p.handleDeviceUpdate)
	p.mu.Unlock()

	for _, l := range lights {
		if _, err := p.store.Publish(ctx, l.State()); err != nil {
			return fmt.Errorf("publishing initial state of %s: %w", l.EntityID(), err)
		}
		p.logger.Debug("light entity added", "entity_id", l.EntityID(), "device_id", device.ID)
	}
	return nil
}

// assignEntityID gives l the id light.<slug>, suffixed _2, _3, ... on
// collision. Caller holds p.mu.
func (p *Platform) assignEntityID(l Light) {
	base := "light." + slugify(l.Name())
	id := base
	for n := 2; ; n++ {
		if _, taken := p.entities[id]; !taken {
			break
		}
		id = base + "_" + strconv.Itoa(n)
	}
	setEntityID(l, id)
}

func setEntityID(l Light, id string) {
	if b, ok := l.(interface{ base() *baseLight }); ok {
		b.base().entityID = id
	}
}

func (p *Platform) removeDevice(ctx context.Context, device *hmip.Device) {
	p.mu.Lock()
	lights, ok := p.byDevice[device.ID]
	if !ok {
		p.mu.Unlock()
		return
	}
	for _, l := range lights {
		delete(p.entities, l.EntityID())
	}
	delete(p.byDevice, device.ID)
	if remove := p.listeners[device.ID]; remove != nil {
		remove()
	}
	delete(p.listeners, device.ID)
	p.mu.Unlock()

	for _, l := range lights {
		if err := p.store.Remove(ctx, l.EntityID()); err != nil {
			p.logger.Warn("removing light entity failed", "entity_id", l.EntityID(), "error", err)
			continue
		}
		p.logger.Info("light entity removed", "entity_id", l.EntityID())
	}
}

func (p *Platform) handleDeviceEvent(event hmip.EventType, device *hmip.Device) {
	ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
	defer cancel()

	switch event {
	case hmip.EventDeviceAdded:
		if err := p.addDevice(ctx, device); err != nil {
			p.logger.Error("adding light device failed", "device_id", device.ID, "error", err)
		}
	case hmip.EventDeviceRemoved:
		p.removeDevice(ctx, device)
	}
}

// handleDeviceUpdate recomputes and publishes the states of every entity
// backed by device.
func (p *Platform) handleDeviceUpdate(device *hmip.Device) {
	p.mu.RLock()
	lights := p.byDevice[device.ID]
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
	defer cancel()

	for _, l := range lights {
		if _, err := p.store.Publish(ctx, l.State()); err != nil {
			p.logger.Error("publishing light state failed", "entity_id", l.EntityID(), "error", err)
		}
	}
}

// Entity returns the light with the given entity id.
func (p *Platform) Entity(entityID string) (Light, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	l, ok := p.entities[entityID]
	return l, ok
}

// Entities returns all lights ordered by entity id.
func (p *Platform) Entities() []Light {
	p.mu.RLock()
	lights := make([]Light, 0, len(p.entities))
	for _, l := range p.entities {
		lights = append(lights, l)
	}
	p.mu.RUnlock()

	sort.Slice(lights, func(i, j int) bool { return lights[i].EntityID() < lights[j].EntityID() })
	return lights
}

// StaleEntities returns the ids of lights Setup removed from the store
// because their device no longer exists.
func (p *Platform) StaleEntities() []string {
	return append([]string(nil), p.stale...)
}

// Count returns the number of light entities.
func (p *Platform) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entities)
}
