package light

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Domain is the service domain handled by the Dispatcher.
const Domain = "light"

// Services of the light domain.
const (
	ServiceTurnOn  = "turn_on"
	ServiceTurnOff = "turn_off"
	ServiceToggle  = "toggle"
)

// Service data keys.
const (
	KeyEntityID      = "entity_id"
	KeyBrightness    = "brightness"
	KeyBrightnessPct = "brightness_pct"
	KeyHSColor       = "hs_color"
)

// EntityAll targets every light entity.
const EntityAll = "all"

// ServiceCall is a framework service invocation.
type ServiceCall struct {
	Domain  string         `json:"domain"`
	Service string         `json:"service"`
	Data    map[string]any `json:"data"`
}

// EntitySource resolves entities by id. *Platform satisfies it.
type EntitySource interface {
	Entity(entityID string) (Light, bool)
	Entities() []Light
}

// Dispatcher executes light service calls against the platform entities.
type Dispatcher struct {
	entities EntitySource
	logger   Logger
}

// NewDispatcher creates a dispatcher. A nil logger runs silently.
func NewDispatcher(entities EntitySource, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{entities: entities, logger: logger}
}

// parsedCall is a validated service call.
type parsedCall struct {
	service string
	targets []Light
	params  TurnOnParams
}

// Call validates the service call and runs it on every targeted entity
// concurrently. Device errors are returned unchanged, wrapped with the
// entity id; the first failure cancels the context of the others.
func (d *Dispatcher) Call(ctx context.Context, call ServiceCall) error {
	parsed, err := d.parse(call)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range parsed.targets {
		l := l
		g.Go(func() error {
			if err := d.run(gctx, l, parsed); err != nil {
				return fmt.Errorf("%s %s: %w", parsed.service, l.EntityID(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("light service call failed", "service", parsed.service, "error", err)
		return err
	}

	d.logger.Debug("light service call executed", "service", parsed.service, "entities", len(parsed.targets))
	return nil
}

func (d *Dispatcher) run(ctx context.Context, l Light, call parsedCall) error {
	service := call.service
	if service == ServiceToggle {
		service = ServiceTurnOn
		if l.IsOn() {
			service = ServiceTurnOff
		}
	}

	// A zero brightness is a request to switch off.
	if service == ServiceTurnOn && call.params.Brightness != nil && *call.params.Brightness == 0 {
		service = ServiceTurnOff
	}

	if service == ServiceTurnOff {
		return l.TurnOff(ctx)
	}
	return l.TurnOn(ctx, call.params)
}

func (d *Dispatcher) parse(call ServiceCall) (parsedCall, error) {
	if call.Domain != Domain {
		return parsedCall{}, fmt.Errorf("%w: %s.%s", ErrUnknownService, call.Domain, call.Service)
	}

	var allowed map[string]bool
	switch call.Service {
	case ServiceTurnOn, ServiceToggle:
		allowed = map[string]bool{KeyEntityID: true, KeyBrightness: true, KeyBrightnessPct: true, KeyHSColor: true}
	case ServiceTurnOff:
		allowed = map[string]bool{KeyEntityID: true}
	default:
		return parsedCall{}, fmt.Errorf("%w: %s.%s", ErrUnknownService, call.Domain, call.Service)
	}
	for key := range call.Data {
		if !allowed[key] {
			return parsedCall{}, fmt.Errorf("%w: %q not accepted by %s", ErrInvalidParameters, key, call.Service)
		}
	}

	targets, err := d.resolveTargets(call.Data[KeyEntityID])
	if err != nil {
		return parsedCall{}, err
	}

	params, err := parseTurnOnParams(call.Data)
	if err != nil {
		return parsedCall{}, err
	}

	return parsedCall{service: call.Service, targets: targets, params: params}, nil
}

func (d *Dispatcher) resolveTargets(raw any) ([]Light, error) {
	ids, err := parseEntityIDs(raw)
	if err != nil {
		return nil, err
	}

	if len(ids) == 1 && ids[0] == EntityAll {
		return d.entities.Entities(), nil
	}

	seen := make(map[string]bool, len(ids))
	targets := make([]Light, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		l, ok := d.entities.Entity(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		targets = append(targets, l)
	}
	return targets, nil
}

// parseEntityIDs accepts a single id, a comma-separated string or a list.
func parseEntityIDs(raw any) ([]string, error) {
	var ids []string
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidParameters, KeyEntityID)
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, strings.ToLower(part))
			}
		}
	case []string:
		for _, s := range v {
			ids = append(ids, strings.ToLower(strings.TrimSpace(s)))
		}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must contain strings", ErrInvalidParameters, KeyEntityID)
			}
			ids = append(ids, strings.ToLower(strings.TrimSpace(s)))
		}
	default:
		return nil, fmt.Errorf("%w: %s must be a string or list", ErrInvalidParameters, KeyEntityID)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidParameters, KeyEntityID)
	}
	return ids, nil
}

func parseTurnOnParams(data map[string]any) (TurnOnParams, error) {
	var params TurnOnParams

	rawBrightness, hasBrightness := data[KeyBrightness]
	rawPct, hasPct := data[KeyBrightnessPct]
	if hasBrightness && hasPct {
		return params, fmt.Errorf("%w: %s and %s are exclusive", ErrInvalidParameters, KeyBrightness, KeyBrightnessPct)
	}

	if hasBrightness {
		b, err := toNumber(rawBrightness)
		if err != nil || b < 0 || b > maxBrightness {
			return params, fmt.Errorf("%w: %s must be a number in 0..255", ErrInvalidParameters, KeyBrightness)
		}
		v := int(math.Round(b))
		params.Brightness = &v
	}

	if hasPct {
		pct, err := toNumber(rawPct)
		if err != nil || pct < 0 || pct > 100 {
			return params, fmt.Errorf("%w: %s must be a number in 0..100", ErrInvalidParameters, KeyBrightnessPct)
		}
		v := int(math.Round(pct * maxBrightness / 100))
		params.Brightness = &v
	}

	if raw, ok := data[KeyHSColor]; ok {
		hs, err := parseHSColor(raw)
		if err != nil {
			return params, err
		}
		params.HSColor = &hs
	}

	return params, nil
}

func parseHSColor(raw any) (HSColor, error) {
	invalid := fmt.Errorf("%w: %s must be [hue 0..360, saturation 0..100]", ErrInvalidParameters, KeyHSColor)

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []float64:
		for _, f := range v {
			items = append(items, f)
		}
	default:
		return HSColor{}, invalid
	}
	if len(items) != 2 {
		return HSColor{}, invalid
	}

	h, err := toNumber(items[0])
	if err != nil || h < 0 || h > 360 {
		return HSColor{}, invalid
	}
	s, err := toNumber(items[1])
	if err != nil || s < 0 || s > 100 {
		return HSColor{}, invalid
	}
	return HSColor{Hue: h, Saturation: s}, nil
}

// toNumber coerces JSON numbers and numeric strings to a finite float.
func toNumber(v any) (float64, error) {
	f, err := coerceNumber(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", v)
	}
	return f, nil
}

func coerceNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}
