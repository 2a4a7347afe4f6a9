package hmip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

const (
	defaultReconnectInitial = 1 * time.Second
	defaultReconnectMax     = 5 * time.Minute
	handshakeTimeout        = 10 * time.Second
)

// Logger is the optional logger used by EventStream.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateSource provides what an EventStream needs from the REST side.
// *Client implements it.
type StateSource interface {
	WebSocketURL() string
	Header() http.Header
	GetCurrentState(ctx context.Context) ([]byte, error)
}

// StreamStats is a snapshot of event stream counters.
type StreamStats struct {
	Connected      bool
	EventsReceived uint64
	EventErrors    uint64
	Reconnects     uint64
	LastEventAt    time.Time
}

// EventStream keeps a WebSocket open to the cloud and applies every push
// message to a Home. Each time the socket connects the full state is
// reloaded so changes missed while disconnected are not lost.
type EventStream struct {
	source StateSource
	home   *Home
	dialer *websocket.Dialer

	initialDelay time.Duration
	maxDelay     time.Duration
	logger       Logger

	connected      atomic.Bool
	sessions       atomic.Uint64
	eventsReceived atomic.Uint64
	eventErrors    atomic.Uint64
	lastEventAt    atomic.Int64
}

// StreamOption configures an EventStream.
type StreamOption func(*EventStream)

// WithReconnectDelays sets the exponential backoff bounds.
func WithReconnectDelays(initial, maxDelay time.Duration) StreamOption {
	return func(s *EventStream) {
		if initial > 0 {
			s.initialDelay = initial
		}
		if maxDelay > 0 {
			s.maxDelay = maxDelay
		}
	}
}

// WithStreamLogger sets the logger.
func WithStreamLogger(logger Logger) StreamOption {
	return func(s *EventStream) {
		s.logger = logger
	}
}

// NewEventStream creates a stream feeding home from source.
func NewEventStream(source StateSource, home *Home, opts ...StreamOption) *EventStream {
	s := &EventStream{
		source:       source,
		home:         home,
		dialer:       &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshakeTimeout},
		initialDelay: defaultReconnectInitial,
		maxDelay:     defaultReconnectMax,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects and processes events until ctx is cancelled. Connection
// failures are retried with exponential backoff; Run only returns once ctx
// is done.
func (s *EventStream) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialDelay
	b.MaxInterval = s.maxDelay
	b.MaxElapsedTime = 0

	session := func() error {
		err := s.session(ctx, b)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logWarn("hmip event stream disconnected", "error", err, "retry_in", wait.String())
	}

	for ctx.Err() == nil {
		// With MaxElapsedTime 0 this only returns on cancellation or a
		// session that ended cleanly because ctx was cancelled.
		_ = backoff.RetryNotify(session, backoff.WithContext(b, ctx), notify) //nolint:errcheck // loop condition checks ctx
	}
	return nil
}

// session runs one WebSocket connection until it fails.
func (s *EventStream) session(ctx context.Context, b backoff.BackOff) error {
	url := s.source.WebSocketURL()
	if url == "" {
		return ErrNotLookedUp
	}

	conn, resp, err := s.dialer.DialContext(ctx, url, s.source.Header())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: websocket HTTP %d", ErrUnauthorized, resp.StatusCode)
		}
		return fmt.Errorf("dialing event stream: %w", err)
	}
	defer conn.Close()

	// Every session, the first included, starts from a fresh snapshot:
	// pushes sent before the socket was open are never replayed.
	s.sessions.Add(1)
	if err := s.resync(ctx); err != nil {
		return err
	}

	s.connected.Store(true)
	defer s.connected.Store(false)
	b.Reset()
	s.logInfo("hmip event stream connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading event stream: %w", err)
		}
		s.handleMessage(data)
	}
}

func (s *EventStream) resync(ctx context.Context) error {
	data, err := s.source.GetCurrentState(ctx)
	if err != nil {
		return fmt.Errorf("resyncing state: %w", err)
	}
	if err := s.home.LoadState(data); err != nil {
		return fmt.Errorf("resyncing state: %w", err)
	}
	s.logInfo("hmip state resynced", "devices", len(s.home.Devices()))
	return nil
}

func (s *EventStream) handleMessage(data []byte) {
	s.eventsReceived.Add(1)
	s.lastEventAt.Store(time.Now().UnixNano())

	if err := s.home.ApplyPushMessage(data); err != nil {
		s.eventErrors.Add(1)
		if errors.Is(err, ErrInvalidEvent) {
			s.logWarn("dropping hmip push message", "error", err)
			return
		}
		s.logError("applying hmip push message", "error", err)
	}
}

// Stats returns a snapshot of stream counters.
func (s *EventStream) Stats() StreamStats {
	stats := StreamStats{
		Connected:      s.connected.Load(),
		EventsReceived: s.eventsReceived.Load(),
		EventErrors:    s.eventErrors.Load(),
	}
	if n := s.sessions.Load(); n > 1 {
		stats.Reconnects = n - 1
	}
	if ts := s.lastEventAt.Load(); ts > 0 {
		stats.LastEventAt = time.Unix(0, ts)
	}
	return stats
}

// IsConnected reports whether a WebSocket session is currently open.
func (s *EventStream) IsConnected() bool {
	return s.connected.Load()
}

func (s *EventStream) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *EventStream) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *EventStream) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
