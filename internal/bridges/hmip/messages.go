package hmip

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-hmip/internal/entity"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/mqtt"
)

// Protocol is the protocol identifier carried in every message.
const Protocol = mqtt.ProtocolHmIP

// Commands accepted on the command topic. "on", "off" and "dim" are the
// generic Gray Logic light commands; the others map 1:1 to light services.
const (
	CommandTurnOn  = "turn_on"
	CommandTurnOff = "turn_off"
	CommandToggle  = "toggle"
	CommandOn      = "on"
	CommandOff     = "off"
	CommandDim     = "dim"
)

// Request actions.
const (
	ActionReadState = "read_state"
	ActionReadAll   = "read_all"
)

// CommandMessage is sent from Core to the bridge to switch a light.
// Topic: graylogic/command/hmip/{entity_id}
type CommandMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// EntityID defaults to the last topic segment when empty.
	EntityID string `json:"entity_id"`

	Command string `json:"command"`

	// Parameters are passed to the light service as service data.
	// Examples:
	//   {"brightness_pct": 40}
	//   {"hs_color": [240, 100]}
	//   {"level": 50} for dim
	Parameters map[string]any `json:"parameters,omitempty"`

	Source string `json:"source,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was executed by the cloud.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the cloud did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/hmip/{entity_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	EntityID  string    `json:"entity_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries the current state of one light entity.
// Topic: graylogic/state/hmip/{entity_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	EntityID    string         `json:"entity_id"`
	UniqueID    string         `json:"unique_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	Protocol    string         `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the operational status of the bridge.
// Topic: graylogic/health/hmip
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge          string            `json:"bridge"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          HealthStatus      `json:"status"`
	Version         string            `json:"version"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	Connection      *ConnectionStatus `json:"connection,omitempty"`
	Statistics      *BridgeStatistics `json:"statistics,omitempty"`
	EntitiesManaged int               `json:"entities_managed"`
	Reason          string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the cloud event stream.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status      string     `json:"status"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	EventsReceived   uint64 `json:"events_received"`
	EventErrors      uint64 `json:"event_errors"`
	Reconnects       uint64 `json:"reconnects"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
}

// RequestMessage is sent from Core for request/response operations.
// Topic: graylogic/request/hmip/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state" or "read_all".
	Action   string `json:"action"`
	EntityID string `json:"entity_id,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/hmip/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newID returns a random message id.
func newID() string {
	return uuid.New().String()
}

// NewAckMessage creates a successful acknowledgment for a command.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		EntityID:  cmd.EntityID,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		EntityID:  cmd.EntityID,
		Status:    status,
		Protocol:  Protocol,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage converts an entity state to its MQTT form.
func NewStateMessage(state entity.State) StateMessage {
	attrs := state.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return StateMessage{
		EntityID:    state.EntityID,
		UniqueID:    state.UniqueID,
		Timestamp:   time.Now().UTC(),
		State:       state.State,
		Attributes:  attrs,
		LastChanged: state.LastChanged.UTC(),
		Protocol:    Protocol,
	}
}

// newResponseError creates a failed response.
func newResponseError(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}
