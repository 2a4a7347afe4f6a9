package hmip

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// clientAuthSalt is appended to the access point id to derive CLIENTAUTH.
	clientAuthSalt = "jiLpVitHvWnIGD1yo7MA"

	apiVersion = "12"

	defaultRequestTimeout = 10 * time.Second

	// maxResponseSize caps REST reply bodies; getCurrentState of a large
	// home is a few hundred KiB.
	maxResponseSize = 8 << 20
)

// REST endpoints relative to the looked-up urlREST.
const (
	pathGetCurrentState           = "/hmip/home/getCurrentState"
	pathSetSwitchState            = "/hmip/device/control/setSwitchState"
	pathSetDimLevel               = "/hmip/device/control/setDimLevel"
	pathSetSimpleRGBColorDimLevel = "/hmip/device/control/setSimpleRGBColorDimLevel"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	AccessPointID string
	AuthToken     string
	ClientName    string
	LookupURL     string

	// HTTPClient overrides the default client (10s timeout).
	HTTPClient *http.Client
}

// Client talks to the HomematicIP cloud REST API.
//
// Lookup must succeed before any other request.
type Client struct {
	accessPointID string
	authToken     string
	clientAuth    string
	clientName    string
	lookupURL     string
	httpClient    *http.Client

	mu      sync.RWMutex
	restURL string
	wsURL   string
}

// NewClient creates a client. It does not contact the cloud.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	apID := NormalizeAccessPointID(cfg.AccessPointID)
	return &Client{
		accessPointID: apID,
		authToken:     cfg.AuthToken,
		clientAuth:    ClientAuth(apID),
		clientName:    cfg.ClientName,
		lookupURL:     cfg.LookupURL,
		httpClient:    httpClient,
	}
}

// NormalizeAccessPointID strips dashes and upper-cases an SGTIN.
func NormalizeAccessPointID(id string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

// ClientAuth derives the CLIENTAUTH header value for an access point.
func ClientAuth(accessPointID string) string {
	sum := sha512.Sum512([]byte(accessPointID + clientAuthSalt))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Header returns the authentication headers for REST and WebSocket requests.
func (c *Client) Header() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("VERSION", apiVersion)
	h.Set("CLIENTAUTH", c.clientAuth)
	if c.authToken != "" {
		h.Set("AUTHTOKEN", c.authToken)
	}
	return h
}

type clientCharacteristics struct {
	APIVersion            string `json:"apiVersion"`
	ApplicationIdentifier string `json:"applicationIdentifier"`
	ApplicationVersion    string `json:"applicationVersion"`
	DeviceManufacturer    string `json:"deviceManufacturer"`
	DeviceType            string `json:"deviceType"`
	Language              string `json:"language"`
	OSType                string `json:"osType"`
	OSVersion             string `json:"osVersion"`
}

func (c *Client) characteristics() clientCharacteristics {
	name := c.clientName
	if name == "" {
		name = "graylogic-hmip"
	}
	return clientCharacteristics{
		APIVersion:            "10",
		ApplicationIdentifier: name,
		ApplicationVersion:    "1.0",
		DeviceManufacturer:    "none",
		DeviceType:            "Computer",
		Language:              "en_US",
		OSType:                "Linux",
		OSVersion:             "unknown",
	}
}

type lookupRequest struct {
	ClientCharacteristics clientCharacteristics `json:"clientCharacteristics"`
	ID                    string                `json:"id"`
}

type lookupResponse struct {
	URLREST      string `json:"urlREST"`
	URLWebSocket string `json:"urlWebSocket"`
}

// Lookup resolves the REST and WebSocket hosts for the access point.
func (c *Client) Lookup(ctx context.Context) error {
	body, err := c.do(ctx, c.lookupURL, lookupRequest{
		ClientCharacteristics: c.characteristics(),
		ID:                    c.accessPointID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: decoding reply: %w", ErrLookupFailed, err)
	}
	if resp.URLREST == "" || resp.URLWebSocket == "" {
		return fmt.Errorf("%w: reply missing urlREST or urlWebSocket", ErrLookupFailed)
	}

	c.setHosts(resp.URLREST, resp.URLWebSocket)
	return nil
}

func (c *Client) setHosts(restURL, wsURL string) {
	c.mu.Lock()
	c.restURL = strings.TrimRight(restURL, "/")
	c.wsURL = wsURL
	c.mu.Unlock()
}

// WebSocketURL returns the push endpoint found by Lookup.
func (c *Client) WebSocketURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wsURL
}

// GetCurrentState fetches the full state of the home.
func (c *Client) GetCurrentState(ctx context.Context) ([]byte, error) {
	return c.call(ctx, pathGetCurrentState, struct {
		ClientCharacteristics clientCharacteristics `json:"clientCharacteristics"`
	}{c.characteristics()})
}

// LoadHome fetches the current state into a new Home whose devices are
// controlled through c.
func (c *Client) LoadHome(ctx context.Context) (*Home, error) {
	data, err := c.GetCurrentState(ctx)
	if err != nil {
		return nil, err
	}
	home := NewHome(c)
	if err := home.LoadState(data); err != nil {
		return nil, err
	}
	return home, nil
}

// SetSwitchState switches a channel on or off.
func (c *Client) SetSwitchState(ctx context.Context, deviceID string, channel int, on bool) error {
	_, err := c.call(ctx, pathSetSwitchState, map[string]any{
		"channelIndex": channel,
		"deviceId":     deviceID,
		"on":           on,
	})
	return err
}

// SetDimLevel sets the dim level (0.0-1.0) of a channel.
func (c *Client) SetDimLevel(ctx context.Context, deviceID string, channel int, level float64) error {
	_, err := c.call(ctx, pathSetDimLevel, map[string]any{
		"channelIndex": channel,
		"deviceId":     deviceID,
		"dimLevel":     level,
	})
	return err
}

// SetSimpleRGBColorDimLevel sets colour and dim level of a notification light channel.
func (c *Client) SetSimpleRGBColorDimLevel(ctx context.Context, deviceID string, channel int, color RGBColorState, level float64) error {
	_, err := c.call(ctx, pathSetSimpleRGBColorDimLevel, map[string]any{
		"channelIndex":        channel,
		"deviceId":            deviceID,
		"simpleRGBColorState": color,
		"dimLevel":            level,
	})
	return err
}

// call POSTs to a REST path below the looked-up host.
func (c *Client) call(ctx context.Context, path string, payload any) ([]byte, error) {
	c.mu.RLock()
	base := c.restURL
	c.mu.RUnlock()
	if base == "" {
		return nil, ErrNotLookedUp
	}
	return c.do(ctx, base+path, payload)
}

func (c *Client) do(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.Header()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply: %w", ErrRequestFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrRequestFailed, resp.StatusCode, errorCode(data))
	}
	return data, nil
}

// errorCode extracts the cloud's errorCode from a failure reply.
func errorCode(data []byte) string {
	var reply struct {
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(data, &reply); err != nil || reply.ErrorCode == "" {
		return "no error code"
	}
	return reply.ErrorCode
}
