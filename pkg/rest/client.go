// Package rest is a thin typed client for the device's HTTP resource
// API: presets, scenes, and system status. Control-plane traffic goes
// over the framed session; this surface covers the slow-moving
// resources next to it. No retry logic here.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aetherlab/aether-go/pkg/model"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 10 * time.Second

// StatusError is a non-2xx response from the device.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("device returned %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("device returned %d: %s", e.Code, http.StatusText(e.Code))
}

// Preset is a stored engine configuration on the device.
type Preset struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Params   map[string]float64 `json:"params,omitempty"`
	Elements []float64          `json:"elements,omitempty"`
	Created  time.Time          `json:"created,omitempty"`
}

// Scene is a named arrangement of engine presets and bus state.
type Scene struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Presets     []string `json:"presets,omitempty"`
}

// SystemStatus is the device's self-reported health.
type SystemStatus struct {
	Firmware      string  `json:"firmware"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	AudioCPU      float64 `json:"audio_cpu"`
	XRuns         uint32  `json:"xruns"`
	ActiveScene   string  `json:"active_scene,omitempty"`
	Sessions      int     `json:"sessions"`
}

// Client talks to one device's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the device at baseURL, e.g.
// "http://192.168.4.20:9301".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// SetTimeout adjusts the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// request performs one round trip and returns the response body.
func (c *Client) request(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}
	return respBody, nil
}

// ListPresets returns all stored presets.
func (c *Client) ListPresets(ctx context.Context) ([]Preset, error) {
	resp, err := c.request(ctx, http.MethodGet, "/v1/presets", nil)
	if err != nil {
		return nil, err
	}
	var presets []Preset
	if err := json.Unmarshal(resp, &presets); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	return presets, nil
}

// GetPreset returns one preset by ID.
func (c *Client) GetPreset(ctx context.Context, id string) (*Preset, error) {
	if id == "" {
		return nil, fmt.Errorf("preset ID required")
	}
	resp, err := c.request(ctx, http.MethodGet, "/v1/presets/"+id, nil)
	if err != nil {
		return nil, err
	}
	var preset Preset
	if err := json.Unmarshal(resp, &preset); err != nil {
		return nil, fmt.Errorf("decode preset: %w", err)
	}
	return &preset, nil
}

// SavePreset stores a preset. An empty ID lets the device assign one;
// the stored preset is returned.
func (c *Client) SavePreset(ctx context.Context, preset Preset) (*Preset, error) {
	if preset.Name == "" {
		return nil, fmt.Errorf("preset name required")
	}
	if len(preset.Elements) != 0 && len(preset.Elements) != model.ElementCount {
		return nil, fmt.Errorf("preset elements must have %d values, got %d",
			model.ElementCount, len(preset.Elements))
	}

	method, endpoint := http.MethodPost, "/v1/presets"
	if preset.ID != "" {
		method, endpoint = http.MethodPut, "/v1/presets/"+preset.ID
	}

	resp, err := c.request(ctx, method, endpoint, preset)
	if err != nil {
		return nil, err
	}
	var stored Preset
	if err := json.Unmarshal(resp, &stored); err != nil {
		return nil, fmt.Errorf("decode preset: %w", err)
	}
	return &stored, nil
}

// DeletePreset removes a preset by ID.
func (c *Client) DeletePreset(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("preset ID required")
	}
	_, err := c.request(ctx, http.MethodDelete, "/v1/presets/"+id, nil)
	return err
}

// ApplyPreset loads a preset into the running engines.
func (c *Client) ApplyPreset(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("preset ID required")
	}
	_, err := c.request(ctx, http.MethodPost, "/v1/presets/"+id+"/apply", nil)
	return err
}

// ListScenes returns all stored scenes.
func (c *Client) ListScenes(ctx context.Context) ([]Scene, error) {
	resp, err := c.request(ctx, http.MethodGet, "/v1/scenes", nil)
	if err != nil {
		return nil, err
	}
	var scenes []Scene
	if err := json.Unmarshal(resp, &scenes); err != nil {
		return nil, fmt.Errorf("decode scenes: %w", err)
	}
	return scenes, nil
}

// ApplyScene activates a scene by ID.
func (c *Client) ApplyScene(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("scene ID required")
	}
	_, err := c.request(ctx, http.MethodPost, "/v1/scenes/"+id+"/apply", nil)
	return err
}

// Status returns the device's self-reported health.
func (c *Client) Status(ctx context.Context) (*SystemStatus, error) {
	resp, err := c.request(ctx, http.MethodGet, "/v1/status", nil)
	if err != nil {
		return nil, err
	}
	var status SystemStatus
	if err := json.Unmarshal(resp, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}
