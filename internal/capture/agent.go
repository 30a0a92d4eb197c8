package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// maxPayloadSize caps the audio payload read from the agent. A two-party
// voice call tops out well under this even for hour-long recordings.
const maxPayloadSize = 512 << 20

// joinRequest is the payload sent to the agent's POST /v1/captures endpoint.
type joinRequest struct {
	Channel string `json:"channel"`
	UID     int    `json:"uid,omitempty"`
}

// joinResponse is the agent's reply to a successful join.
type joinResponse struct {
	CaptureID string `json:"capture_id"`
}

// errorEnvelope is the agent's error response shape.
type errorEnvelope struct {
	Error string `json:"error"`
}

// AgentClient implements Capability against the capture agent's HTTP API.
type AgentClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewAgentClient creates a capture agent client for the given endpoint,
// e.g. "http://127.0.0.1:8090".
func NewAgentClient(baseURL string) *AgentClient {
	return &AgentClient{
		// No overall client timeout: StopAndRetrieve streams a payload of
		// unbounded duration and is bounded by the caller's context.
		httpClient: &http.Client{},
		baseURL:    baseURL,
	}
}

// Join asks the agent to join the channel and start buffering audio.
func (c *AgentClient) Join(ctx context.Context, channel string, opts JoinOptions) (Handle, error) {
	body, err := json.Marshal(joinRequest{Channel: channel, UID: opts.UID})
	if err != nil {
		return nil, fmt.Errorf("capture: marshalling join request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/captures", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("capture: creating join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture: joining channel: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("capture: reading join response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return nil, fmt.Errorf("capture: agent error (status %d): %s", resp.StatusCode, env.Error)
		}
		return nil, fmt.Errorf("capture: agent returned status %d", resp.StatusCode)
	}

	var jr joinResponse
	if err := json.Unmarshal(respBody, &jr); err != nil {
		return nil, fmt.Errorf("capture: decoding join response: %w", err)
	}
	if jr.CaptureID == "" {
		return nil, fmt.Errorf("capture: agent returned empty capture id")
	}

	slog.Debug("capture started", "channel", channel, "capture_id", jr.CaptureID)

	return &agentHandle{client: c, captureID: jr.CaptureID}, nil
}

// agentHandle is one live capture on the agent.
type agentHandle struct {
	client    *AgentClient
	captureID string
}

// StopAndRetrieve stops the capture and downloads the buffered payload.
func (h *agentHandle) StopAndRetrieve(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/captures/%s/stop", h.client.baseURL, h.captureID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: creating stop request: %w", err)
	}

	resp, err := h.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture: stopping capture: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return nil, fmt.Errorf("capture: agent error (status %d): %s", resp.StatusCode, env.Error)
		}
		return nil, fmt.Errorf("capture: agent returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("capture: reading audio payload: %w", err)
	}

	slog.Debug("capture retrieved", "capture_id", h.captureID, "bytes", len(payload))
	return payload, nil
}

// Close releases the capture on the agent. A 404 means the capture was
// already cleaned up and is not an error.
func (h *agentHandle) Close(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/captures/%s", h.client.baseURL, h.captureID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("capture: creating release request: %w", err)
	}

	resp, err := h.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("capture: releasing capture: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("capture: agent returned status %d on release", resp.StatusCode)
	}
	return nil
}
