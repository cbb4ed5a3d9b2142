// Package client is the controller-side view of a hub: the HTTP
// request/response surface plus an event stream over the persistent
// connection. It is what the CLI commands are built on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/ercoshn4-droid/vnc-server/internal/protocol"
)

// Client talks to one hub.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a Client for the hub at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches the hub status summary.
func (c *Client) Status(ctx context.Context) (*protocol.StatusSummary, error) {
	var out protocol.StatusSummary
	if err := c.do(ctx, "GET", "/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Devices fetches the full registry snapshot.
func (c *Client) Devices(ctx context.Context) ([]protocol.DeviceInfo, error) {
	var out []protocol.DeviceInfo
	if err := c.do(ctx, "GET", "/devices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendCommand publishes a command to a device. The hub acknowledges
// regardless of whether the device exists or is online.
func (c *Client) SendCommand(ctx context.Context, deviceID, command, payload string) error {
	req := protocol.CommandRequest{Command: command, Payload: payload}
	return c.do(ctx, "POST", "/command/"+deviceID, &req, nil)
}

// RegisterDevice registers a device out of band.
func (c *Client) RegisterDevice(ctx context.Context, reg protocol.RegisterRequest) error {
	return c.do(ctx, "POST", "/device/register", &reg, nil)
}

// Listen connects to the hub as a controller and invokes fn for every
// message the hub sends, starting with the device_list snapshot. It
// blocks until ctx is cancelled or the connection drops.
func (c *Client) Listen(ctx context.Context, fn func(protocol.Message)) error {
	ws, _, err := websocket.Dial(ctx, toWS(c.BaseURL)+"/ws", nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.CloseNow()

	reg, _ := json.Marshal(protocol.Message{Type: protocol.TypeRegisterClient})
	if err := ws.Write(ctx, websocket.MessageText, reg); err != nil {
		return fmt.Errorf("registering: %w", err)
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		fn(msg)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// toWS converts http(s):// to ws(s)://.
func toWS(u string) string {
	if strings.HasPrefix(u, "https") {
		return "wss" + u[5:]
	}
	if strings.HasPrefix(u, "http") {
		return "ws" + u[4:]
	}
	return u
}
