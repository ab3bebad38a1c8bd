package govee

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

const cloudBaseURL = "https://openapi.api.govee.com"

// Capability is one control instruction in the cloud API's vocabulary.
type Capability struct {
	Type     string `json:"type"`
	Instance string `json:"instance"`
	Value    any    `json:"value"`
}

// CloudDevice is a device entry from the cloud device list.
type CloudDevice struct {
	Device     string `json:"device"`
	SKU        string `json:"sku"`
	DeviceName string `json:"deviceName"`
}

// Cloud is the fallback control path for lamps without a LAN route. It is
// rate-limited upstream and adds round-trip latency, so the show engine
// never drives it; supervisors use it for one-shot operations the LAN
// protocol does not implement.
type Cloud struct {
	apiKey  string
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	devices []CloudDevice
}

// NewCloud returns a client authenticated with the given API key.
func NewCloud(apiKey string) *Cloud {
	return &Cloud{
		apiKey:  apiKey,
		baseURL: cloudBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Devices lists the account's devices and caches the result for SKU lookup.
func (c *Cloud) Devices(ctx context.Context) ([]CloudDevice, error) {
	var out struct {
		Data []CloudDevice `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/router/api/v1/user/devices", nil, &out); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.devices = out.Data
	c.mu.Unlock()

	return out.Data, nil
}

// DeviceState fetches the current state payload for a device.
func (c *Cloud) DeviceState(ctx context.Context, deviceID string) (map[string]any, error) {
	device, err := c.findDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"requestId": uuid.NewString(),
		"payload": map[string]any{
			"sku":    device.SKU,
			"device": device.Device,
		},
	}

	var out struct {
		Payload map[string]any `json:"payload"`
	}
	if err := c.do(ctx, http.MethodPost, "/router/api/v1/device/state", req, &out); err != nil {
		return nil, err
	}

	return out.Payload, nil
}

// Control sends a single capability command to a device.
func (c *Cloud) Control(ctx context.Context, deviceID string, capability Capability) error {
	device, err := c.findDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	req := map[string]any{
		"requestId": uuid.NewString(),
		"payload": map[string]any{
			"sku":        device.SKU,
			"device":     device.Device,
			"capability": capability,
		},
	}

	return c.do(ctx, http.MethodPost, "/router/api/v1/device/control", req, nil)
}

// Turn switches the device via the on_off capability.
func (c *Cloud) Turn(ctx context.Context, deviceID string, on bool) error {
	value := 0
	if on {
		value = 1
	}
	return c.Control(ctx, deviceID, Capability{
		Type:     "devices.capabilities.on_off",
		Instance: "powerSwitch",
		Value:    value,
	})
}

// SetBrightness sets device brightness 1..100.
func (c *Cloud) SetBrightness(ctx context.Context, deviceID string, value int) error {
	return c.Control(ctx, deviceID, Capability{
		Type:     "devices.capabilities.range",
		Instance: "brightness",
		Value:    value,
	})
}

// SetColor sets the device color as a packed 24-bit RGB integer.
func (c *Cloud) SetColor(ctx context.Context, deviceID string, r, g, b uint8) error {
	return c.Control(ctx, deviceID, Capability{
		Type:     "devices.capabilities.color_setting",
		Instance: "colorRgb",
		Value:    int(r)<<16 | int(g)<<8 | int(b),
	})
}

func (c *Cloud) findDevice(ctx context.Context, deviceID string) (CloudDevice, error) {
	c.mu.Lock()
	cached := c.devices
	c.mu.Unlock()

	if cached == nil {
		var err error
		cached, err = c.Devices(ctx)
		if err != nil {
			return CloudDevice{}, err
		}
	}

	for _, d := range cached {
		if d.Device == deviceID {
			return d, nil
		}
	}

	return CloudDevice{}, eris.Errorf("device %s not known to the cloud account", deviceID)
}

func (c *Cloud) do(ctx context.Context, method, path string, reqBody any, out any) error {
	var body *bytes.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return eris.Wrap(err, "failed to marshal cloud request")
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "failed to build cloud request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Govee-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "cloud request %s failed", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("cloud request %s returned %s", path, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "failed to decode cloud response for %s", path)
	}

	return nil
}
