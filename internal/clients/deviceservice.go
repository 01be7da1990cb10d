package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// DeviceServiceClient calls back into the command service's own
// activate endpoint — used only for saga compensation (reversing a
// retirement that couldn't be announced).
type DeviceServiceClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewDeviceServiceClient(baseURL, token string, httpClient *http.Client) *DeviceServiceClient {
	return &DeviceServiceClient{baseURL: baseURL, token: token, http: httpClient}
}

type activateRequest struct {
	Reason string `json:"reason"`
}

// Activate reactivates deviceID on behalf of tenantID, identifying
// itself with the "system" user and the internal shared-secret token.
// The device id is URL-path-encoded per §6.
func (c *DeviceServiceClient) Activate(ctx context.Context, tenantID, deviceID, reason string) error {
	body, err := json.Marshal(activateRequest{Reason: reason})
	if err != nil {
		return fmt.Errorf("clients: marshal activate body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/devices/%s/activate", c.baseURL, url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("clients: build activate request: %w", err)
	}
	req.Header.Set("x-user-id", "system")
	req.Header.Set("x-tenant-id", tenantID)
	req.Header.Set("x-internal-token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("clients: activate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("clients: device service returned status %d", resp.StatusCode)
	}
	return nil
}
