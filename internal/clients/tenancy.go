// Package clients holds the outbound HTTP collaborators the worker
// calls: the tenancy service (email lookup), the email provider
// (Resend), and the device service's activate endpoint (saga
// compensation). Each client is a thin *http.Client wrapper; circuit
// breaking is applied by the caller, not inside the client, keeping the
// breaker a cross-cutting concern per dependency rather than baked into
// transport code.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TenancyClient resolves a user's email address for notification
// side-effects.
type TenancyClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewTenancyClient(baseURL, token string, httpClient *http.Client) *TenancyClient {
	return &TenancyClient{baseURL: baseURL, token: token, http: httpClient}
}

// ResolveEmail returns the user's email, or "" if the lookup returned
// nothing or a non-200 status — both are "unknown", not an error. Used
// by the read-model projector and the activated/created notify path,
// where a refused or empty lookup is best-effort and must not fail the
// caller (§4.5, §4.4).
func (c *TenancyClient) ResolveEmail(ctx context.Context, userID string) (string, error) {
	email, _, err := c.resolveEmail(ctx, userID)
	if err != nil {
		return "", err
	}
	return email, nil
}

// ResolveEmailStrict resolves the user's email and returns an error if
// the lookup failed, returned non-200, or produced no email. Used by
// the retirement saga's notify step (§4.6), where "a missing email or
// non-200 resolution is a notify-failure" that must trip the tenancy
// breaker and drive compensation — unlike ResolveEmail's best-effort
// contract for the projector and activated/created notifications.
func (c *TenancyClient) ResolveEmailStrict(ctx context.Context, userID string) (string, error) {
	email, statusCode, err := c.resolveEmail(ctx, userID)
	if err != nil {
		return "", err
	}
	if statusCode != http.StatusOK {
		return "", fmt.Errorf("clients: tenancy lookup for user %s returned status %d", userID, statusCode)
	}
	if email == "" {
		return "", fmt.Errorf("clients: no email found for user %s", userID)
	}
	return email, nil
}

func (c *TenancyClient) resolveEmail(ctx context.Context, userID string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/internal/user-email/%s", c.baseURL, userID), nil)
	if err != nil {
		return "", 0, fmt.Errorf("clients: build tenancy request: %w", err)
	}
	req.Header.Set("x-internal-token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("clients: tenancy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, nil
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", resp.StatusCode, nil
	}
	return body.Email, resp.StatusCode, nil
}
