package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// EmailClient sends transactional email via the Resend API.
type EmailClient struct {
	apiKey string
	from   string
	http   *http.Client
}

func NewEmailClient(apiKey, from string, httpClient *http.Client) *EmailClient {
	return &EmailClient{apiKey: apiKey, from: from, http: httpClient}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send posts to https://api.resend.com/emails. A non-2xx response is a
// failure (§6).
func (c *EmailClient) Send(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(sendRequest{From: c.from, To: []string{to}, Subject: subject, HTML: html})
	if err != nil {
		return fmt.Errorf("clients: marshal email body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.resend.com/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("clients: build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("clients: email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("clients: email provider returned status %d", resp.StatusCode)
	}
	return nil
}
