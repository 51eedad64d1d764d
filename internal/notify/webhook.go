package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed response is quoted in the error.
const maxErrorBody = 512

// webhookChannel posts each message as JSON.
type webhookChannel struct {
	name    string
	url     string
	method  string
	headers map[string]string
	secret  string
	client  *http.Client
}

func newWebhookChannel(cc ChannelConfig, client *http.Client) *webhookChannel {
	method := strings.ToUpper(cc.Method)
	if method == "" {
		method = http.MethodPost
	}
	return &webhookChannel{
		name:    cc.Name,
		url:     cc.URL,
		method:  method,
		headers: cc.Headers,
		secret:  cc.Secret,
		client:  client,
	}
}

func (c *webhookChannel) Name() string { return c.name }

type webhookBody struct {
	Message string          `json:"message"`
	Subject string          `json:"subject,omitempty"`
	ID      string          `json:"id"`
	Plugin  string          `json:"plugin"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (c *webhookChannel) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookBody{
		Message: msg.Text,
		Subject: msg.Subject,
		ID:      msg.ID,
		Plugin:  msg.Plugin,
		Payload: msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, c.secret))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *webhookChannel) Close() error { return nil }
