package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/instructorledger/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
)

// Provider posts short text summaries to a chat channel.
type Provider interface {
	PostMessage(ctx context.Context, channelID string, message string) error
}

// NoOpProvider drops messages; used when no webhook is configured.
type NoOpProvider struct{}

func (NoOpProvider) PostMessage(context.Context, string, string) error { return nil }

func NewFromConfig(cfg config.Config) Provider {
	if strings.TrimSpace(cfg.Slack.WebhookURL) == "" {
		return NoOpProvider{}
	}
	return NewWebhook(cfg.Slack.WebhookURL, &http.Client{Timeout: 10 * time.Second})
}

// WebhookProvider posts to a Slack incoming webhook.
type WebhookProvider struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, client *http.Client) *WebhookProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookProvider{url: url, client: client}
}

func (p *WebhookProvider) PostMessage(ctx context.Context, channelID string, message string) error {
	body, err := json.Marshal(map[string]string{
		"channel": channelID,
		"text":    message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
