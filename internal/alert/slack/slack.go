// Package slack delivers alerts to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/signalbox/internal/alert"
)

// maxRetries is the max number of retries for rate-limited webhook posts.
const maxRetries = 3

// Notifier posts alerts as webhook attachments.
type Notifier struct {
	webhookURL string
	service    string
}

// NotifierOpts holds parameters for creating a Slack Notifier.
type NotifierOpts struct {
	WebhookURL string
	Service    string // shown as the attachment footer
}

// New creates a Slack Notifier.
func New(opts NotifierOpts) (*Notifier, error) {
	if opts.WebhookURL == "" {
		return nil, fmt.Errorf("slack: webhook url is required")
	}
	return &Notifier{webhookURL: opts.WebhookURL, service: opts.Service}, nil
}

// Notify implements alert.Notifier.
func (n *Notifier) Notify(ctx context.Context, a alert.Alert) error {
	msg := buildWebhookMessage(a, n.service)
	err := retryOnRateLimit(ctx, func() error {
		return slackapi.PostWebhookContext(ctx, n.webhookURL, msg)
	})
	if err != nil {
		return fmt.Errorf("slack: post alert: %w", err)
	}
	return nil
}

// buildWebhookMessage renders an alert as a single attachment with the
// title as fallback text.
func buildWebhookMessage(a alert.Alert, service string) *slackapi.WebhookMessage {
	att := slackapi.Attachment{
		Title:    a.Title,
		Text:     a.Body,
		Color:    alert.Color(a.Severity),
		Fallback: a.Title,
		Footer:   service,
	}
	if !a.Time.IsZero() {
		att.Ts = json.Number(strconv.FormatInt(a.Time.Unix(), 10))
	}
	for _, f := range a.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return &slackapi.WebhookMessage{
		Text:        a.Title,
		Attachments: []slackapi.Attachment{att},
	}
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors. It respects context cancellation and Slack's Retry-After.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
