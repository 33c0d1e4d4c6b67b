// Package discord delivers alerts to a Discord channel through the REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/signalbox/internal/alert"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited sends.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the backoff.
	maxBackoff = 30 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts alerts as embeds.
type Notifier struct {
	sess        session
	channelID   string
	service     string
	baseBackoff time.Duration
}

// NotifierOpts holds parameters for creating a Discord Notifier.
type NotifierOpts struct {
	BotToken  string
	ChannelID string
	Service   string // shown as the embed footer
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier. Only the REST API is used, so no
// gateway connection is opened.
func New(opts NotifierOpts) (*Notifier, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = s
	}
	return &Notifier{
		sess:        sess,
		channelID:   opts.ChannelID,
		service:     opts.Service,
		baseBackoff: baseBackoff,
	}, nil
}

// Notify implements alert.Notifier.
func (n *Notifier) Notify(ctx context.Context, a alert.Alert) error {
	data := buildMessageSend(a, n.service)
	err := n.retryOnRateLimit(ctx, func() error {
		_, err := n.sess.ChannelMessageSendComplex(n.channelID, data, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: send alert: %w", err)
	}
	return nil
}

// buildMessageSend renders an alert as one embed.
func buildMessageSend(a alert.Alert, service string) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       a.Title,
		Description: a.Body,
		Color:       parseHexColor(alert.Color(a.Severity)),
	}
	if !a.Time.IsZero() {
		embed.Timestamp = a.Time.UTC().Format(time.RFC3339)
	}
	if service != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: service}
	}
	for _, f := range a.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on
// Discord rate limit errors. It respects context cancellation.
func (n *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
