// Package sms receives text messages pushed by an SMS gateway over a
// webhook and sends replies back through the gateway's HTTP API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// Config holds the SMS gateway settings. APIKey comes from the environment.
type Config struct {
	// GatewayURL is the gateway's outbound send endpoint. Empty disables
	// outbound delivery; the webhook still accepts inbound messages.
	GatewayURL string
	APIKey     string
	// WebhookRPS caps inbound webhook calls; a burst of twice the rate is
	// allowed. Defaults to 10/s.
	WebhookRPS float64
}

// Source is the SMS integration.
type Source struct {
	cfg     Config
	bus     *bus.Bus
	client  *http.Client
	limiter *rate.Limiter
}

// New creates the source.
func New(cfg Config, b *bus.Bus) *Source {
	rps := cfg.WebhookRPS
	if rps <= 0 {
		rps = 10
	}
	return &Source{
		cfg:     cfg,
		bus:     b,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps*2)),
	}
}

func (s *Source) SourceID() string  { return "sms" }
func (s *Source) IsConnected() bool { return s.cfg.GatewayURL != "" }

// SyncOnce is a no-op: the gateway pushes messages to the webhook.
func (s *Source) SyncOnce(context.Context) error { return nil }

type inboundSMS struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at"`
}

// WebhookHandler accepts gateway POSTs of the form
// {"id":"...","from":"+1555...","body":"...","received_at":"RFC3339"}.
func (s *Source) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		var in inboundSMS
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&in); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		if in.From == "" {
			http.Error(w, "missing sender", http.StatusBadRequest)
			return
		}

		ts := time.Now()
		if in.ReceivedAt != "" {
			if parsed, err := time.Parse(time.RFC3339, in.ReceivedAt); err == nil {
				ts = parsed
			}
		}

		ev := bus.RawEvent{
			EventID:   "sms:" + in.ID,
			SourceID:  "sms",
			Sender:    in.From,
			Body:      in.Body,
			Timestamp: ts,
		}
		if s.cfg.GatewayURL != "" {
			to := in.From
			ev.ReplyHandle = bus.ReplyFunc(func(ctx context.Context, text string) error {
				return s.send(ctx, to, text)
			})
		}
		s.bus.PublishRaw(ev)
		w.WriteHeader(http.StatusAccepted)
	}
}

// Send delivers text to the message's sender through the gateway.
func (s *Source) Send(ctx context.Context, m *message.Message, text string) error {
	if s.cfg.GatewayURL == "" {
		return fmt.Errorf("sms gateway not configured")
	}
	return s.send(ctx, m.Sender, text)
}

func (s *Source) send(ctx context.Context, to, text string) error {
	body, err := json.Marshal(map[string]string{"to": to, "body": text})
	if err != nil {
		return fmt.Errorf("sms: marshal send: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms: gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	slog.Debug("sms: reply sent", "to", to)
	return nil
}
