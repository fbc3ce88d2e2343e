// Package mailbox polls a mailbox service's REST inbox for unread mail and
// publishes each item as a raw event. Replies go back through the service's
// send endpoint, threaded onto the original mail.
package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// Config holds the mailbox service settings. Token comes from the
// environment.
type Config struct {
	BaseURL string
	Token   string
}

// Source is the mailbox poll integration.
type Source struct {
	cfg    Config
	bus    *bus.Bus
	client *http.Client

	mu    sync.Mutex
	since time.Time
}

// New creates the source.
func New(cfg Config, b *bus.Bus) *Source {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Source{
		cfg:    cfg,
		bus:    b,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *Source) SourceID() string  { return "mailbox" }
func (s *Source) IsConnected() bool { return s.cfg.BaseURL != "" && s.cfg.Token != "" }

type inboxItem struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Snippet    string `json:"snippet"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at"`
}

// SyncOnce fetches unread mail received since the previous poll.
func (s *Source) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	since := s.since
	s.mu.Unlock()

	params := url.Values{"unread": {"true"}}
	if !since.IsZero() {
		params.Set("since", since.Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.BaseURL+"/messages?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build inbox request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("inbox request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("inbox status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var items []inboxItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return fmt.Errorf("decode inbox: %w", err)
	}

	newest := since
	for _, item := range items {
		ts := time.Now()
		if parsed, err := time.Parse(time.RFC3339, item.ReceivedAt); err == nil {
			ts = parsed
		}
		if !ts.After(since) && !since.IsZero() {
			continue
		}

		mailID := item.ID
		from := item.From
		s.bus.PublishRaw(bus.RawEvent{
			EventID:      "mailbox:" + mailID,
			SourceID:     "mailbox",
			Sender:       from,
			Title:        item.Subject,
			Body:         item.Snippet,
			ExpandedBody: item.Body,
			Timestamp:    ts,
			ReplyHandle: bus.ReplyFunc(func(ctx context.Context, text string) error {
				return s.sendMail(ctx, from, text, mailID)
			}),
		})
		if ts.After(newest) {
			newest = ts
		}
	}

	if newest.After(since) {
		s.mu.Lock()
		s.since = newest
		s.mu.Unlock()
	}
	return nil
}

// Send mails the message's sender without threading.
func (s *Source) Send(ctx context.Context, m *message.Message, text string) error {
	return s.sendMail(ctx, m.Sender, text, "")
}

func (s *Source) sendMail(ctx context.Context, to, text, inReplyTo string) error {
	payload := map[string]string{"to": to, "body": text}
	if inReplyTo != "" {
		payload["in_reply_to"] = inReplyTo
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
