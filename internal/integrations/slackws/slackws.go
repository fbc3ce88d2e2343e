// Package slackws polls a Slack-style workspace API for new channel
// messages. It tracks the newest seen timestamp per channel so each poll
// fetches only what arrived since the last one.
package slackws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
)

const defaultAPIBase = "https://slack.com/api"

// Config holds the workspace settings. Token comes from the environment.
type Config struct {
	Token   string
	APIBase string
	// Channels are the channel ids to watch.
	Channels []string
}

// Source is the workspace poll integration.
type Source struct {
	cfg    Config
	bus    *bus.Bus
	client *http.Client

	mu       sync.Mutex
	lastSeen map[string]string // channel id → newest message ts
}

// New creates the source.
func New(cfg Config, b *bus.Bus) *Source {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Source{
		cfg:      cfg,
		bus:      b,
		client:   &http.Client{Timeout: 15 * time.Second},
		lastSeen: make(map[string]string),
	}
}

func (s *Source) SourceID() string  { return "slack" }
func (s *Source) IsConnected() bool { return s.cfg.Token != "" && len(s.cfg.Channels) > 0 }

type historyMessage struct {
	TS      string `json:"ts"`
	User    string `json:"user"`
	Text    string `json:"text"`
	Subtype string `json:"subtype"`
}

type historyResponse struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error"`
	Messages []historyMessage `json:"messages"`
}

// SyncOnce fetches new messages from every watched channel. A channel that
// fails does not stop the others; the first error is returned after all
// channels were attempted.
func (s *Source) SyncOnce(ctx context.Context) error {
	var firstErr error
	for _, channel := range s.cfg.Channels {
		if err := s.syncChannel(ctx, channel); err != nil {
			slog.Warn("slackws: channel sync failed", "channel", channel, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Source) syncChannel(ctx context.Context, channel string) error {
	s.mu.Lock()
	oldest := s.lastSeen[channel]
	s.mu.Unlock()

	params := url.Values{"channel": {channel}, "limit": {"50"}}
	if oldest != "" {
		params.Set("oldest", oldest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.APIBase+"/conversations.history?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build history request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("history status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("workspace api error: %s", parsed.Error)
	}

	// First poll of a channel has no watermark. Publishing here would replay
	// up to a full page of history (and auto-respond would answer it), so
	// only record where the channel currently ends and start live from there.
	if oldest == "" {
		mark := fmt.Sprintf("%d.000000", time.Now().Unix())
		for _, msg := range parsed.Messages {
			if msg.TS > mark {
				mark = msg.TS
			}
		}
		s.mu.Lock()
		s.lastSeen[channel] = mark
		s.mu.Unlock()
		return nil
	}

	// The API returns newest first; publish oldest first to preserve order.
	newest := oldest
	for i := len(parsed.Messages) - 1; i >= 0; i-- {
		msg := parsed.Messages[i]
		if msg.Subtype != "" || msg.Text == "" {
			continue
		}
		// Equal-width timestamps compare lexicographically; drop anything
		// already seen even when the API echoes the boundary message back.
		if oldest != "" && msg.TS <= oldest {
			continue
		}
		s.bus.PublishRaw(bus.RawEvent{
			EventID:   fmt.Sprintf("slack:%s:%s", channel, msg.TS),
			SourceID:  "slack",
			Sender:    msg.User,
			Body:      msg.Text,
			Timestamp: parseSlackTS(msg.TS),
			Metadata:  map[string]string{"channel": channel},
			ReplyHandle: bus.ReplyFunc(func(ctx context.Context, text string) error {
				return s.postMessage(ctx, channel, text)
			}),
		})
		if msg.TS > newest {
			newest = msg.TS
		}
	}

	if newest != oldest {
		s.mu.Lock()
		s.lastSeen[channel] = newest
		s.mu.Unlock()
	}
	return nil
}

func (s *Source) postMessage(ctx context.Context, channel, text string) error {
	body, err := json.Marshal(map[string]string{"channel": channel, "text": text})
	if err != nil {
		return fmt.Errorf("marshal post payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.APIBase+"/chat.postMessage", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("build post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode post response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("workspace api error: %s", result.Error)
	}
	return nil
}

// parseSlackTS converts a "1700000000.000123" timestamp to time.Time.
func parseSlackTS(ts string) time.Time {
	secs := ts
	if idx := strings.IndexByte(ts, '.'); idx >= 0 {
		secs = ts[:idx]
	}
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(n, 0)
}
