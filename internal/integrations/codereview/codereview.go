// Package codereview polls a GitHub-style REST API for new review comments
// that mention the configured user and publishes them as raw events. Replies
// are posted back onto the originating review thread.
package codereview

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
)

// Config holds the code review host settings. Token comes from the
// environment.
type Config struct {
	BaseURL string // e.g. https://api.github.com
	Token   string
	// Repos are "owner/name" pairs to watch.
	Repos []string
	// Mention filters comments to those containing this handle, e.g.
	// "@alice". Empty takes every comment.
	Mention string
}

// Source is the code review poll integration.
type Source struct {
	cfg    Config
	bus    *bus.Bus
	client *http.Client

	mu    sync.Mutex
	since map[string]time.Time // repo → newest comment time
}

// New creates the source.
func New(cfg Config, b *bus.Bus) *Source {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	return &Source{
		cfg:    cfg,
		bus:    b,
		client: &http.Client{Timeout: 20 * time.Second},
		since:  make(map[string]time.Time),
	}
}

func (s *Source) SourceID() string  { return "codereview" }
func (s *Source) IsConnected() bool { return s.cfg.Token != "" && len(s.cfg.Repos) > 0 }

type reviewComment struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	HTMLURL   string `json:"html_url"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
	PullRequestURL string `json:"pull_request_url"`
}

// SyncOnce fetches new review comments from every watched repo. A repo that
// fails does not stop the others.
func (s *Source) SyncOnce(ctx context.Context) error {
	var firstErr error
	for _, repo := range s.cfg.Repos {
		if err := s.syncRepo(ctx, repo); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", repo, err)
			}
		}
	}
	return firstErr
}

func (s *Source) syncRepo(ctx context.Context, repo string) error {
	s.mu.Lock()
	since := s.since[repo]
	s.mu.Unlock()

	params := url.Values{"sort": {"created"}, "direction": {"asc"}, "per_page": {"50"}}
	if !since.IsZero() {
		params.Set("since", since.Format(time.RFC3339))
	}

	endpoint := fmt.Sprintf("%s/repos/%s/pulls/comments?%s", s.cfg.BaseURL, repo, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build comments request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("comments request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("comments status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var comments []reviewComment
	if err := json.NewDecoder(resp.Body).Decode(&comments); err != nil {
		return fmt.Errorf("decode comments: %w", err)
	}

	newest := since
	for _, c := range comments {
		created, err := time.Parse(time.RFC3339, c.CreatedAt)
		if err != nil {
			created = time.Now()
		}
		if !created.After(since) {
			continue
		}
		if created.After(newest) {
			newest = created
		}
		if s.cfg.Mention != "" && !strings.Contains(c.Body, s.cfg.Mention) {
			continue
		}

		commentID := c.ID
		repoName := repo
		s.bus.PublishRaw(bus.RawEvent{
			EventID:   fmt.Sprintf("codereview:%s:%d", repo, c.ID),
			SourceID:  "codereview",
			Sender:    c.User.Login,
			Title:     repo,
			Body:      c.Body,
			Timestamp: created,
			Metadata:  map[string]string{"repo": repo, "url": c.HTMLURL},
			ReplyHandle: bus.ReplyFunc(func(ctx context.Context, text string) error {
				return s.replyToComment(ctx, repoName, commentID, text)
			}),
		})
	}

	if newest.After(since) {
		s.mu.Lock()
		s.since[repo] = newest
		s.mu.Unlock()
	}
	return nil
}

// replyToComment posts into the review thread of the original comment. The
// replies endpoint lives under the pull request, so the pull number is
// resolved from the comment first.
func (s *Source) replyToComment(ctx context.Context, repo string, commentID int64, text string) error {
	pullNumber, err := s.pullNumberFor(ctx, repo, commentID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"body": text})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	endpoint := fmt.Sprintf("%s/repos/%s/pulls/%d/comments/%d/replies",
		s.cfg.BaseURL, repo, pullNumber, commentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reply request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("reply request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("reply status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

func (s *Source) pullNumberFor(ctx context.Context, repo string, commentID int64) (int, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/pulls/comments/%d", s.cfg.BaseURL, repo, commentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build comment lookup: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("comment lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("comment lookup status %d", resp.StatusCode)
	}

	var c reviewComment
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return 0, fmt.Errorf("decode comment: %w", err)
	}
	// pull_request_url ends with ".../pulls/<number>".
	idx := strings.LastIndexByte(c.PullRequestURL, '/')
	if idx < 0 {
		return 0, fmt.Errorf("malformed pull request url %q", c.PullRequestURL)
	}
	var n int
	if _, err := fmt.Sscanf(c.PullRequestURL[idx+1:], "%d", &n); err != nil {
		return 0, fmt.Errorf("parse pull number from %q: %w", c.PullRequestURL, err)
	}
	return n, nil
}
