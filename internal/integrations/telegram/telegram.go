// Package telegram connects a Telegram bot via long polling and publishes
// incoming direct messages as raw events. Outbound delivery works both per
// message (reply handle) and per sender (last seen chat).
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// Config holds the Telegram source settings. The bot token comes from the
// environment, never from a config file.
type Config struct {
	Token string
	// AllowFrom restricts intake to these usernames when non-empty.
	AllowFrom []string
}

// Source is the Telegram integration.
type Source struct {
	cfg Config
	bus *bus.Bus
	bot *telego.Bot

	running    atomic.Bool
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	mu         sync.Mutex
	chatBySndr map[string]int64
}

// New creates the source. The bot is validated lazily on Start.
func New(cfg Config, b *bus.Bus) (*Source, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Source{
		cfg:        cfg,
		bus:        b,
		bot:        bot,
		chatBySndr: make(map[string]int64),
	}, nil
}

func (s *Source) SourceID() string  { return "telegram" }
func (s *Source) IsConnected() bool { return s.running.Load() }

// SyncOnce is a no-op: long polling already delivers every update.
func (s *Source) SyncOnce(context.Context) error { return nil }

// Start begins long polling for updates.
func (s *Source) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel
	s.pollDone = make(chan struct{})

	updates, err := s.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	s.running.Store(true)
	slog.Info("telegram: connected", "username", s.bot.Username())

	go func() {
		defer close(s.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram: updates channel closed")
					return
				}
				if update.Message != nil {
					s.publish(update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the poll goroutine, so Telegram
// releases the getUpdates lock before a restart.
func (s *Source) Stop() error {
	s.running.Store(false)
	if s.pollCancel != nil {
		s.pollCancel()
	}
	if s.pollDone != nil {
		select {
		case <-s.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: poll goroutine did not exit within timeout")
		}
	}
	return nil
}

func (s *Source) publish(msg *telego.Message) {
	if msg.Text == "" || msg.From == nil {
		return
	}
	sender := msg.From.Username
	if sender == "" {
		sender = msg.From.FirstName
	}
	if !s.allowed(sender) {
		slog.Debug("telegram: sender not in allowlist", "sender", sender)
		return
	}

	chatID := msg.Chat.ID
	s.mu.Lock()
	s.chatBySndr[strings.ToLower(sender)] = chatID
	s.mu.Unlock()

	bot := s.bot
	replyTo := msg.MessageID
	s.bus.PublishRaw(bus.RawEvent{
		EventID:   fmt.Sprintf("telegram:%d:%d", chatID, msg.MessageID),
		SourceID:  "telegram",
		Sender:    sender,
		Body:      msg.Text,
		Timestamp: time.Unix(msg.Date, 0),
		Metadata: map[string]string{
			"chat_id":  fmt.Sprintf("%d", chatID),
			"username": msg.From.Username,
		},
		ReplyHandle: bus.ReplyFunc(func(ctx context.Context, text string) error {
			out := tu.Message(tu.ID(chatID), text)
			out.ReplyParameters = &telego.ReplyParameters{MessageID: replyTo}
			_, err := bot.SendMessage(ctx, out)
			return err
		}),
	})
}

func (s *Source) allowed(sender string) bool {
	if len(s.cfg.AllowFrom) == 0 {
		return true
	}
	for _, a := range s.cfg.AllowFrom {
		if strings.EqualFold(a, sender) {
			return true
		}
	}
	return false
}

// Send delivers text to the last chat seen for the message's sender. Used
// when the per-message reply handle did not survive a restart.
func (s *Source) Send(ctx context.Context, m *message.Message, text string) error {
	s.mu.Lock()
	chatID, ok := s.chatBySndr[strings.ToLower(m.Sender)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no known chat for sender %q", m.Sender)
	}
	_, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}
