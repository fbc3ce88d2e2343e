// Package discord connects a Discord bot over the gateway and publishes
// incoming messages as raw events.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// Config holds the Discord source settings. The bot token comes from the
// environment.
type Config struct {
	Token string
	// AllowFrom restricts intake to these usernames when non-empty.
	AllowFrom []string
}

// Source is the Discord integration.
type Source struct {
	cfg       Config
	bus       *bus.Bus
	session   *discordgo.Session
	botUserID string
	running   atomic.Bool

	mu         sync.Mutex
	chanBySndr map[string]string
}

// New creates the source.
func New(cfg Config, b *bus.Bus) (*Source, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Source{
		cfg:        cfg,
		bus:        b,
		session:    session,
		chanBySndr: make(map[string]string),
	}, nil
}

func (s *Source) SourceID() string  { return "discord" }
func (s *Source) IsConnected() bool { return s.running.Load() }

// SyncOnce is a no-op: gateway events already deliver every message.
func (s *Source) SyncOnce(context.Context) error { return nil }

// Start opens the gateway connection and begins receiving events.
func (s *Source) Start(_ context.Context) error {
	s.session.AddHandler(s.handleMessage)

	if err := s.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := s.session.User("@me")
	if err != nil {
		s.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	s.botUserID = user.ID

	s.running.Store(true)
	slog.Info("discord: connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (s *Source) Stop() error {
	s.running.Store(false)
	return s.session.Close()
}

func (s *Source) handleMessage(sess *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.botUserID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}
	sender := m.Author.Username
	if !s.allowed(sender) {
		slog.Debug("discord: sender not in allowlist", "sender", sender)
		return
	}

	channelID := m.ChannelID
	s.mu.Lock()
	s.chanBySndr[strings.ToLower(sender)] = channelID
	s.mu.Unlock()

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	replyRef := &discordgo.MessageReference{MessageID: m.ID, ChannelID: channelID}
	s.bus.PublishRaw(bus.RawEvent{
		EventID:   "discord:" + m.ID,
		SourceID:  "discord",
		Sender:    sender,
		Body:      m.Content,
		Timestamp: ts,
		Metadata: map[string]string{
			"channel_id": channelID,
			"guild_id":   m.GuildID,
		},
		ReplyHandle: bus.ReplyFunc(func(_ context.Context, text string) error {
			_, err := sess.ChannelMessageSendReply(channelID, text, replyRef)
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

// Send delivers text to the last channel seen for the message's sender.
func (s *Source) Send(_ context.Context, m *message.Message, text string) error {
	if !s.running.Load() {
		return fmt.Errorf("discord bot not running")
	}
	s.mu.Lock()
	channelID, ok := s.chanBySndr[strings.ToLower(m.Sender)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no known channel for sender %q", m.Sender)
	}
	_, err := s.session.ChannelMessageSend(channelID, text)
	return err
}
