// Package discord implements the Discord adapter over the gateway
// connection. Streamed replies are rendered as message edits when
// streaming is enabled.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/relayclaw/internal/adapters"
	"github.com/nextlevelbuilder/relayclaw/internal/bus"
	"github.com/nextlevelbuilder/relayclaw/internal/config"
)

// Adapter connects to Discord via the Bot API using gateway events.
type Adapter struct {
	*adapters.Base
	session   *discordgo.Session
	cfg       config.DiscordConfig
	botUserID string // populated on start
}

// New creates a Discord adapter from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Adapter{
		Base:    adapters.NewBase("discord", msgBus, cfg.AllowList),
		session: session,
		cfg:     cfg,
	}, nil
}

// Start opens the gateway connection and begins receiving events.
func (a *Adapter) Start(_ context.Context) error {
	slog.Info("starting discord adapter")

	a.session.AddHandler(a.handleMessage)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botUserID = user.ID

	a.SetRunning(true)
	slog.Info("discord adapter connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop(_ context.Context) error {
	slog.Info("stopping discord adapter")
	a.SetRunning(false)
	return a.session.Close()
}

func (a *Adapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}

	var attachments []bus.Attachment
	for _, att := range m.Attachments {
		data, err := adapters.DownloadAttachment(nil, att.URL)
		if err != nil {
			slog.Warn("discord attachment download failed", "url", att.URL, "error", err)
			data = nil
		}
		attachments = append(attachments, bus.Attachment{
			Type:     adapters.ClassifyMime(att.ContentType),
			Name:     att.Filename,
			MimeType: att.ContentType,
			Data:     data,
		})
	}
	if m.Content == "" && len(attachments) == 0 {
		return
	}

	slog.Debug("discord message received", "channel", m.ChannelID, "sender", m.Author.Username)
	a.HandleMessage(resolveDisplayName(m), m.ChannelID, m.Content, attachments)
}

// SendMessage delivers a plain text message.
func (a *Adapter) SendMessage(_ context.Context, chatID, text string) error {
	if _, err := a.session.ChannelMessageSend(chatID, text); err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

// SendTypingIndicator shows the native typing indicator (expires after
// roughly ten seconds on its own).
func (a *Adapter) SendTypingIndicator(_ context.Context, chatID string) error {
	return a.session.ChannelTyping(chatID)
}

// SendProcessingPlaceholder posts the "thinking" message and returns its
// message id as the replacement handle.
func (a *Adapter) SendProcessingPlaceholder(_ context.Context, chatID, text string) (adapters.Handle, error) {
	msg, err := a.session.ChannelMessageSend(chatID, text)
	if err != nil {
		return "", fmt.Errorf("send placeholder: %w", err)
	}
	return adapters.Handle(msg.ID), nil
}

// ReplaceProcessingPlaceholder edits the placeholder in place.
func (a *Adapter) ReplaceProcessingPlaceholder(_ context.Context, chatID string, handle adapters.Handle, text string) error {
	if _, err := a.session.ChannelMessageEdit(chatID, string(handle), text); err != nil {
		return fmt.Errorf("edit discord message: %w", err)
	}
	return nil
}

// StreamEnabled reports whether in-place streaming edits are configured.
func (a *Adapter) StreamEnabled() bool {
	return a.cfg.Streaming
}

// UpdateStreamingMessage revises a streamed reply in place. An empty
// handle posts a new message.
func (a *Adapter) UpdateStreamingMessage(_ context.Context, chatID string, handle adapters.Handle, text string) (adapters.Handle, error) {
	if handle == "" {
		msg, err := a.session.ChannelMessageSend(chatID, text)
		if err != nil {
			return "", fmt.Errorf("send streamed message: %w", err)
		}
		return adapters.Handle(msg.ID), nil
	}
	if _, err := a.session.ChannelMessageEdit(chatID, string(handle), text); err != nil {
		return handle, fmt.Errorf("edit discord message: %w", err)
	}
	return handle, nil
}

// SendMedia delivers an outbound media payload as a file upload. URL-only
// payloads are sent as a link.
func (a *Adapter) SendMedia(_ context.Context, chatID string, payload adapters.MediaPayload) error {
	var reader io.Reader
	var name string

	switch {
	case payload.Path != "":
		f, err := os.Open(payload.Path)
		if err != nil {
			return fmt.Errorf("open media file: %w", err)
		}
		defer f.Close()
		reader = f
		name = filepath.Base(payload.Path)
	case len(payload.Data) > 0:
		reader = bytes.NewReader(payload.Data)
		name = payload.ItemID
		if name == "" {
			name = "attachment"
		}
	case payload.URL != "":
		content := payload.URL
		if payload.Caption != "" {
			content = payload.Caption + "\n" + payload.URL
		}
		if _, err := a.session.ChannelMessageSend(chatID, content); err != nil {
			return fmt.Errorf("send discord media link: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("media payload has no source")
	}

	_, err := a.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: payload.Caption,
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: payload.MimeType,
			Reader:      reader,
		}},
	})
	if err != nil {
		return fmt.Errorf("send discord media: %w", err)
	}
	return nil
}

// Status reports the adapter's runtime state.
func (a *Adapter) Status() adapters.Status {
	return adapters.Status{Platform: a.Platform(), Running: a.IsRunning()}
}

// resolveDisplayName picks the best name for a message author: server
// nickname, then global display name, then username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
