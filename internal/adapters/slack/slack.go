// Package slack implements the Slack adapter over Socket Mode. Streamed
// replies use chat.update edits when streaming is enabled.
package slack

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nextlevelbuilder/relayclaw/internal/adapters"
	"github.com/nextlevelbuilder/relayclaw/internal/bus"
	"github.com/nextlevelbuilder/relayclaw/internal/config"
)

// Adapter connects to Slack via Socket Mode.
type Adapter struct {
	*adapters.Base
	client *slack.Client
	socket *socketmode.Client
	cfg    config.SlackConfig

	botUserID string // populated on start, to skip the bot's own messages

	mu        sync.Mutex
	userNames map[string]string // user id → display name

	cancel context.CancelFunc
}

// New creates a Slack adapter from config.
func New(cfg config.SlackConfig, msgBus *bus.MessageBus) (*Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack adapter requires both bot and app tokens")
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Adapter{
		Base:      adapters.NewBase("slack", msgBus, cfg.AllowList),
		client:    client,
		socket:    socketmode.New(client),
		cfg:       cfg,
		userNames: make(map[string]string),
	}, nil
}

// Start connects Socket Mode and begins consuming events.
func (a *Adapter) Start(ctx context.Context) error {
	slog.Info("starting slack adapter (socket mode)")

	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	a.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode exited", "error", err)
		}
	}()

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-a.socket.Events:
				if !ok {
					return
				}
				a.handleEvent(evt)
			}
		}
	}()

	a.SetRunning(true)
	slog.Info("slack adapter connected", "user", auth.User, "user_id", auth.UserID)
	return nil
}

// Stop disconnects Socket Mode.
func (a *Adapter) Stop(_ context.Context) error {
	slog.Info("stopping slack adapter")
	a.SetRunning(false)
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Adapter) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		if msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			a.handleMessage(msg)
		}
	default:
		// Unacked events disconnect Socket Mode.
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
	}
}

func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	// Skip the bot's own messages and message_changed noise.
	if ev.User == "" || ev.User == a.botUserID || ev.BotID != "" || ev.SubType != "" {
		return
	}
	if ev.Text == "" {
		return
	}

	slog.Debug("slack message received", "channel", ev.Channel, "user", ev.User)
	a.HandleMessage(a.displayName(ev.User), ev.Channel, ev.Text, nil)
}

// displayName resolves and caches a user's human-readable name.
func (a *Adapter) displayName(userID string) string {
	a.mu.Lock()
	name, ok := a.userNames[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	name = userID
	if user, err := a.client.GetUserInfo(userID); err == nil {
		switch {
		case user.Profile.DisplayName != "":
			name = user.Profile.DisplayName
		case user.RealName != "":
			name = user.RealName
		default:
			name = user.Name
		}
	}

	a.mu.Lock()
	a.userNames[userID] = name
	a.mu.Unlock()
	return name
}

// SendMessage delivers a plain text message.
func (a *Adapter) SendMessage(ctx context.Context, chatID, text string) error {
	_, _, err := a.client.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	return nil
}

// SendTypingIndicator is a no-op: the Slack Web API offers no typing
// signal for bot tokens.
func (a *Adapter) SendTypingIndicator(_ context.Context, _ string) error {
	return nil
}

// SendProcessingPlaceholder posts the "thinking" message and returns its
// timestamp as the replacement handle.
func (a *Adapter) SendProcessingPlaceholder(ctx context.Context, chatID, text string) (adapters.Handle, error) {
	_, ts, err := a.client.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("send placeholder: %w", err)
	}
	return adapters.Handle(ts), nil
}

// ReplaceProcessingPlaceholder edits the placeholder in place.
func (a *Adapter) ReplaceProcessingPlaceholder(ctx context.Context, chatID string, handle adapters.Handle, text string) error {
	_, _, _, err := a.client.UpdateMessageContext(ctx, chatID, string(handle), slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("update slack message: %w", err)
	}
	return nil
}

// StreamEnabled reports whether in-place streaming edits are configured.
func (a *Adapter) StreamEnabled() bool {
	return a.cfg.Streaming
}

// UpdateStreamingMessage revises a streamed reply via chat.update. An
// empty handle posts a new message.
func (a *Adapter) UpdateStreamingMessage(ctx context.Context, chatID string, handle adapters.Handle, text string) (adapters.Handle, error) {
	if handle == "" {
		_, ts, err := a.client.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
		if err != nil {
			return "", fmt.Errorf("send streamed message: %w", err)
		}
		return adapters.Handle(ts), nil
	}
	_, _, _, err := a.client.UpdateMessageContext(ctx, chatID, string(handle), slack.MsgOptionText(text, false))
	if err != nil {
		return handle, fmt.Errorf("update slack message: %w", err)
	}
	return handle, nil
}

// SendMedia uploads an outbound media payload. URL-only payloads are sent
// as a link.
func (a *Adapter) SendMedia(ctx context.Context, chatID string, payload adapters.MediaPayload) error {
	params := slack.UploadFileV2Parameters{
		Channel:        chatID,
		InitialComment: payload.Caption,
	}

	switch {
	case payload.Path != "":
		info, err := os.Stat(payload.Path)
		if err != nil {
			return fmt.Errorf("stat media file: %w", err)
		}
		f, err := os.Open(payload.Path)
		if err != nil {
			return fmt.Errorf("open media file: %w", err)
		}
		defer f.Close()
		params.Reader = f
		params.Filename = filepath.Base(payload.Path)
		params.FileSize = int(info.Size())
	case len(payload.Data) > 0:
		params.Reader = bytes.NewReader(payload.Data)
		params.Filename = payload.ItemID
		if params.Filename == "" {
			params.Filename = "attachment"
		}
		params.FileSize = len(payload.Data)
	case payload.URL != "":
		content := payload.URL
		if payload.Caption != "" {
			content = payload.Caption + "\n" + payload.URL
		}
		return a.SendMessage(ctx, chatID, content)
	default:
		return fmt.Errorf("media payload has no source")
	}

	if _, err := a.client.UploadFileV2Context(ctx, params); err != nil {
		return fmt.Errorf("upload slack file: %w", err)
	}
	return nil
}

// Status reports the adapter's runtime state.
func (a *Adapter) Status() adapters.Status {
	return adapters.Status{Platform: a.Platform(), Running: a.IsRunning()}
}
