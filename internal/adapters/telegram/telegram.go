// Package telegram implements the Telegram adapter using Bot API long
// polling. Streamed replies are rendered as in-place message edits when
// streaming is enabled.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/relayclaw/internal/adapters"
	"github.com/nextlevelbuilder/relayclaw/internal/bus"
	"github.com/nextlevelbuilder/relayclaw/internal/config"
)

// Adapter connects to Telegram via the Bot API using long polling.
type Adapter struct {
	*adapters.Base
	bot *telego.Bot
	cfg config.TelegramConfig

	// Telegram throttles edits aggressively; one shared limiter paces all
	// outbound calls.
	limiter *rate.Limiter

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram adapter from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Adapter, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Adapter{
		Base:    adapters.NewBase("telegram", msgBus, cfg.AllowList),
		bot:     bot,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}, nil
}

// Start begins long polling for updates.
func (a *Adapter) Start(ctx context.Context) error {
	slog.Info("starting telegram adapter (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel
	a.pollDone = make(chan struct{})

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	a.SetRunning(true)
	slog.Info("telegram adapter connected", "username", a.bot.Username())

	go func() {
		defer close(a.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					a.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the poll goroutine so Telegram
// releases the getUpdates lock before a new instance starts.
func (a *Adapter) Stop(_ context.Context) error {
	slog.Info("stopping telegram adapter")
	a.SetRunning(false)

	if a.pollCancel != nil {
		a.pollCancel()
	}
	if a.pollDone != nil {
		select {
		case <-a.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	sender := msg.From.Username
	if sender == "" {
		sender = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}

	attachments := a.collectAttachments(ctx, msg)
	if content == "" && len(attachments) == 0 {
		return
	}

	slog.Debug("telegram message received", "chat", msg.Chat.ID, "sender", sender)
	a.HandleMessage(sender, strconv.FormatInt(msg.Chat.ID, 10), content, attachments)
}

// collectAttachments downloads the message's media into normalized
// attachments. Download failures degrade to metadata-only entries.
func (a *Adapter) collectAttachments(ctx context.Context, msg *telego.Message) []bus.Attachment {
	var out []bus.Attachment

	appendFile := func(fileID, name, mimeType, kind string) {
		data, err := a.downloadFile(ctx, fileID)
		if err != nil {
			slog.Warn("telegram attachment download failed", "file_id", fileID, "error", err)
			data = nil
		}
		if kind == "" {
			kind = adapters.ClassifyMime(mimeType)
		}
		out = append(out, bus.Attachment{Type: kind, Name: name, MimeType: mimeType, Data: data})
	}

	if n := len(msg.Photo); n > 0 {
		// Last entry is the largest rendition.
		appendFile(msg.Photo[n-1].FileID, "photo.jpg", "image/jpeg", bus.AttachmentImage)
	}
	if msg.Voice != nil {
		appendFile(msg.Voice.FileID, "voice.ogg", msg.Voice.MimeType, bus.AttachmentAudio)
	}
	if msg.Audio != nil {
		appendFile(msg.Audio.FileID, msg.Audio.FileName, msg.Audio.MimeType, bus.AttachmentAudio)
	}
	if msg.Video != nil {
		appendFile(msg.Video.FileID, msg.Video.FileName, msg.Video.MimeType, bus.AttachmentVideo)
	}
	if msg.Document != nil {
		appendFile(msg.Document.FileID, msg.Document.FileName, msg.Document.MimeType, "")
	}
	return out
}

func (a *Adapter) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("empty file path for file_id %s", fileID)
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", a.cfg.Token, file.FilePath)
	return adapters.DownloadAttachment(nil, url)
}

// SendMessage delivers a plain text message.
func (a *Adapter) SendMessage(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(id), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// SendTypingIndicator shows the native typing action.
func (a *Adapter) SendTypingIndicator(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return a.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(id), telego.ChatActionTyping))
}

// SendProcessingPlaceholder posts the "thinking" message and returns its
// message id as the replacement handle.
func (a *Adapter) SendProcessingPlaceholder(ctx context.Context, chatID, text string) (adapters.Handle, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	msg, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(id), text))
	if err != nil {
		return "", fmt.Errorf("send placeholder: %w", err)
	}
	return adapters.Handle(strconv.Itoa(msg.MessageID)), nil
}

// ReplaceProcessingPlaceholder edits the placeholder in place.
func (a *Adapter) ReplaceProcessingPlaceholder(ctx context.Context, chatID string, handle adapters.Handle, text string) error {
	return a.editMessage(ctx, chatID, handle, text)
}

// StreamEnabled reports whether in-place streaming edits are configured.
func (a *Adapter) StreamEnabled() bool {
	return a.cfg.Streaming
}

// UpdateStreamingMessage revises a streamed reply in place. An empty
// handle posts a new message.
func (a *Adapter) UpdateStreamingMessage(ctx context.Context, chatID string, handle adapters.Handle, text string) (adapters.Handle, error) {
	if handle == "" {
		id, err := parseChatID(chatID)
		if err != nil {
			return "", err
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
		msg, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(id), text))
		if err != nil {
			return "", fmt.Errorf("send streamed message: %w", err)
		}
		return adapters.Handle(strconv.Itoa(msg.MessageID)), nil
	}
	if err := a.editMessage(ctx, chatID, handle, text); err != nil {
		return handle, err
	}
	return handle, nil
}

func (a *Adapter) editMessage(ctx context.Context, chatID string, handle adapters.Handle, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(string(handle))
	if err != nil {
		return fmt.Errorf("invalid telegram message handle %q: %w", handle, err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = a.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(id),
		MessageID: messageID,
		Text:      text,
	})
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		// Telegram rejects no-op edits; the content already matches.
		return nil
	}
	if err != nil {
		return fmt.Errorf("edit telegram message: %w", err)
	}
	return nil
}

// SendMedia delivers an outbound media payload.
func (a *Adapter) SendMedia(ctx context.Context, chatID string, payload adapters.MediaPayload) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	file, cleanup, err := inputFileFor(payload)
	if err != nil {
		return err
	}
	defer cleanup()

	chat := tu.ID(id)
	switch payload.Type {
	case bus.AttachmentImage:
		_, err = a.bot.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: chat, Photo: file, Caption: payload.Caption})
	case bus.AttachmentAudio:
		_, err = a.bot.SendAudio(ctx, &telego.SendAudioParams{ChatID: chat, Audio: file, Caption: payload.Caption})
	case bus.AttachmentVideo:
		_, err = a.bot.SendVideo(ctx, &telego.SendVideoParams{ChatID: chat, Video: file, Caption: payload.Caption})
	default:
		_, err = a.bot.SendDocument(ctx, &telego.SendDocumentParams{ChatID: chat, Document: file, Caption: payload.Caption})
	}
	if err != nil {
		return fmt.Errorf("send telegram media: %w", err)
	}
	return nil
}

// inputFileFor builds a telego input file from whichever source the
// payload carries. cleanup closes any opened file.
func inputFileFor(payload adapters.MediaPayload) (telego.InputFile, func(), error) {
	noop := func() {}
	switch {
	case payload.Path != "":
		f, err := os.Open(payload.Path)
		if err != nil {
			return telego.InputFile{}, noop, fmt.Errorf("open media file: %w", err)
		}
		return tu.File(f), func() { f.Close() }, nil
	case payload.URL != "":
		return tu.FileFromURL(payload.URL), noop, nil
	case len(payload.Data) > 0:
		name := payload.ItemID
		if name == "" {
			name = "attachment"
		}
		return tu.File(tu.NameReader(bytes.NewReader(payload.Data), name)), noop, nil
	default:
		return telego.InputFile{}, noop, fmt.Errorf("media payload has no source")
	}
}

// Status reports the adapter's runtime state.
func (a *Adapter) Status() adapters.Status {
	return adapters.Status{Platform: a.Platform(), Running: a.IsRunning()}
}

func parseChatID(chatID string) (int64, error) {
	return strconv.ParseInt(chatID, 10, 64)
}
