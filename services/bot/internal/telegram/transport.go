package telegram

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"bookshopbot/services/bot/internal/app"
)

// Transport adapts Client to the app's outbound interface.
type Transport struct {
	client *Client
}

// NewTransport wraps client.
func NewTransport(client *Client) *Transport {
	return &Transport{client: client}
}

var _ app.Transport = (*Transport)(nil)

// Send delivers msg. Markdown that the API refuses to parse is resent as plain text.
func (t *Transport) Send(ctx context.Context, msg app.Outgoing) error {
	req := SendMessageRequest{
		ChatID:      msg.ChatID,
		Text:        msg.Text,
		ReplyMarkup: markupFor(msg),
	}
	if msg.Markdown {
		req.ParseMode = "Markdown"
	}
	err := t.client.SendMessage(ctx, req)
	if err != nil && msg.Markdown && IsMarkdownParseError(err) {
		req.ParseMode = ""
		err = t.client.SendMessage(ctx, req)
	}
	return err
}

func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return t.client.AnswerCallbackQuery(ctx, callbackID, text)
}

// SendDocument uploads doc and removes it afterwards when it is temporary.
func (t *Transport) SendDocument(ctx context.Context, chatID int64, doc app.Document) error {
	err := t.client.SendDocument(ctx, chatID, doc.Path, doc.Name, doc.Caption)
	if doc.Temporary {
		if rmErr := os.Remove(doc.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("telegram: remove delivered document failed", "path", doc.Path, "err", rmErr)
		}
	}
	return err
}

func markupFor(msg app.Outgoing) *ReplyMarkup {
	switch {
	case len(msg.Reply) > 0:
		rows := make([][]KeyboardButton, 0, len(msg.Reply))
		for _, row := range msg.Reply {
			buttons := make([]KeyboardButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, KeyboardButton{Text: label})
			}
			rows = append(rows, buttons)
		}
		return &ReplyMarkup{Keyboard: rows, ResizeKeyboard: true}
	case len(msg.Inline) > 0:
		rows := make([][]InlineKeyboardButton, 0, len(msg.Inline))
		for _, row := range msg.Inline {
			buttons := make([]InlineKeyboardButton, 0, len(row))
			for _, b := range row {
				buttons = append(buttons, InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
			}
			rows = append(rows, buttons)
		}
		return &ReplyMarkup{InlineKeyboard: rows}
	case msg.RemoveKeyboard:
		return &ReplyMarkup{RemoveKeyboard: true}
	default:
		return nil
	}
}

// ToEvent converts an update into an app event. Updates the bot does not
// handle (edits, channel posts, bot senders) report false.
func ToEvent(u Update) (app.Event, bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.Chat == nil || m.From == nil || m.From.IsBot {
			return app.Event{}, false
		}
		return app.Event{
			Kind:      app.EventMessage,
			UpdateID:  u.UpdateID,
			ChatID:    m.Chat.ID,
			UserID:    m.From.ID,
			FirstName: strings.TrimSpace(m.From.FirstName),
			LastName:  strings.TrimSpace(m.From.LastName),
			Username:  strings.TrimSpace(m.From.Username),
			Text:      m.Text,
		}, true
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.From == nil {
			return app.Event{}, false
		}
		chatID := q.From.ID
		if q.Message != nil && q.Message.Chat != nil {
			chatID = q.Message.Chat.ID
		}
		return app.Event{
			Kind:       app.EventCallback,
			UpdateID:   u.UpdateID,
			ChatID:     chatID,
			UserID:     q.From.ID,
			FirstName:  strings.TrimSpace(q.From.FirstName),
			LastName:   strings.TrimSpace(q.From.LastName),
			Username:   strings.TrimSpace(q.From.Username),
			CallbackID: q.ID,
			Data:       q.Data,
		}, true
	default:
		return app.Event{}, false
	}
}

// Poller long-polls the Bot API and feeds decoded events to a channel.
type Poller struct {
	client      *Client
	pollTimeout time.Duration
	backoff     time.Duration
	logger      *slog.Logger
}

// NewPoller creates a poller. Zero durations fall back to 30s poll and 2s backoff.
func NewPoller(client *Client, pollTimeout, backoff time.Duration) *Poller {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Poller{
		client:      client,
		pollTimeout: pollTimeout,
		backoff:     backoff,
		logger:      slog.Default().With("component", "telegram_poller"),
	}
}

// Run polls until ctx is cancelled. Events are delivered in update order.
func (p *Poller) Run(ctx context.Context, out chan<- app.Event) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, next, err := p.client.GetUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !IsPollTimeout(err) {
				p.logger.Warn("get updates failed", "err", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(p.backoff):
				}
			}
			continue
		}
		offset = next
		for _, u := range updates {
			ev, ok := ToEvent(u)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
