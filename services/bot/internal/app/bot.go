package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"bookshopbot/internal/util"
	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/events"
	"bookshopbot/pkg/queue"
	"bookshopbot/pkg/store"
)

// TaskLauncher starts background tasks.
type TaskLauncher interface {
	Launch(ctx context.Context, kind TaskKind, who Initiator) (queue.Job, error)
}

// Config wires the dispatcher's dependencies.
type Config struct {
	Store      store.Store
	Transport  Transport
	Sessions   SessionStore
	SessionTTL time.Duration
	Launcher   TaskLauncher
	Publisher  events.Publisher
	AdminIDs   []int64
	PageSize   int
	// UserLimiter throttles events per sender. Nil disables it.
	UserLimiter Throttle
	Logger      *slog.Logger
}

// Bot is the single-threaded dispatcher. Every inbound event and every
// task result is handled on the goroutine running Run.
type Bot struct {
	store     store.Store
	transport Transport
	convos    *Conversations
	browser   *Browser
	cart      *Cart
	launcher  TaskLauncher
	admins    []int64
	limiter   Throttle
	logger    *slog.Logger
}

func New(cfg Config) (*Bot, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Launcher == nil {
		return nil, errors.New("task launcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	return &Bot{
		store:     cfg.Store,
		transport: cfg.Transport,
		convos:    NewConversations(sessions, cfg.SessionTTL),
		browser:   NewBrowser(cfg.Store, cfg.PageSize),
		cart:      NewCart(cfg.Store, cfg.Publisher),
		launcher:  cfg.Launcher,
		admins:    append([]int64(nil), cfg.AdminIDs...),
		limiter:   cfg.UserLimiter,
		logger:    logger.With("component", "dispatcher"),
	}, nil
}

// Run handles events and task results until ctx is cancelled or events is closed.
func (b *Bot) Run(ctx context.Context, events <-chan Event, results <-chan TaskResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.HandleEvent(ctx, ev)
		case res := <-results:
			b.HandleTaskResult(ctx, res)
		}
	}
}

// HandleEvent processes one event. Failures are logged and reported to the
// chat; they never stop the dispatcher.
func (b *Bot) HandleEvent(ctx context.Context, ev Event) {
	logger := b.logger.With("update_id", ev.UpdateID, "user_id", ev.UserID, "chat_id", ev.ChatID)
	ctx = util.ContextWithLogger(ctx, logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panic", "panic", r)
			b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: errorText(fmt.Errorf("%v", r))})
		}
	}()

	if b.limiter != nil {
		ok, err := b.limiter.Check(ctx, "user:"+strconv.FormatInt(ev.UserID, 10))
		if err != nil {
			logger.Warn("user rate limit check failed", "err", err)
		} else if !ok {
			logger.Info("event throttled")
			if ev.Kind == EventCallback {
				b.answer(ctx, ev.CallbackID, msgSlowDown)
			} else {
				b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: msgSlowDown})
			}
			return
		}
	}

	id, err := Resolve(b.store, ev.UserID)
	if err != nil && ev.Kind == EventCallback {
		b.answer(ctx, ev.CallbackID, "")
	}
	if err == nil {
		switch ev.Kind {
		case EventMessage:
			err = b.handleMessage(ctx, ev, id)
		case EventCallback:
			err = b.handleCallback(ctx, ev, id)
		}
	}
	if err != nil {
		logger.Error("handle event failed", "err", err)
		b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: errorText(err)})
	}
}

// HandleTaskResult delivers a finished task's documents to its initiator
// and broadcasts a notice to the initiator and every admin.
func (b *Bot) HandleTaskResult(ctx context.Context, res TaskResult) {
	logger := b.logger.With("job_id", res.JobID, "kind", string(res.Kind))
	ctx = util.ContextWithLogger(ctx, logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task result panic", "panic", r)
		}
	}()

	chatID := res.Initiator.ChatID
	for _, doc := range res.Outcome.Documents {
		if res.Err != nil || chatID == 0 {
			discard(logger, doc)
			continue
		}
		if err := b.transport.SendDocument(ctx, chatID, doc); err != nil {
			logger.Error("send document failed", "name", doc.Name, "err", err)
		}
	}

	notice := taskNotice(res)
	seen := make(map[int64]struct{}, len(b.admins)+1)
	recipients := append([]int64{chatID}, b.admins...)
	for _, to := range recipients {
		if to == 0 {
			continue
		}
		if _, dup := seen[to]; dup {
			continue
		}
		seen[to] = struct{}{}
		b.send(ctx, Outgoing{ChatID: to, Text: notice})
	}
}

func discard(logger *slog.Logger, doc Document) {
	if !doc.Temporary || doc.Path == "" {
		return
	}
	if err := os.Remove(doc.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("remove undelivered document failed", "path", doc.Path, "err", err)
	}
}

func (b *Bot) send(ctx context.Context, msg Outgoing) {
	if err := b.transport.Send(ctx, msg); err != nil {
		util.LoggerFromContext(ctx).Error("send message failed", "chat_id", msg.ChatID, "err", err)
	}
}

func (b *Bot) sendMenu(ctx context.Context, chatID int64, role domain.UserRole, text string) {
	b.send(ctx, Outgoing{ChatID: chatID, Text: text, Reply: MenuLabels(role)})
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	if err := b.transport.AnswerCallback(ctx, callbackID, text); err != nil {
		util.LoggerFromContext(ctx).Warn("answer callback failed", "err", err)
	}
}

func (b *Bot) isAdmin(telegramID int64) bool {
	for _, id := range b.admins {
		if id == telegramID {
			return true
		}
	}
	return false
}
