package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/queue"
	"bookshopbot/pkg/store"
)

type answered struct {
	id   string
	text string
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []Outgoing
	answers   []answered
	documents []Document
}

func (f *fakeTransport) Send(_ context.Context, msg Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answered{id: callbackID, text: text})
	return nil
}

func (f *fakeTransport) SendDocument(_ context.Context, _ int64, doc Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, doc)
	return nil
}

func (f *fakeTransport) last(t *testing.T) Outgoing {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatalf("no message sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) lastAnswer(t *testing.T) answered {
	t.Helper()
	if len(f.answers) == 0 {
		t.Fatalf("callback was not answered")
	}
	return f.answers[len(f.answers)-1]
}

func (f *fakeTransport) reset() {
	f.sent = nil
	f.answers = nil
	f.documents = nil
}

type fakeLauncher struct {
	launched  []TaskKind
	initiator []Initiator
	err       error
}

func (f *fakeLauncher) Launch(_ context.Context, kind TaskKind, who Initiator) (queue.Job, error) {
	if f.err != nil {
		return queue.Job{}, f.err
	}
	f.launched = append(f.launched, kind)
	f.initiator = append(f.initiator, who)
	return queue.Job{ID: fmt.Sprintf("job-%d", len(f.launched)), Kind: string(kind)}, nil
}

const (
	adminTG = int64(1001)
	userTG  = int64(2002)
	guestTG = int64(3003)
)

type harness struct {
	bot       *Bot
	store     *store.MemoryStore
	transport *fakeTransport
	launcher  *fakeLauncher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.NewMemoryStore()
	tr := &fakeTransport{}
	l := &fakeLauncher{}
	bot, err := New(Config{
		Store:     s,
		Transport: tr,
		Launcher:  l,
		AdminIDs:  []int64{adminTG},
		PageSize:  6,
	})
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}
	return &harness{bot: bot, store: s, transport: tr, launcher: l}
}

func (h *harness) addUser(t *testing.T, telegramID int64, role domain.UserRole, email string) domain.User {
	t.Helper()
	id := telegramID
	u, err := h.store.CreateUser(domain.NewUser{
		TelegramID: &id,
		Role:       role,
		FirstName:  "Test",
		LastName:   strings.ToUpper(string(role)),
		Email:      email,
		Phone:      "0123456789",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (h *harness) addBooks(t *testing.T, n int, catalog string) []domain.Book {
	t.Helper()
	out := make([]domain.Book, 0, n)
	for i := 1; i <= n; i++ {
		b, _, err := h.store.CreateBookIfAbsent(domain.NewBook{
			Title:   fmt.Sprintf("%s book %02d", catalog, i),
			Author:  "Author",
			Genre:   "Fiction",
			Catalog: catalog,
			Price:   decimal.RequireFromString("12.50"),
		})
		if err != nil {
			t.Fatalf("create book: %v", err)
		}
		out = append(out, b)
	}
	return out
}

func (h *harness) say(telegramID int64, text string) {
	h.bot.HandleEvent(context.Background(), Event{
		Kind:      EventMessage,
		ChatID:    telegramID,
		UserID:    telegramID,
		FirstName: "Ann",
		LastName:  "Lee",
		Text:      text,
	})
}

func (h *harness) press(telegramID int64, data string) {
	h.bot.HandleEvent(context.Background(), Event{
		Kind:       EventCallback,
		ChatID:     telegramID,
		UserID:     telegramID,
		CallbackID: "cb-" + data,
		Data:       data,
	})
}

func hasLabel(rows [][]string, label string) bool {
	for _, row := range rows {
		for _, l := range row {
			if l == label {
				return true
			}
		}
	}
	return false
}
