package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/store"
)

type logLine struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func newLoggedHarness(t *testing.T, s store.Store) (*harness, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	tr := &fakeTransport{}
	l := &fakeLauncher{}
	bot, err := New(Config{
		Store:     s,
		Transport: tr,
		Launcher:  l,
		AdminIDs:  []int64{adminTG},
		PageSize:  6,
		Logger:    slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}
	h := &harness{bot: bot, transport: tr, launcher: l}
	if ms, ok := s.(*store.MemoryStore); ok {
		h.store = ms
	}
	return h, &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var out []logLine
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var line logLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		out = append(out, line)
	}
	buf.Reset()
	return out
}

func requireWarn(t *testing.T, buf *bytes.Buffer, msg string) {
	t.Helper()
	lines := logLines(t, buf)
	for _, l := range lines {
		if l.Msg == msg {
			if l.Level != "WARN" {
				t.Fatalf("%q logged at %s, want WARN", msg, l.Level)
			}
			return
		}
	}
	t.Fatalf("no %q entry in %+v", msg, lines)
}

func TestRejectedInputIsLoggedAtWarn(t *testing.T) {
	h, buf := newLoggedHarness(t, store.NewMemoryStore())
	h.addUser(t, adminTG, domain.RoleAdmin, "a@example.com")
	h.addUser(t, userTG, domain.RoleUser, "u@example.com")

	h.press(userTG, "bogus:1")
	requireWarn(t, buf, "unrecognized callback token")

	h.press(userTG, "page:abc")
	requireWarn(t, buf, "unrecognized callback token")

	h.say(userTG, CapExportCSV.Label())
	requireWarn(t, buf, "action not permitted")
	if len(h.launcher.launched) != 0 {
		t.Fatalf("user must not launch exports")
	}

	h.press(userTG, "add_to_cart:999")
	requireWarn(t, buf, "book not found")

	h.say(adminTG, CapPromoteUser.Label())
	h.say(adminTG, "9999")
	requireWarn(t, buf, "promote target not found")

	h.press(guestTG, "page:2")
	requireWarn(t, buf, "callback from unregistered user")
}

type failingUserStore struct {
	*store.MemoryStore
}

func (failingUserStore) GetUserByTelegramID(int64) (domain.User, bool, error) {
	return domain.User{}, false, errors.New("db down")
}

func TestCallbackAnsweredWhenStoreFails(t *testing.T) {
	h, buf := newLoggedHarness(t, failingUserStore{store.NewMemoryStore()})

	h.press(userTG, "page:2")
	if len(h.transport.answers) != 1 || h.transport.answers[0].id != "cb-page:2" {
		t.Fatalf("callback must be answered once, got %+v", h.transport.answers)
	}
	if len(h.transport.sent) != 1 {
		t.Fatalf("expected an error reply, got %d messages", len(h.transport.sent))
	}
	lines := logLines(t, buf)
	if len(lines) == 0 || lines[len(lines)-1].Level != "ERROR" {
		t.Fatalf("store failure should be logged at ERROR, got %+v", lines)
	}

	h.say(userTG, "/start")
	if len(h.transport.answers) != 1 {
		t.Fatalf("messages must not produce callback answers")
	}
}
