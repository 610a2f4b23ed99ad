package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"bookshopbot/pkg/domain"
)

func TestRegistrationAssignsAdminRole(t *testing.T) {
	h := newHarness(t)
	h.say(adminTG, "/start")
	if !strings.Contains(h.transport.last(t).Text, promptFirstName) {
		t.Fatalf("expected registration prompt, got %q", h.transport.last(t).Text)
	}
	for _, in := range []string{"Ann", "Lee", "ann@example.com", "0123456789"} {
		h.say(adminTG, in)
	}
	user, ok, err := h.store.GetUserByTelegramID(adminTG)
	if err != nil || !ok {
		t.Fatalf("expected user to be registered: %v", err)
	}
	if user.Role != domain.RoleAdmin {
		t.Fatalf("configured admin id should register as admin, got %s", user.Role)
	}
	if !hasLabel(h.transport.last(t).Reply, CapForceBackup.Label()) {
		t.Fatalf("expected admin menu after registration")
	}

	h.say(adminTG, "/start")
	if !strings.Contains(h.transport.last(t).Text, "Welcome back") {
		t.Fatalf("registered users are greeted, got %q", h.transport.last(t).Text)
	}
}

func TestRegistrationRepromptsWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	h.say(guestTG, "/start")
	h.say(guestTG, "Ann")
	h.say(guestTG, "Lee")
	h.say(guestTG, "ann-at-example")
	if !strings.Contains(h.transport.last(t).Text, msgInvalidEmail) {
		t.Fatalf("expected email reprompt, got %q", h.transport.last(t).Text)
	}
	if users, _ := h.store.ListUsers(); len(users) != 0 {
		t.Fatalf("no user should exist yet")
	}
	h.say(guestTG, "ann@example.com")
	h.say(guestTG, "0123456789")
	user, ok, _ := h.store.GetUserByTelegramID(guestTG)
	if !ok || user.Role != domain.RoleUser || user.Email != "ann@example.com" {
		t.Fatalf("unexpected registered user: %+v", user)
	}
}

func TestCommandAbandonsWizard(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, adminTG, domain.RoleAdmin, "a@example.com")
	h.say(adminTG, CapAddUser.Label())
	h.say(adminTG, "Bob")
	h.say(adminTG, "/help")
	h.say(adminTG, "Stone")
	if h.transport.last(t).Text != msgUnknownCommand {
		t.Fatalf("wizard input after /help should not be consumed, got %q", h.transport.last(t).Text)
	}
}

func TestNonAdminIsRedirectedFromAdminLabels(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	h.say(userTG, CapExportCSV.Label())
	h.say(userTG, "/scrape")
	if len(h.launcher.launched) != 0 {
		t.Fatalf("non-admin must not launch tasks: %v", h.launcher.launched)
	}
	last := h.transport.last(t)
	if last.Text != msgChooseAction || hasLabel(last.Reply, CapExportCSV.Label()) || !hasLabel(last.Reply, CapCart.Label()) {
		t.Fatalf("expected the user's own menu, got %+v", last)
	}
}

func TestGuestIsAskedToRegister(t *testing.T) {
	h := newHarness(t)
	h.say(guestTG, CapBrowse.Label())
	if h.transport.last(t).Text != msgRegisterFirst {
		t.Fatalf("unexpected guest reply: %q", h.transport.last(t).Text)
	}
	h.press(guestTG, "add_to_cart:1")
	if h.transport.lastAnswer(t).text != msgUserNotFound {
		t.Fatalf("unexpected guest toast: %+v", h.transport.lastAnswer(t))
	}
}

func TestGotoClampsToLastPage(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	h.addBooks(t, 13, "Novels")

	h.say(userTG, "/goto 10")
	if len(h.transport.sent) != 2 {
		t.Fatalf("expected one book and a pager, got %d messages", len(h.transport.sent))
	}
	if !strings.Contains(h.transport.sent[0].Text, "Novels book 13") || !h.transport.sent[0].Markdown {
		t.Fatalf("unexpected book card: %+v", h.transport.sent[0])
	}
	pager := h.transport.last(t)
	if pager.Text != "Page 3 of 3." {
		t.Fatalf("unexpected footer %q", pager.Text)
	}
	nav := pager.Inline[0]
	if nav[0].Data != "page:2" || nav[len(nav)-1].Data != "current" {
		t.Fatalf("expected prev and no next on the last page: %+v", nav)
	}
}

func TestGotoUsage(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	h.say(userTG, "/goto")
	if h.transport.last(t).Text != msgGotoUsage {
		t.Fatalf("unexpected reply %q", h.transport.last(t).Text)
	}
	h.say(userTG, "/goto -2")
	if h.transport.last(t).Text != msgInvalidPage {
		t.Fatalf("unexpected reply %q", h.transport.last(t).Text)
	}
}

func TestCategorySelectionFiltersListing(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	h.addBooks(t, 2, "Poetry")
	h.addBooks(t, 3, "Drama")

	h.say(userTG, CapCategories.Label())
	menu := h.transport.last(t)
	if menu.Text != msgChooseCategory || menu.Reply[0][0] != "Drama" || !hasLabel(menu.Reply, CapBack.Label()) {
		t.Fatalf("unexpected category keyboard: %+v", menu)
	}
	h.transport.reset()
	h.say(userTG, "poetry")
	if len(h.transport.sent) != 3 {
		t.Fatalf("expected two poetry books and a pager, got %d", len(h.transport.sent))
	}
	catalog, _, _ := h.store.FindCatalogByName("Poetry")
	for _, b := range h.transport.last(t).Inline[0] {
		if b.Data != "current" && !strings.HasSuffix(b.Data, ":catalog:"+itoa(catalog.ID)) {
			t.Fatalf("pager should keep the catalog filter: %+v", b)
		}
	}
}

func TestMalformedCallbacksAreAnswered(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	h.press(userTG, "page:abc")
	if a := h.transport.lastAnswer(t); a.text != msgInvalidPageTok || a.id != "cb-page:abc" {
		t.Fatalf("unexpected answer %+v", a)
	}
	h.press(userTG, "page:1:catalog:")
	if h.transport.lastAnswer(t).text != msgInvalidPageTok {
		t.Fatalf("unexpected answer %+v", h.transport.lastAnswer(t))
	}
	h.press(userTG, "whatever")
	if h.transport.lastAnswer(t).text != msgUnknownAction {
		t.Fatalf("unexpected answer %+v", h.transport.lastAnswer(t))
	}
	h.press(userTG, "current")
	if h.transport.lastAnswer(t).text != msgAlreadyOnPage {
		t.Fatalf("unexpected answer %+v", h.transport.lastAnswer(t))
	}
	if len(h.transport.answers) != 4 {
		t.Fatalf("every press must be answered exactly once, got %d", len(h.transport.answers))
	}
}

func TestAddToCartAndCheckoutFlow(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	book := h.addBooks(t, 1, "Novels")[0]

	h.press(userTG, AddToCartToken(book.ID).String())
	h.press(userTG, AddToCartToken(book.ID).String())
	if h.transport.lastAnswer(t).text != "Book 'Novels book 01' added to cart." {
		t.Fatalf("unexpected toast %+v", h.transport.lastAnswer(t))
	}
	h.press(userTG, "add_to_cart:999")
	if h.transport.lastAnswer(t).text != msgBookNotFound {
		t.Fatalf("unexpected toast %+v", h.transport.lastAnswer(t))
	}

	h.transport.reset()
	h.say(userTG, CapCart.Label())
	if !strings.Contains(h.transport.sent[0].Text, "Quantity: 2") {
		t.Fatalf("unexpected cart line %q", h.transport.sent[0].Text)
	}
	total := h.transport.last(t)
	if total.Text != "Total: 25.00" || !hasLabel(total.Reply, CapCheckout.Label()) {
		t.Fatalf("unexpected cart total %+v", total)
	}

	h.say(userTG, CapCheckout.Label())
	if !strings.Contains(h.transport.last(t).Text, "Total: 25.00") {
		t.Fatalf("unexpected checkout reply %q", h.transport.last(t).Text)
	}
	h.say(userTG, CapCheckout.Label())
	if h.transport.last(t).Text != msgCheckoutEmpty {
		t.Fatalf("second checkout should find an empty cart, got %q", h.transport.last(t).Text)
	}
}

func TestJumpPageCallbackRegistersContinuation(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	h.addBooks(t, 8, "Novels")
	h.press(userTG, "jump_page")
	if h.transport.last(t).Text != promptPage {
		t.Fatalf("expected page prompt, got %q", h.transport.last(t).Text)
	}
	h.say(userTG, "2")
	if h.transport.last(t).Text != "Page 2 of 2." {
		t.Fatalf("unexpected footer %q", h.transport.last(t).Text)
	}
}

func TestAdminWizardsAndLaunches(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, adminTG, domain.RoleAdmin, "a@example.com")
	target := h.addUser(t, userTG, domain.RoleUser, "u@example.com")

	h.say(adminTG, CapPromoteUser.Label())
	h.say(adminTG, "9999")
	if h.transport.last(t).Text != msgPromoteNotFound {
		t.Fatalf("unexpected reply %q", h.transport.last(t).Text)
	}
	h.say(adminTG, CapPromoteUser.Label())
	h.say(adminTG, itoa(target.ID))
	if got, _, _ := h.store.GetUser(target.ID); got.Role != domain.RoleAdmin {
		t.Fatalf("expected promotion, got %s", got.Role)
	}

	h.say(adminTG, CapAddUser.Label())
	for _, in := range []string{"Bob", "Stone", "bob@example.com", "0123456789", "-", "wizard"} {
		h.say(adminTG, in)
	}
	if h.transport.last(t).Text != "User Bob Stone added with role 'user'." {
		t.Fatalf("unexpected reply %q", h.transport.last(t).Text)
	}

	h.say(adminTG, CapExportExcel.Label())
	h.say(adminTG, "/scrape")
	if len(h.launcher.launched) != 2 || h.launcher.launched[0] != TaskExportExcel || h.launcher.launched[1] != TaskScrape {
		t.Fatalf("unexpected launches %v", h.launcher.launched)
	}
	if who := h.launcher.initiator[0]; who.ChatID != adminTG || who.Name != "Ann Lee" {
		t.Fatalf("unexpected initiator %+v", who)
	}

	h.launcher.err = ErrThrottled
	h.say(adminTG, CapForceBackup.Label())
	if !strings.Contains(h.transport.last(t).Text, "started recently") {
		t.Fatalf("expected throttle notice, got %q", h.transport.last(t).Text)
	}
	h.launcher.err = errors.New("redis down")
	h.say(adminTG, CapForceBackup.Label())
	if !strings.HasPrefix(h.transport.last(t).Text, "An error occurred") {
		t.Fatalf("expected error notice, got %q", h.transport.last(t).Text)
	}
}

func TestTaskResultNotifiesInitiatorAndAdmins(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	h.bot.HandleTaskResult(context.Background(), TaskResult{
		JobID:      "j1",
		Kind:       TaskExportCSV,
		Initiator:  Initiator{ChatID: userTG, UserID: userTG, Name: "Ann Lee"},
		Outcome:    Outcome{Documents: []Document{{Path: path, Name: "users.csv", Temporary: true}}},
		FinishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if len(h.transport.documents) != 1 {
		t.Fatalf("expected the document to be delivered")
	}
	if len(h.transport.sent) != 2 {
		t.Fatalf("expected notices for initiator and admin, got %d", len(h.transport.sent))
	}
	notice := h.transport.sent[0].Text
	for _, want := range []string{"Data export finished.", "Format: CSV", "By: Ann Lee (ID: 2002)", "Time: 2026-01-02 03:04:05 UTC"} {
		if !strings.Contains(notice, want) {
			t.Fatalf("notice %q missing %q", notice, want)
		}
	}
}

func TestTaskFailureIsTruncated(t *testing.T) {
	h := newHarness(t)
	h.bot.HandleTaskResult(context.Background(), TaskResult{
		Kind:       TaskBackup,
		Initiator:  Initiator{ChatID: adminTG, UserID: adminTG, Name: "Root"},
		Err:        errors.New(strings.Repeat("x", 500)),
		FinishedAt: time.Now(),
	})
	if len(h.transport.sent) != 1 {
		t.Fatalf("initiator is also an admin; expected one notice, got %d", len(h.transport.sent))
	}
	text := h.transport.sent[0].Text
	if !strings.Contains(text, "Database backup failed: ") || !strings.Contains(text, strings.Repeat("x", 200)+"...") || strings.Contains(text, strings.Repeat("x", 201)) {
		t.Fatalf("unexpected failure notice %q", text)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	events := make(chan Event, 1)
	results := make(chan TaskResult, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx, events, results) }()

	events <- Event{Kind: EventMessage, ChatID: userTG, UserID: userTG, Text: "/help"}
	results <- TaskResult{Kind: TaskScrape, Initiator: Initiator{ChatID: userTG}, FinishedAt: time.Now()}
	deadline := time.After(2 * time.Second)
	for {
		h.transport.mu.Lock()
		n := len(h.transport.sent)
		h.transport.mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("dispatcher did not process inputs, sent=%d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
