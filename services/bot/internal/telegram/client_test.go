package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bookshopbot/services/bot/internal/app"
)

func TestGetUpdatesAdvancesOffset(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/botTOKEN/getUpdates") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":41,"message":{"message_id":1,"chat":{"id":7},"from":{"id":9,"first_name":"Ann"},"text":"/start"}},
			{"update_id":42,"callback_query":{"id":"cb1","from":{"id":9},"message":{"message_id":2,"chat":{"id":7}},"data":"page:2"}}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL, "TOKEN")
	updates, next, err := client.GetUpdates(context.Background(), 40, time.Second)
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	if gotQuery != "timeout=1&offset=40" {
		t.Fatalf("unexpected query: %s", gotQuery)
	}
	if len(updates) != 2 || next != 43 {
		t.Fatalf("expected 2 updates and next offset 43, got %d/%d", len(updates), next)
	}

	msg, ok := ToEvent(updates[0])
	if !ok || msg.Kind != app.EventMessage || msg.ChatID != 7 || msg.UserID != 9 || msg.Text != "/start" || msg.FirstName != "Ann" {
		t.Fatalf("unexpected message event: %+v", msg)
	}
	cb, ok := ToEvent(updates[1])
	if !ok || cb.Kind != app.EventCallback || cb.CallbackID != "cb1" || cb.Data != "page:2" || cb.ChatID != 7 {
		t.Fatalf("unexpected callback event: %+v", cb)
	}
}

func TestToEventSkipsBots(t *testing.T) {
	u := Update{UpdateID: 1, Message: &Message{Chat: &Chat{ID: 1}, From: &User{ID: 2, IsBot: true}, Text: "hi"}}
	if _, ok := ToEvent(u); ok {
		t.Fatalf("expected bot messages to be skipped")
	}
	if _, ok := ToEvent(Update{UpdateID: 2}); ok {
		t.Fatalf("expected empty update to be skipped")
	}
}

func TestTransportSendEncodesKeyboards(t *testing.T) {
	var reqs []SendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req SendMessageRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		reqs = append(reqs, req)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := NewTransport(NewClient(srv.Client(), srv.URL, "TOKEN"))
	ctx := context.Background()
	if err := tr.Send(ctx, app.Outgoing{ChatID: 1, Text: "menu", Reply: [][]string{{"Browse", "Cart"}}}); err != nil {
		t.Fatalf("send reply keyboard: %v", err)
	}
	if err := tr.Send(ctx, app.Outgoing{ChatID: 1, Text: "*book*", Markdown: true, Inline: [][]app.Button{{{Text: "Add to cart", Data: "add_to_cart:5"}}}}); err != nil {
		t.Fatalf("send inline keyboard: %v", err)
	}
	if err := tr.Send(ctx, app.Outgoing{ChatID: 1, Text: "bye", RemoveKeyboard: true}); err != nil {
		t.Fatalf("send remove keyboard: %v", err)
	}

	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}
	if kb := reqs[0].ReplyMarkup; kb == nil || len(kb.Keyboard) != 1 || kb.Keyboard[0][1].Text != "Cart" || !kb.ResizeKeyboard {
		t.Fatalf("unexpected reply keyboard: %+v", reqs[0].ReplyMarkup)
	}
	if reqs[1].ParseMode != "Markdown" || reqs[1].ReplyMarkup.InlineKeyboard[0][0].CallbackData != "add_to_cart:5" {
		t.Fatalf("unexpected inline message: %+v", reqs[1])
	}
	if !reqs[2].ReplyMarkup.RemoveKeyboard {
		t.Fatalf("expected remove keyboard markup")
	}
}

func TestTransportFallsBackToPlainText(t *testing.T) {
	var modes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		modes = append(modes, req.ParseMode)
		if len(modes) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: unclosed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := NewTransport(NewClient(srv.Client(), srv.URL, "TOKEN"))
	if err := tr.Send(context.Background(), app.Outgoing{ChatID: 1, Text: "*Half_baked", Markdown: true}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(modes) != 2 || modes[0] != "Markdown" || modes[1] != "" {
		t.Fatalf("unexpected parse modes: %v", modes)
	}
}

func TestRequestErrorSurfacesDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL, "TOKEN")
	err := client.AnswerCallbackQuery(context.Background(), "cb", "hi")
	if err == nil || !strings.Contains(err.Error(), "blocked by the user") {
		t.Fatalf("expected request error, got %v", err)
	}
	if IsMarkdownParseError(err) {
		t.Fatalf("blocked error is not a markdown error")
	}
}

func TestSendDocumentUploadsMultipartAndCleansUp(t *testing.T) {
	var gotChat, gotCaption, gotName, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendDocument") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		gotChat = r.FormValue("chat_id")
		gotCaption = r.FormValue("caption")
		file, header, err := r.FormFile("document")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		gotName = header.Filename
		raw, _ := io.ReadAll(file)
		gotBody = string(raw)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(path, []byte("ID,Role\n1,admin\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	tr := NewTransport(NewClient(srv.Client(), srv.URL, "TOKEN"))
	err := tr.SendDocument(context.Background(), 77, app.Document{Path: path, Caption: "Users", Temporary: true})
	if err != nil {
		t.Fatalf("send document: %v", err)
	}
	if gotChat != "77" || gotCaption != "Users" || gotName != "users.csv" || !strings.Contains(gotBody, "1,admin") {
		t.Fatalf("unexpected upload: chat=%q caption=%q name=%q body=%q", gotChat, gotCaption, gotName, gotBody)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected temporary document to be removed, stat err=%v", err)
	}
}

func TestIsPollTimeout(t *testing.T) {
	if !IsPollTimeout(context.DeadlineExceeded) {
		t.Fatalf("deadline should count as poll timeout")
	}
	if IsPollTimeout(&RequestError{StatusCode: 500}) {
		t.Fatalf("server error is not a poll timeout")
	}
}
