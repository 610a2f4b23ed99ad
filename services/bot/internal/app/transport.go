package app

import "context"

// EventKind distinguishes text input from inline-button presses.
type EventKind int

const (
	EventMessage EventKind = iota + 1
	EventCallback
)

// Event is one inbound chat interaction, already decoded from the wire.
type Event struct {
	Kind     EventKind
	UpdateID int64
	ChatID   int64
	// UserID is the chat platform's account id of the sender.
	UserID    int64
	FirstName string
	LastName  string
	Username  string

	Text string

	CallbackID string
	Data       string
}

// Button is an inline action carrying an opaque callback token.
type Button struct {
	Text string
	Data string
}

// Outgoing is a message to a chat. At most one of Reply, Inline or
// RemoveKeyboard is honored, in that order.
type Outgoing struct {
	ChatID         int64
	Text           string
	Markdown       bool
	Reply          [][]string
	Inline         [][]Button
	RemoveKeyboard bool
}

// Document is a file delivered to a chat.
type Document struct {
	Path    string
	Name    string
	Caption string
	// Temporary documents are removed from disk after delivery.
	Temporary bool
}

// Transport sends replies back to the chat platform.
type Transport interface {
	Send(ctx context.Context, msg Outgoing) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendDocument(ctx context.Context, chatID int64, doc Document) error
}
