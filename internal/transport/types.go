// Package transport holds chat-platform neutral types shared by the adapter,
// the chat router and the logging sink.
package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	// UpdateText is free text typed by the user. Only these reach the
	// response matcher.
	UpdateText UpdateKind = "text"
	// UpdateCommand is a "/command args" message.
	UpdateCommand UpdateKind = "command"
	// UpdateButton is a reply-keyboard button press. The adapter tells it
	// apart from free text before anything else sees the message.
	UpdateButton UpdateKind = "button"
	// UpdateCallback is an inline keyboard press.
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// FullName joins first and last name the way Telegram clients display it.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

type Message struct {
	ID     int
	ChatID int64
	From   User
	Text   string

	// Command and Args are set for UpdateCommand ("/export_user 42" -> "export_user", "42").
	Command string
	Args    string
	// Button is the stable button key for UpdateButton.
	Button string
}

type Callback struct {
	ID        string
	From      User
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is a reply-keyboard button: Key is what the router sees, Label is
// what the user sees.
type Button struct {
	Key   string
	Label string
}

type InlineButton struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// MainMenu attaches the persistent reply keyboard built from the
	// adapter's configured buttons.
	MainMenu bool
	// Inline is an inline keyboard, one slice per row.
	Inline [][]InlineButton
}

type Document struct {
	FileName string
	Caption  string
	Body     io.Reader
}

// Sender is the outbound half of an adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendDocument(ctx context.Context, to ChatTarget, doc Document) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
