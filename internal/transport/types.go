package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateQuery    UpdateKind = "query"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
	Query    *Query
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// Query is an inline-mode lookup typed by any user ("@bot <text>").
// The raw text is matched against stored identifiers by the router.
type Query struct {
	ID     string
	FromID int64
	Text   string
}

// QueryResult is one answer entry for an inline lookup.
// Empty result sets are a normal outcome and must still be answered.
type QueryResult struct {
	ID          string
	Title       string
	Description string
	Text        string // message sent when the user picks this result
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int // message id to reply to (0 = plain send)
	ReplyMarkup    any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	AnswerQuery(ctx context.Context, queryID string, results []QueryResult) error
}
