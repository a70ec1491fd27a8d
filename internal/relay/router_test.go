package relay

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type sentMsg struct {
	To   kit.ChatTarget
	Text string
	Opt  *kit.SendOptions
}

type answeredQuery struct {
	ID      string
	Results []kit.QueryResult
}

// fakeAdapter records outbound traffic instead of talking to Telegram.
type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentMsg
	queries []answeredQuery
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{To: to, Text: text, Opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (f *fakeAdapter) AnswerQuery(ctx context.Context, queryID string, results []kit.QueryResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, answeredQuery{ID: queryID, Results: results})
	return nil
}

func (f *fakeAdapter) lastSent(t *testing.T) sentMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestRouter(t *testing.T, owners ...int64) (*Router, *fakeAdapter, *storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ad := &fakeAdapter{}
	return NewRouter(logx.Nop(), ad, st, st, owners), ad, st
}

func textMsg(chatID int64, msgID int, fromID int64, text string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:     msgID,
			ChatID: chatID,
			FromID: fromID,
			Text:   text,
		},
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		word     string
		rest     string
	}{
		{"/new hello world", "new", "hello world"},
		{"/comment@relay_bot 1-2 hi  there", "comment", "1-2 hi  there"},
		{"/view", "view", ""},
		{"/RESULT 5-1", "result", "5-1"},
		{"/help@relay_bot", "help", ""},
	}
	for _, tt := range tests {
		word, rest := splitCommand(tt.in)
		if word != tt.word || rest != tt.rest {
			t.Fatalf("splitCommand(%q) = (%q, %q), want (%q, %q)", tt.in, word, rest, tt.word, tt.rest)
		}
	}
}

func TestDeriveIdentifier(t *testing.T) {
	t.Parallel()
	if got := DeriveIdentifier(-100123, 45); got != "-100123-45" {
		t.Fatalf("DeriveIdentifier = %q", got)
	}
	seen := map[string]bool{}
	for chat := int64(1); chat <= 5; chat++ {
		for seq := 1; seq <= 5; seq++ {
			id := DeriveIdentifier(chat, seq)
			if seen[id] {
				t.Fatalf("identifier collision for (%d,%d): %s", chat, seq, id)
			}
			seen[id] = true
		}
	}
}

func TestCreateFlow(t *testing.T) {
	r, ad, st := newTestRouter(t)
	ctx := context.Background()

	// Empty text after the command is a usage error, not a store call.
	r.route(ctx, textMsg(100, 1, 7, "/new   "))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "Usage: /new") {
		t.Fatalf("expected usage reply, got %q", got)
	}
	if list, _ := st.ListByOwner(ctx, 7); len(list) != 0 {
		t.Fatal("usage error must not create a message")
	}

	r.route(ctx, textMsg(100, 2, 7, "/new Hello world"))
	reply := ad.lastSent(t)
	if !strings.Contains(reply.Text, "100-2") {
		t.Fatalf("reply should carry the identifier, got %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "Hello world") {
		t.Fatalf("reply should echo the original text, got %q", reply.Text)
	}
	if reply.Opt == nil || reply.Opt.ReplyMarkup == nil {
		t.Fatal("create reply should carry inline buttons")
	}

	m, ok, err := st.FindPublic(ctx, "100-2")
	if err != nil || !ok {
		t.Fatalf("created message not stored: ok=%v err=%v", ok, err)
	}
	if m.Original != "Hello world" {
		t.Fatalf("stored original = %q", m.Original)
	}
}

func TestCommentFlow(t *testing.T) {
	r, ad, st := newTestRouter(t)
	ctx := context.Background()

	r.route(ctx, textMsg(100, 1, 7, "/new Hello world"))

	// Fewer than two tokens: usage error, no store touch.
	r.route(ctx, textMsg(200, 2, 8, "/comment 100-1"))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "Usage: /comment") {
		t.Fatalf("expected usage reply, got %q", got)
	}

	// Unknown identifier.
	r.route(ctx, textMsg(200, 3, 8, "/comment nope-1 nice!"))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "Double-check") {
		t.Fatalf("expected invalid-identifier reply, got %q", got)
	}

	// Well-formed: body keeps internal whitespace, confirmation echoes only
	// the new comment.
	r.route(ctx, textMsg(200, 4, 8, "/comment 100-1 very  nice   indeed"))
	got := ad.lastSent(t).Text
	if !strings.Contains(got, "very  nice   indeed") {
		t.Fatalf("expected new comment echoed, got %q", got)
	}
	if strings.Contains(got, "Hello world") {
		t.Fatalf("confirmation must not include the thread, got %q", got)
	}

	th, err := st.GetThreadForOwner(ctx, "100-1", 7)
	if err != nil {
		t.Fatalf("GetThreadForOwner: %v", err)
	}
	if len(th.Comments) != 1 || th.Comments[0].Body != "very  nice   indeed" {
		t.Fatalf("stored comments: %+v", th.Comments)
	}
}

func TestViewFlow(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.route(ctx, textMsg(300, 1, 9, "/view"))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "posted anything yet") {
		t.Fatalf("expected nothing-yet reply, got %q", got)
	}

	r.route(ctx, textMsg(300, 2, 9, "/new first"))
	r.route(ctx, textMsg(300, 3, 9, "/new second"))
	r.route(ctx, textMsg(300, 4, 9, "/view"))
	got := ad.lastSent(t).Text
	for _, want := range []string{"300-2", "first", "300-3", "second"} {
		if !strings.Contains(got, want) {
			t.Fatalf("listing missing %q: %q", want, got)
		}
	}
	if strings.Index(got, "300-2") > strings.Index(got, "300-3") {
		t.Fatalf("listing not in creation order: %q", got)
	}
}

func TestResultFlow(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.route(ctx, textMsg(400, 1, 10, "/new Hello world"))

	// Wrong argument count.
	r.route(ctx, textMsg(400, 2, 10, "/result"))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "Usage: /result") {
		t.Fatalf("expected usage reply, got %q", got)
	}
	r.route(ctx, textMsg(400, 3, 10, "/result 400-1 extra"))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "Usage: /result") {
		t.Fatalf("expected usage reply for extra arg, got %q", got)
	}

	// Found, no comments yet: distinct explicit reply.
	r.route(ctx, textMsg(400, 4, 10, "/result 400-1"))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "no comments yet") {
		t.Fatalf("expected no-comments reply, got %q", got)
	}

	r.route(ctx, textMsg(500, 5, 11, "/comment 400-1 nice!"))
	r.route(ctx, textMsg(500, 6, 12, "/comment 400-1 agreed"))

	r.route(ctx, textMsg(400, 7, 10, "/result 400-1"))
	got := ad.lastSent(t).Text
	if !strings.Contains(got, "nice!") || !strings.Contains(got, "agreed") {
		t.Fatalf("thread missing comments: %q", got)
	}
	if !strings.Contains(got, "Hello world") {
		t.Fatalf("thread missing original: %q", got)
	}
}

func TestResultOwnershipHiding(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.route(ctx, textMsg(600, 1, 20, "/new secret plans"))

	// A stranger probing an existing id and a missing id must see the
	// exact same reply.
	r.route(ctx, textMsg(700, 2, 21, "/result 600-1"))
	foreign := ad.lastSent(t).Text
	r.route(ctx, textMsg(700, 3, 21, "/result does-not-exist"))
	missing := ad.lastSent(t).Text
	if foreign != missing {
		t.Fatalf("replies differ:\nforeign: %q\nmissing: %q", foreign, missing)
	}
	if strings.Contains(foreign, "secret plans") {
		t.Fatalf("reply leaked message content: %q", foreign)
	}
}

func TestInlineLookup(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.route(ctx, textMsg(800, 1, 30, "/new look me up"))

	r.route(ctx, kit.Update{Kind: kit.UpdateQuery, Query: &kit.Query{ID: "q1", FromID: 31, Text: "800-1"}})
	r.route(ctx, kit.Update{Kind: kit.UpdateQuery, Query: &kit.Query{ID: "q2", FromID: 31, Text: "absent"}})
	r.route(ctx, kit.Update{Kind: kit.UpdateQuery, Query: &kit.Query{ID: "q3", FromID: 31, Text: "  "}})

	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.queries) != 3 {
		t.Fatalf("expected all queries answered, got %d", len(ad.queries))
	}
	if len(ad.queries[0].Results) != 1 {
		t.Fatalf("exact match should return one result, got %d", len(ad.queries[0].Results))
	}
	if got := ad.queries[0].Results[0].Text; !strings.Contains(got, "look me up") {
		t.Fatalf("result text missing original: %q", got)
	}
	// Absence and blank input are empty answers, never errors.
	if len(ad.queries[1].Results) != 0 || len(ad.queries[2].Results) != 0 {
		t.Fatalf("expected empty results: %+v", ad.queries[1:])
	}
}

func TestStatsOwnerOnly(t *testing.T) {
	r, ad, st := newTestRouter(t, 50)
	ctx := context.Background()

	r.route(ctx, textMsg(900, 1, 51, "/stats"))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "reserved") {
		t.Fatalf("expected not-allowed reply, got %q", got)
	}

	if err := st.IncrementCommand(ctx, "new"); err != nil {
		t.Fatalf("IncrementCommand: %v", err)
	}
	r.route(ctx, textMsg(900, 2, 50, "/stats"))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "new: 1") {
		t.Fatalf("expected usage report, got %q", got)
	}
}

func TestFallback(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.route(ctx, textMsg(1000, 1, 60, "just chatting"))
	if got := ad.lastSent(t).Text; !strings.Contains(got, "/help") {
		t.Fatalf("expected stylized acknowledgment, got %q", got)
	}

	// Group chatter is ignored entirely.
	before := ad.sentCount()
	r.route(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 2, ChatID: 1000, FromID: 60, Text: "group chatter", IsGroup: true,
	}})
	if ad.sentCount() != before {
		t.Fatal("group free text should not be answered")
	}
}

func TestReplyButtonCallback(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.route(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", FromID: 70, ChatID: 1100, MessageID: 5, Data: "relay:reply:1100-4",
	}})
	if got := ad.lastSent(t).Text; !strings.Contains(got, "/comment 1100-4") {
		t.Fatalf("expected reply hint with identifier, got %q", got)
	}
}
