package relay

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// MessageStore is the slice of the storage API the router depends on.
type MessageStore interface {
	CreateMessage(ctx context.Context, uniqueID, text string, ownerID int64) error
	AppendComment(ctx context.Context, uniqueID string, authorID int64, body string) (string, []storage.Comment, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]storage.MessageSummary, error)
	GetThreadForOwner(ctx context.Context, uniqueID string, ownerID int64) (*storage.Thread, error)
	FindPublic(ctx context.Context, uniqueID string) (storage.MessageSummary, bool, error)
}

// UsageCounter tracks per-command invocation counts. Increments are a side
// effect of dispatch and must never fail the primary response.
type UsageCounter interface {
	IncrementCommand(ctx context.Context, name string) error
	CommandCounts(ctx context.Context) ([]storage.CommandCount, error)
}

const handlerTimeout = 30 * time.Second

// newReqID tags one dispatched update's log lines. Short prefix of a v4
// UUID is plenty: ids only need to be unique within a log window.
func newReqID() string {
	return uuid.NewString()[:8]
}

// Router maps transport updates to store operations and shapes replies.
// It holds no persistent state of its own.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	store   MessageStore
	counter UsageCounter
	newID   IdentifierFunc

	mu     sync.RWMutex
	owners []int64

	jobs chan func()
}

func NewRouter(log logx.Logger, adapter kit.Adapter, store MessageStore, counter UsageCounter, owners []int64) *Router {
	return &Router{
		log:     log,
		adapter: adapter,
		store:   store,
		counter: counter,
		newID:   DeriveIdentifier,
		owners:  append([]int64(nil), owners...),
		jobs:    make(chan func(), 256),
	}
}

// SetIdentifierFunc replaces the identifier derivation scheme.
// Only used by tests and by hypothetical alternative transports.
func (r *Router) SetIdentifierFunc(fn IdentifierFunc) {
	if fn != nil {
		r.newID = fn
	}
}

// SetOwners updates the operator list. Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.owners {
		if id == userID {
			return true
		}
	}
	return false
}

// DispatchLoop consumes updates until ctx is canceled, handling them on a
// bounded worker pool so one slow store call cannot stall the poll loop.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() { closeOnce.Do(func() { close(r.jobs) }) }

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("panic in dispatch worker", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) enqueue(ctx context.Context, up kit.Update) {
	job := func() {
		hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()
		r.route(hctx, up)
	}
	select {
	case r.jobs <- job:
	default:
		r.log.Warn("dispatch queue full; update dropped", logx.String("kind", string(up.Kind)))
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up.Callback)
		}
	case kit.UpdateQuery:
		if up.Query != nil {
			r.routeQuery(ctx, up.Query)
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	log := r.log.With(logx.String("req", newReqID()), logx.Int64("from", msg.FromID))

	if !strings.HasPrefix(text, "/") {
		r.count("text")
		r.handleFallback(ctx, log, msg)
		return
	}

	word, rest := splitCommand(text)
	switch word {
	case "start":
		r.count("start")
		r.handleStart(ctx, log, msg)
	case "help":
		r.count("help")
		r.handleHelp(ctx, log, msg)
	case "new":
		r.count("new")
		r.handleNew(ctx, log, msg, rest)
	case "comment":
		r.count("comment")
		r.handleComment(ctx, log, msg, rest)
	case "view":
		r.count("view")
		r.handleView(ctx, log, msg)
	case "result":
		r.count("result")
		r.handleResult(ctx, log, msg, rest)
	case "stats":
		r.count("stats")
		r.handleStats(ctx, log, msg)
	default:
		// Unknown slash command gets the same stylized brush-off as free text.
		r.count("text")
		r.handleFallback(ctx, log, msg)
	}
}

// splitCommand separates "/cmd@botname rest of line" into ("cmd", "rest of line").
// The remainder keeps its internal whitespace; only edges are trimmed.
func splitCommand(text string) (string, string) {
	word := text
	rest := ""
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		word, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), rest
}

// count bumps the usage counter for a handled command. Fire-and-forget:
// a failing counter is logged and never blocks or fails the reply.
func (r *Router) count(name string) {
	if r.counter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.counter.IncrementCommand(ctx, name); err != nil {
			r.log.Warn("usage counter increment failed", logx.String("command", name), logx.Err(err))
		}
	}()
}

func (r *Router) reply(ctx context.Context, log logx.Logger, msg *kit.Message, text string, opt *kit.SendOptions) {
	if opt == nil {
		opt = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	}
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := r.adapter.SendText(ctx, to, text, opt); err != nil {
		log.Warn("reply failed", logx.Err(err))
	}
}
