package relay

import (
	"context"
	"errors"
	"strings"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

func (r *Router) handleStart(ctx context.Context, log logx.Logger, msg *kit.Message) {
	name := strings.TrimSpace(msg.FromUsername)
	if name == "" {
		name = "there"
	}
	r.reply(ctx, log, msg, startText(name), nil)
}

func (r *Router) handleHelp(ctx context.Context, log logx.Logger, msg *kit.Message) {
	r.reply(ctx, log, msg, helpText(), nil)
}

func (r *Router) handleNew(ctx context.Context, log logx.Logger, msg *kit.Message, rest string) {
	text := strings.TrimSpace(rest)
	if text == "" {
		r.reply(ctx, log, msg, usageNew(), nil)
		return
	}

	id := r.newID(msg.ChatID, msg.ID)
	err := r.store.CreateMessage(ctx, id, text, msg.FromID)
	switch {
	case errors.Is(err, storage.ErrDuplicateID):
		// Derivation makes this unreachable; if it fires, the origin
		// coordinates were reused and that is a defect, not user error.
		log.Error("identifier collision on create", logx.String("id", id))
		r.reply(ctx, log, msg, genericFailureText(), nil)
		return
	case err != nil:
		log.Error("create failed", logx.String("id", id), logx.Err(err))
		r.reply(ctx, log, msg, storeUnavailableText(), nil)
		return
	}

	log.Info("message created", logx.String("id", id))

	markup := tgui.NewInline().
		Row(tgui.Btn("How to reply", tgui.Data("relay", "reply", id))).
		Row(tgui.ShareBtn("Share this identifier", id)).
		Markup()
	r.reply(ctx, log, msg, createdText(id, text), &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyTo:        msg.ID,
		ReplyMarkup:    markup,
	})
}

func (r *Router) handleComment(ctx context.Context, log logx.Logger, msg *kit.Message, rest string) {
	// First whitespace-delimited token is the identifier; everything after
	// it is the comment body with internal whitespace preserved.
	id, body := "", ""
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		id, body = rest[:i], strings.TrimSpace(rest[i+1:])
	}
	if id == "" || body == "" {
		r.reply(ctx, log, msg, usageComment(), nil)
		return
	}

	_, _, err := r.store.AppendComment(ctx, id, msg.FromID, body)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.reply(ctx, log, msg, invalidIdentifierText(), nil)
		return
	case err != nil:
		log.Error("append failed", logx.String("id", id), logx.Err(err))
		r.reply(ctx, log, msg, storeUnavailableText(), nil)
		return
	}

	log.Info("comment appended", logx.String("id", id))
	// Confirm with only the newly added comment, not the whole thread.
	r.reply(ctx, log, msg, commentSavedText(id, body), nil)
}

func (r *Router) handleView(ctx context.Context, log logx.Logger, msg *kit.Message) {
	list, err := r.store.ListByOwner(ctx, msg.FromID)
	if err != nil {
		log.Error("list failed", logx.Err(err))
		r.reply(ctx, log, msg, storeUnavailableText(), nil)
		return
	}
	if len(list) == 0 {
		r.reply(ctx, log, msg, nothingYetText(), nil)
		return
	}
	r.reply(ctx, log, msg, listText(list), nil)
}

func (r *Router) handleResult(ctx context.Context, log logx.Logger, msg *kit.Message, rest string) {
	args := strings.Fields(rest)
	if len(args) != 1 {
		r.reply(ctx, log, msg, usageResult(), nil)
		return
	}

	th, err := r.store.GetThreadForOwner(ctx, args[0], msg.FromID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// One undifferentiated reply for "no such identifier" and "not
		// yours": a non-owner must not learn whether the id exists.
		r.reply(ctx, log, msg, notFoundOrNotYoursText(), nil)
		return
	case err != nil:
		log.Error("result failed", logx.String("id", args[0]), logx.Err(err))
		r.reply(ctx, log, msg, storeUnavailableText(), nil)
		return
	}

	if len(th.Comments) == 0 {
		r.reply(ctx, log, msg, noCommentsYetText(th), nil)
		return
	}
	r.reply(ctx, log, msg, threadText(th), nil)
}

func (r *Router) handleStats(ctx context.Context, log logx.Logger, msg *kit.Message) {
	if !r.isOwner(msg.FromID) {
		r.reply(ctx, log, msg, notAllowedText(), nil)
		return
	}
	counts, err := r.counter.CommandCounts(ctx)
	if err != nil {
		log.Error("stats failed", logx.Err(err))
		r.reply(ctx, log, msg, storeUnavailableText(), nil)
		return
	}
	r.reply(ctx, log, msg, statsText(counts), nil)
}

func (r *Router) handleFallback(ctx context.Context, log logx.Logger, msg *kit.Message) {
	// Groups are full of chatter that isn't for us; only nudge in private chats.
	if msg.IsGroup {
		return
	}
	r.reply(ctx, log, msg, fallbackText(), nil)
}

func (r *Router) routeCallback(ctx context.Context, cb *kit.Callback) {
	log := r.log.With(logx.String("req", newReqID()), logx.Int64("from", cb.FromID))

	scope, action, payload := tgui.ParseData(cb.Data)
	if scope != "relay" {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	switch action {
	case "reply":
		r.count("reply_button")
		if err := r.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
			log.Debug("callback answer failed", logx.Err(err))
		}
		to := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
		if _, err := r.adapter.SendText(ctx, to, replyHintText(payload), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
			log.Warn("reply hint failed", logx.Err(err))
		}
	default:
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}
}

// routeQuery answers inline identifier lookups: exact match only, zero or
// one result, and absence is answered with an empty set rather than an error.
func (r *Router) routeQuery(ctx context.Context, q *kit.Query) {
	log := r.log.With(logx.String("req", newReqID()), logx.Int64("from", q.FromID))

	var results []kit.QueryResult
	raw := strings.TrimSpace(q.Text)
	if raw != "" {
		m, ok, err := r.store.FindPublic(ctx, raw)
		if err != nil {
			// Lookup errors degrade to an empty answer; the client retries
			// on the next keystroke anyway.
			log.Warn("lookup failed", logx.String("query", raw), logx.Err(err))
		} else if ok {
			r.count("lookup")
			results = append(results, kit.QueryResult{
				ID:          m.UniqueID,
				Title:       "Message " + m.UniqueID,
				Description: snippet(m.Original, 60),
				Text:        sharedMessageText(m),
			})
		}
	}

	if err := r.adapter.AnswerQuery(ctx, q.ID, results); err != nil {
		log.Debug("query answer failed", logx.Err(err))
	}
}
