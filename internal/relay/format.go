package relay

import (
	"strconv"
	"strings"

	"relaybot/internal/storage"
	"relaybot/pkg/tgui"
)

func startText(name string) string {
	return tgui.JoinH("\n",
		tgui.B("Hi "+name+"!"),
		tgui.Esc("Post a special message with /new and you'll get an identifier others can use to comment on it."),
		tgui.Esc("See /help for the full command list."),
	).String()
}

func helpText() string {
	return tgui.JoinH("\n",
		tgui.B("Commands"),
		tgui.Esc("/new <text> — post a special message, get a shareable identifier"),
		tgui.Esc("/comment <id> <text> — comment on someone's message"),
		tgui.Esc("/view — list the messages you created"),
		tgui.Esc("/result <id> — read the comments on your message"),
		tgui.Esc("Inline: type @<botname> <id> in any chat to share a message by identifier."),
	).String()
}

func usageNew() string {
	return tgui.JoinH("\n",
		tgui.Esc("Your message text is missing."),
		tgui.Esc("Usage: /new <text>"),
	).String()
}

func usageComment() string {
	return tgui.JoinH("\n",
		tgui.Esc("I need an identifier and a comment."),
		tgui.Esc("Usage: /comment <id> <text>"),
	).String()
}

func usageResult() string {
	return tgui.JoinH("\n",
		tgui.Esc("I need exactly one identifier."),
		tgui.Esc("Usage: /result <id>"),
	).String()
}

func createdText(id, original string) string {
	return tgui.JoinH("\n",
		tgui.B("Saved."),
		tgui.JoinH(" ", tgui.Esc("Identifier:"), tgui.Code(id)),
		tgui.Quote(original),
		tgui.Esc("Anyone can reply with /comment "+id+" <text>."),
	).String()
}

func commentSavedText(id, body string) string {
	return tgui.JoinH("\n",
		tgui.JoinH(" ", tgui.Esc("Comment added to"), tgui.Code(id), tgui.Esc(":")),
		tgui.Quote(body),
	).String()
}

func invalidIdentifierText() string {
	return tgui.Esc("That identifier doesn't match any message. Double-check it and try again.").String()
}

func notFoundOrNotYoursText() string {
	return tgui.Esc("No results: that identifier doesn't exist or the message isn't yours.").String()
}

func nothingYetText() string {
	return tgui.Esc("You haven't posted anything yet. Start with /new <text>.").String()
}

func listText(list []storage.MessageSummary) string {
	parts := make([]tgui.H, 0, len(list)+1)
	parts = append(parts, tgui.B("Your messages"))
	for _, m := range list {
		parts = append(parts, tgui.JoinH("\n", tgui.Code(m.UniqueID), tgui.Esc(m.Original)))
	}
	return tgui.JoinH("\n\n", parts...).String()
}

func noCommentsYetText(th *storage.Thread) string {
	return tgui.JoinH("\n",
		tgui.JoinH(" ", tgui.Code(th.UniqueID), tgui.Esc("has no comments yet.")),
		tgui.Quote(th.Original),
	).String()
}

func threadText(th *storage.Thread) string {
	parts := make([]tgui.H, 0, len(th.Comments)+2)
	parts = append(parts, tgui.JoinH(" ", tgui.B("Comments on"), tgui.Code(th.UniqueID)))
	parts = append(parts, tgui.Quote(th.Original))
	for _, c := range th.Comments {
		parts = append(parts, tgui.Esc("– "+c.Body))
	}
	return tgui.JoinH("\n", parts...).String()
}

func statsText(counts []storage.CommandCount) string {
	if len(counts) == 0 {
		return tgui.Esc("No commands handled yet.").String()
	}
	parts := make([]tgui.H, 0, len(counts)+1)
	parts = append(parts, tgui.B("Command usage"))
	for _, c := range counts {
		parts = append(parts, tgui.Esc(c.Command+": "+strconv.FormatInt(c.Count, 10)))
	}
	return tgui.JoinH("\n", parts...).String()
}

func notAllowedText() string {
	return tgui.Esc("Sorry, that command is reserved for the bot operator.").String()
}

func storeUnavailableText() string {
	return tgui.Esc("Storage hiccup — nothing was saved. Please try again in a moment.").String()
}

func genericFailureText() string {
	return tgui.Esc("Something went wrong on our side. Please try again.").String()
}

func fallbackText() string {
	return tgui.Esc("I only speak in commands. Try /new <text> to post something, or /help.").String()
}

func replyHintText(id string) string {
	return tgui.JoinH("\n",
		tgui.Esc("To comment on this message, send:"),
		tgui.Code("/comment "+id+" your text"),
	).String()
}

// sharedMessageText is sent verbatim when an inline result is picked, so it
// stays plain text (inline answers carry no parse mode here).
func sharedMessageText(m storage.MessageSummary) string {
	return "Message " + m.UniqueID + ":\n" +
		m.Original + "\n\n" +
		"Comment with /comment " + m.UniqueID + " <text>."
}

// snippet trims s to at most n runes for list/search previews.
func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
