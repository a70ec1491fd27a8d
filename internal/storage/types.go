package storage

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateID is returned by CreateMessage when the unique identifier
	// already exists. Identifier derivation makes this structurally
	// unreachable; seeing it in the wild is a defect worth logging.
	ErrDuplicateID = errors.New("duplicate message identifier")

	// ErrNotFound is returned when no message matches a lookup. Owner-scoped
	// lookups return it both for missing identifiers and for identifiers
	// owned by someone else, on purpose: a non-owner must not be able to
	// probe whether an identifier exists.
	ErrNotFound = errors.New("message not found")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// MessageSummary is the list/search projection of a special message.
type MessageSummary struct {
	UniqueID  string
	Original  string
	CreatedAt time.Time
}

// Comment is one appended comment segment.
type Comment struct {
	AuthorID  int64
	Body      string
	CreatedAt time.Time
}

// Thread is a message together with its accumulated comments,
// in append order.
type Thread struct {
	UniqueID string
	OwnerID  int64
	Original string
	Comments []Comment
}

// CommandCount is one usage-counter row.
type CommandCount struct {
	Command string
	Count   int64
}
