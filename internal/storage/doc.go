// Package storage is the durable core of the relay: special messages, their
// append-only comment threads, and per-command usage counters, all in one
// SQLite database.
//
// Comments are discrete child rows keyed by the message, not a concatenated
// text field, so segments can never collide with a display separator and
// retrieval stays structured.
package storage
