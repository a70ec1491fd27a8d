// Package tgui holds small Telegram UI helpers: safe HTML composition,
// inline keyboard building, and callback-data packing.
package tgui
