// Package history maintains the bounded rolling conversation window used for
// prompt continuity. The window deliberately trades long-term memory for
// predictable prompt size and latency.
package history

import "github.com/ecpmlab/advisor/backend/internal/model/chat"

// DefaultWindow is the number of retained entries (5 exchanges).
const DefaultWindow = 10

// Append adds both turns of an exchange to the history and truncates from the
// front so at most window entries remain, oldest evicted first. The input
// slice is never mutated.
func Append(entries []chat.HistoryEntry, userTurn, assistantTurn chat.HistoryEntry, window int) []chat.HistoryEntry {
	if window <= 0 {
		window = DefaultWindow
	}

	updated := make([]chat.HistoryEntry, 0, len(entries)+2)
	updated = append(updated, entries...)
	updated = append(updated, userTurn, assistantTurn)

	return Truncate(updated, window)
}

// Truncate keeps the window most recent entries.
func Truncate(entries []chat.HistoryEntry, window int) []chat.HistoryEntry {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(entries) <= window {
		return entries
	}
	return entries[len(entries)-window:]
}
