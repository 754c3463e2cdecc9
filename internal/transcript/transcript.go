package transcript

import (
	"fmt"
	"strings"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// Entry is a single utterance captured during a live session.
// Entries are immutable once appended; insertion order is conversational order.
type Entry struct {
	Role        Role    `json:"role"`
	Text        string  `json:"text"`
	ElapsedTime float64 `json:"elapsed_time"`
}

// Lines renders entries as "role: text" prompt lines in conversational order.
func Lines(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%s: %s", e.Role, e.Text))
	}
	return out
}

// Tail returns up to limit of the most recent entries.
func Tail(entries []Entry, limit int) []Entry {
	if limit <= 0 || limit >= len(entries) {
		return entries
	}
	return entries[len(entries)-limit:]
}

// WordCount counts whitespace-separated tokens across all entries.
func WordCount(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += len(strings.Fields(e.Text))
	}
	return n
}
