package transcript

import "testing"

func TestLines(t *testing.T) {
	entries := []Entry{
		{Role: RoleAgent, Text: "Tell me about your last project."},
		{Role: RoleUser, Text: "I led the migration to the new billing system."},
	}
	lines := Lines(entries)
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if lines[0] != "agent: Tell me about your last project." {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
}

func TestTail(t *testing.T) {
	entries := []Entry{
		{Role: RoleAgent, Text: "a"},
		{Role: RoleUser, Text: "b"},
		{Role: RoleAgent, Text: "c"},
	}
	tail := Tail(entries, 2)
	if len(tail) != 2 || tail[0].Text != "b" || tail[1].Text != "c" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
	if got := Tail(entries, 0); len(got) != 3 {
		t.Fatalf("Tail(0) should return all entries, got %d", len(got))
	}
}

func TestWordCount(t *testing.T) {
	entries := []Entry{
		{Role: RoleAgent, Text: "one two three"},
		{Role: RoleUser, Text: "four"},
	}
	if n := WordCount(entries); n != 4 {
		t.Fatalf("WordCount = %d, want 4", n)
	}
}
