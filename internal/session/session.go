// Package session persists the viewer's navigation state between runs:
// both panes' history stacks and the sync toggles, as a JSON document.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"reflectview/internal/history"
)

// PaneState is the serialized history of one pane.
type PaneState struct {
	Entries []history.Record `json:"entries" jsonschema:"title=History Entries,description=Back/forward stack entries oldest first"`
	Cursor  int              `json:"cursor" jsonschema:"title=Cursor,description=Index of the current entry"`
}

// File is the on-disk session document. Unknown fields in a loaded
// document are ignored; malformed history entries are dropped one by
// one rather than failing the load.
type File struct {
	Binary       string    `json:"binary" jsonschema:"title=Binary,description=Path of the binary this session belongs to"`
	Source       PaneState `json:"source" jsonschema:"title=Source Pane"`
	Target       PaneState `json:"target" jsonschema:"title=Target Pane"`
	ILSync       bool      `json:"ilSync" jsonschema:"title=IL Sync,description=IL-kind propagation enabled"`
	LocationSync bool      `json:"locationSync" jsonschema:"title=Location Sync,description=Location propagation enabled"`
	Override     bool      `json:"override" jsonschema:"title=Override,description=Manual target mapping in effect"`
}

// FromStack captures a stack into its serialized pane state.
func FromStack(s *history.Stack) PaneState {
	entries := s.Entries()
	records := make([]history.Record, len(entries))
	for i, e := range entries {
		records[i] = history.Encode(e)
	}
	return PaneState{Entries: records, Cursor: s.Cursor()}
}

// Restore rebuilds a stack, logging how many entries were dropped.
func (p PaneState) Restore() *history.Stack {
	stack, dropped := history.LoadStack(p.Entries, p.Cursor)
	if dropped > 0 {
		slog.Warn("dropped malformed history entries", "count", dropped)
	}
	return stack
}

// Save writes the session document.
func Save(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Load reads a session document. A missing file is not an error; the
// zero File is returned with ok=false.
func Load(path string) (File, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, false, nil
		}
		return File{}, false, fmt.Errorf("read session: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, false, fmt.Errorf("decode session: %w", err)
	}
	return f, true, nil
}
