// Package events follows the analysis engine's progress stream: a
// JSONL file appended to as functions reach new representation depths.
// Records are forwarded as discrete values; malformed lines are skipped.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nxadm/tail"
)

// Progress is one analysis-progress record. State transitions for a
// function/kind pair arrive in order, but the function may no longer be
// the one on screen; consumers identity-check before applying.
type Progress struct {
	FuncAddr uint64 `json:"funcAddr"`
	Kind     string `json:"ilKind"`
	State    string `json:"state"` // queued | running | done
}

// Stream follows one event file.
type Stream struct {
	t   *tail.Tail
	out chan Progress
}

// Follow starts tailing path. The file does not need to exist yet;
// tailing survives rotation.
func Follow(path string) (*Stream, error) {
	t, err := tail.TailFile(path, tail.Config{
		Follow: true,
		ReOpen: true,
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("follow events: %w", err)
	}

	s := &Stream{t: t, out: make(chan Progress, 16)}
	go s.run()
	return s, nil
}

func (s *Stream) run() {
	defer close(s.out)
	for line := range s.t.Lines {
		if line.Err != nil {
			slog.Warn("event stream read error", "error", line.Err)
			continue
		}
		var p Progress
		if err := json.Unmarshal([]byte(line.Text), &p); err != nil {
			slog.Debug("skipping malformed event line", "error", err)
			continue
		}
		s.out <- p
	}
}

// Events is the channel of decoded records. It closes when the stream
// is stopped or the underlying tail ends.
func (s *Stream) Events() <-chan Progress {
	return s.out
}

// Stop ends the tail and releases the file.
func (s *Stream) Stop() error {
	return s.t.Stop()
}
