package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/themeagent/internal/events"
)

// maxLineBytes bounds one JSONL line.
const maxLineBytes = 8 << 20

// WriteJSONL writes one event per line.
func WriteJSONL(w io.Writer, evs []events.Event) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, e := range evs {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("write event %d: %w", e.Seq, err)
		}
	}
	return nil
}

// ReadJSONL reads events written by WriteJSONL. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]events.Event, error) {
	var out []events.Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e events.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}
