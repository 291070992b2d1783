package sandbox

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
)

// ParsePayload scans stdout from the last line backwards and returns the
// first line that decodes as a JSON object. When there is none, the raw
// output is passed through as {data: [], raw_output}.
func ParsePayload(stdout string) map[string]any {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err == nil {
			return payload
		}
	}
	return map[string]any{"data": []any{}, "raw_output": stdout}
}

// cappedBuffer keeps the first max bytes written to it and silently drops
// the rest, so a chatty program cannot exhaust memory.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
