package dap

import (
	"sync"

	"github.com/ctagard/debug-bridge/pkg/types"
)

// DefaultEventBacklog is the number of events kept when none is configured
const DefaultEventBacklog = 64

// eventLog is a bounded ring of recent events. The oldest entry is dropped
// when it is full.
type eventLog struct {
	mu    sync.Mutex
	buf   []types.EventRecord
	next  int
	count int
}

func newEventLog(size int) *eventLog {
	if size <= 0 {
		size = DefaultEventBacklog
	}
	return &eventLog{buf: make([]types.EventRecord, size)}
}

func (l *eventLog) add(rec types.EventRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = rec
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

// snapshot returns the events oldest first
func (l *eventLog) snapshot() []types.EventRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.EventRecord, 0, l.count)
	start := (l.next - l.count + len(l.buf)) % len(l.buf)
	for i := 0; i < l.count; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.buf)
	l.next = 0
	l.count = 0
}
