package scheduler

import "sync"

// logTail keeps the most recent lines written by ffmpeg
type logTail struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newLogTail(size int) *logTail {
	if size < 1 {
		size = 1
	}
	return &logTail{lines: make([]string, size)}
}

func (t *logTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// snapshot returns the retained lines oldest first
func (t *logTail) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}
