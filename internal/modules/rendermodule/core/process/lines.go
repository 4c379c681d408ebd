package process

import (
	"bytes"
	"sync"
)

// lineWriter splits ffmpeg's stderr into lines. ffmpeg rewrites its status
// line with carriage returns, so both \r and \n terminate a line.
type lineWriter struct {
	ready <-chan struct{}
	emit  func(string)

	mu  sync.Mutex
	buf []byte
}

// max bytes buffered without a terminator before a line is forced out
const maxLineBytes = 64 * 1024

func newLineWriter(ready <-chan struct{}, emit func(string)) *lineWriter {
	return &lineWriter{ready: ready, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	<-w.ready

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		w.flushLine(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.flushLine(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Close emits whatever is left without a terminator.
func (w *lineWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.flushLine(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) flushLine(b []byte) {
	line := string(bytes.TrimSpace(b))
	if line != "" {
		w.emit(line)
	}
}
