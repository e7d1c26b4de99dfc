// Package logsink collects per-instance console output and the runtime's
// own decision lines into one rotating log per instance, and fans every
// line out to live subscribers (log streaming collaborators).
package logsink

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/loykin/slumber/internal/logger"
)

// Line is one appended console line.
type Line struct {
	Instance string
	Text     string
	At       time.Time
}

// Sink owns the console files and the subscriber fan-out. onOutput fires
// only for lines produced by the supervised process itself, so daemon
// decision notes never count as instance activity.
type Sink struct {
	mu       sync.Mutex
	cfg      logger.Config
	files    map[string]io.WriteCloser
	subs     map[int]chan Line
	nextSub  int
	onOutput func(instance string)
}

func New(cfg logger.Config, onOutput func(instance string)) *Sink {
	return &Sink{
		cfg:      cfg,
		files:    make(map[string]io.WriteCloser),
		subs:     make(map[int]chan Line),
		onOutput: onOutput,
	}
}

// Append records one daemon-side line (idle stop, wake, cooldown, forced
// kill) in the instance's console log and broadcasts it.
func (s *Sink) Append(instance, text string) {
	s.emit(instance, text, false)
}

// ConsoleWriter returns the writer to wire as the child's stdout and stderr.
// It splits the byte stream into lines; each complete line is appended,
// broadcast, and reported as activity.
func (s *Sink) ConsoleWriter(instance string) io.Writer {
	return &consoleWriter{sink: s, instance: instance}
}

// Subscribe registers a live line consumer. Slow consumers drop lines. The
// returned cancel function must be called to release the subscription.
func (s *Sink) Subscribe() (<-chan Line, func()) {
	ch := make(chan Line, 256)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Sink) emit(instance, text string, fromProcess bool) {
	now := time.Now()
	s.mu.Lock()
	w := s.files[instance]
	if w == nil {
		if w = s.cfg.ConsoleWriter(instance); w != nil {
			s.files[instance] = w
		}
	}
	if w != nil {
		_, _ = io.WriteString(w, now.Format("2006-01-02 15:04:05")+" "+text+"\n")
	}
	subs := make([]chan Line, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	ln := Line{Instance: instance, Text: text, At: now}
	for _, ch := range subs {
		select {
		case ch <- ln:
		default:
		}
	}
	if fromProcess && s.onOutput != nil {
		s.onOutput(instance)
	}
}

// CloseInstance closes the instance's console file; the next line reopens it.
func (s *Sink) CloseInstance(instance string) {
	s.mu.Lock()
	if w := s.files[instance]; w != nil {
		_ = w.Close()
		delete(s.files, instance)
	}
	s.mu.Unlock()
}

// Close releases every open console file.
func (s *Sink) Close() {
	s.mu.Lock()
	for name, w := range s.files {
		_ = w.Close()
		delete(s.files, name)
	}
	s.mu.Unlock()
}

// consoleWriter accumulates partial writes and emits complete lines.
// os/exec guarantees at most one concurrent Write when the same writer backs
// both stdout and stderr, but a mutex keeps it safe regardless.
type consoleWriter struct {
	sink     *Sink
	instance string
	mu       sync.Mutex
	buf      []byte
}

func (w *consoleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf = append(w.buf, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf[:i], "\r"))
		w.buf = w.buf[i+1:]
		lines = append(lines, line)
	}
	w.mu.Unlock()
	for _, ln := range lines {
		w.sink.emit(w.instance, ln, true)
	}
	return len(p), nil
}
