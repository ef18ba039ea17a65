// Package store persists project documents and the per-panel result files
// programs use to hand values to each other.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultSyncPeriod is how long a write waits for a newer one to replace it.
const DefaultSyncPeriod = 3 * time.Second

// Logger is the Printf-style logger accepted across the repo.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type pendingWrite struct {
	data  []byte
	timer *time.Timer
	gen   uint64
}

// Writer coalesces writes per file name: only the latest contents written
// within one sync period reach disk. FlushAll must run before exit.
type Writer struct {
	delay     time.Duration
	logger    Logger
	writeFile func(path string, data []byte) error

	mu      sync.Mutex
	pending map[string]*pendingWrite
	closed  bool
	once    sync.Once
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithWriterLogger reports background flush failures.
func WithWriterLogger(l Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithFileWriter replaces the function that puts bytes on disk.
func WithFileWriter(fn func(path string, data []byte) error) WriterOption {
	return func(w *Writer) {
		if fn != nil {
			w.writeFile = fn
		}
	}
}

// NewWriter returns a Writer flushing each file delay after its last write.
func NewWriter(delay time.Duration, opts ...WriterOption) *Writer {
	if delay <= 0 {
		delay = DefaultSyncPeriod
	}
	w := &Writer{
		delay:     delay,
		logger:    nopLogger{},
		writeFile: writeFileAtomic,
		pending:   make(map[string]*pendingWrite),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Write buffers data for name and restarts its timer. After Close, writes go
// straight to disk.
func (w *Writer) Write(name string, data []byte) error {
	buf := append([]byte(nil), data...)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.writeFile(name, buf)
	}
	p, ok := w.pending[name]
	if !ok {
		p = &pendingWrite{}
		w.pending[name] = p
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.data = buf
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(w.delay, func() { w.flushIfCurrent(name, gen) })
	return nil
}

// flushIfCurrent runs from the timer. A stopped timer can still fire, so the
// generation check drops flushes a newer write superseded.
func (w *Writer) flushIfCurrent(name string, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[name]
	if !ok || p.gen != gen {
		return
	}
	delete(w.pending, name)
	if err := w.writeFile(name, p.data); err != nil {
		w.logger.Printf("store: flush %s: %v", name, err)
	}
}

// Read returns buffered contents for name when present, else the file.
func (w *Writer) Read(name string) ([]byte, error) {
	w.mu.Lock()
	if p, ok := w.pending[name]; ok {
		data := append([]byte(nil), p.data...)
		w.mu.Unlock()
		return data, nil
	}
	w.mu.Unlock()
	return os.ReadFile(name)
}

// Pending lists the names with unflushed contents.
func (w *Writer) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.pending))
	for name := range w.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlushAll writes every buffered file now and empties the buffer.
func (w *Writer) FlushAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes and switches the writer to direct writes. Safe to call more
// than once.
func (w *Writer) Close() error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.closed = true
		err = w.flushLocked()
	})
	return err
}

func (w *Writer) flushLocked() error {
	var errs []error
	for name, p := range w.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		if err := w.writeFile(name, p.data); err != nil {
			errs = append(errs, fmt.Errorf("store: flush %s: %w", name, err))
		}
		delete(w.pending, name)
	}
	return errors.Join(errs...)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
