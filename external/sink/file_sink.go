package sink

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/foxseedlab/kikitori/internal/sink"
)

// FileWriter appends to the three session output files. Files are created on
// first append, so a session that never produces partial text leaves no
// partial file behind.
type FileWriter struct {
	paths sink.Paths

	mu     sync.Mutex
	files  map[sink.Target]*os.File
	closed bool
}

func NewFileWriter(paths sink.Paths) (sink.Writer, error) {
	return &FileWriter{
		paths: paths,
		files: make(map[sink.Target]*os.File, 3),
	}, nil
}

func (w *FileWriter) Append(t sink.Target, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	f, err := w.fileLocked(t)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %s output: %w", t, err)
	}
	return nil
}

func (w *FileWriter) fileLocked(t sink.Target) (*os.File, error) {
	if f, ok := w.files[t]; ok {
		return f, nil
	}
	path, err := w.paths.For(t)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s output: %w", t, err)
	}
	w.files[t] = f
	return f, nil
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	for _, f := range w.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
