package log

import (
	"os"
	"path/filepath"
	"sync"
)

// FileLogger appends CBOR encoded events to a capture file. With a size
// limit the file is rotated to RotatedPath before it would grow past it,
// so a long running device keeps at most two captures on disk.
type FileLogger struct {
	path    string
	maxSize int64

	mu     sync.Mutex
	file   *os.File
	size   int64
	closed bool
}

// FileOption configures a FileLogger.
type FileOption func(*FileLogger)

// WithMaxSize rotates the capture once it reaches n bytes. Zero disables
// rotation.
func WithMaxSize(n int64) FileOption {
	return func(l *FileLogger) { l.maxSize = n }
}

// RotatedPath is where the previous capture of path is kept.
func RotatedPath(path string) string {
	return path + ".1"
}

// NewFileLogger opens path for appending, creating it (0644) and its
// directory when missing.
func NewFileLogger(path string, opts ...FileOption) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	l := &FileLogger{path: path}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = st.Size()
	return nil
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil
	if err := os.Rename(l.path, RotatedPath(l.path)); err != nil {
		return err
	}
	return l.open()
}

// Log writes an event. Encoding and I/O errors are swallowed: capture
// must never disturb the radio path.
func (l *FileLogger) Log(event Event) {
	data, err := EncodeEvent(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.file == nil {
		return
	}
	if l.maxSize > 0 && l.size > 0 && l.size+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return
		}
	}
	n, _ := l.file.Write(data)
	l.size += int64(n)
}

// Close closes the capture file. It is safe to call more than once; later
// Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
