// Package rotate writes lines to daily log files named <prefix>-YYYY-MM-DD<ext>.
package rotate

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultExtension is used when no extension is given.
const DefaultExtension = ".log"

const dateLayout = "2006-01-02"

// NormalizeExtension returns ext with a leading dot, or DefaultExtension if empty.
func NormalizeExtension(ext string) string {
	if ext == "" {
		return DefaultExtension
	}
	if strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// Path returns the log file for the local calendar date of t.
func Path(dir, prefix, ext string, t time.Time) string {
	return filepath.Join(dir, prefix+"-"+t.Local().Format(dateLayout)+ext)
}

// Pattern returns a human-readable form of the daily file name.
func Pattern(dir, prefix, ext string) string {
	return filepath.Join(dir, prefix+"-YYYY-MM-DD"+ext)
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock replaces time.Now as the source of the current date.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// WithSync makes every write fsync the file before returning.
func WithSync(sync bool) Option {
	return func(w *Writer) { w.sync = sync }
}

// WithLogger sets the logger used to report rotations.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Writer appends lines to the file for "today", switching files when the
// date changes. It holds at most one open file. Not safe for concurrent use.
type Writer struct {
	dir    string
	prefix string
	ext    string
	now    func() time.Time
	sync   bool
	logger *slog.Logger

	path string
	file *os.File
}

// New returns a Writer for dir/prefix-DATE.ext. No file is opened until the
// first write.
func New(dir, prefix, ext string, opts ...Option) *Writer {
	w := &Writer{
		dir:    dir,
		prefix: prefix,
		ext:    NormalizeExtension(ext),
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteLine appends line to the current day's file. The line is written
// as-is; callers keep the trailing newline.
func (w *Writer) WriteLine(line []byte) error {
	target := Path(w.dir, w.prefix, w.ext, w.now())
	if w.file == nil || target != w.path {
		if err := w.switchTo(target); err != nil {
			return err
		}
	}

	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", w.path, err)
		}
	}
	return nil
}

// Path returns the path of the open file, or "" before the first write.
func (w *Writer) Path() string {
	return w.path
}

// Close closes the open file, if any.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) switchTo(target string) error {
	prev := w.path
	if err := w.Close(); err != nil {
		return err
	}
	w.path = ""

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.file = f
	w.path = target

	if prev != "" && prev != target {
		w.logger.Info("rotated log file", "from", prev, "to", target)
	} else {
		w.logger.Debug("opened log file", "path", target)
	}
	return nil
}
