// Package follow tails the current daily log file and moves on to the next
// day's file once it appears.
package follow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/modoterra/daylog/pkg/rotate"
)

// DefaultPoll is how often the file is checked for new data.
const DefaultPoll = 250 * time.Millisecond

// Options tune Follow.
type Options struct {
	// FromEnd skips what today's file holds when Follow starts. A file
	// created later is read from its beginning.
	FromEnd bool
	Poll    time.Duration
	Clock   func() time.Time
	Logger  *slog.Logger
}

// Follow copies the daily log dir/prefix-DATE.ext to w and keeps copying
// appended data until ctx is done. When the date changes, the previous file
// is drained before switching to the new one.
func Follow(ctx context.Context, dir, prefix, ext string, w io.Writer, opts Options) error {
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ext = rotate.NormalizeExtension(ext)

	var (
		f    *os.File
		path string
		// skip applies to a file that already exists at the first poll.
		skip = opts.FromEnd
	)
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for {
		if target := rotate.Path(dir, prefix, ext, opts.Clock()); target != path {
			next, err := os.Open(target)
			switch {
			case err == nil:
				if f != nil {
					if _, err := io.Copy(w, f); err != nil {
						next.Close()
						return fmt.Errorf("copy %s: %w", path, err)
					}
					f.Close()
				}
				if skip {
					if _, err := next.Seek(0, io.SeekEnd); err != nil {
						next.Close()
						return fmt.Errorf("seek %s: %w", target, err)
					}
				}
				f, path = next, target
				logger.Info("following log file", "path", path)
			case errors.Is(err, fs.ErrNotExist):
				// Keep reading the previous file until the new one exists.
			default:
				return fmt.Errorf("open %s: %w", target, err)
			}
		}
		skip = false

		if f != nil {
			if _, err := io.Copy(w, f); err != nil {
				return fmt.Errorf("copy %s: %w", path, err)
			}
			if err := rewindIfTruncated(f); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.Poll):
		}
	}
}

// rewindIfTruncated seeks back to the start when the file shrank under us.
func rewindIfTruncated(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return nil
	}
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("seek %s: %w", f.Name(), err)
	}
	if info.Size() < pos {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek %s: %w", f.Name(), err)
		}
	}
	return nil
}
