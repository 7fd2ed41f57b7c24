// Package tail follows a growing log file and hands every new line to a
// callback, in the manner of "tail -F".
//
// Only complete, newline-terminated lines are delivered; a trailing partial
// line is held back until the writer finishes it. Truncation in place
// (copytruncate rotation) restarts reading from the beginning of the file.
package tail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultRotateTimeout is how long to wait for a rotated file to reappear.
const DefaultRotateTimeout = 10 * time.Second

// ErrRotated is returned when the file is rotated and FollowRotate is off.
var ErrRotated = errors.New("file rotated")

const maxLineSize = 1024 * 1024

// Options configures the tailer behavior.
type Options struct {
	FilePath      string                  // Path to the log file
	Lines         int                     // Number of existing lines to emit first
	Follow        bool                    // Whether to follow the file for new content
	FollowRotate  bool                    // Whether to follow through log rotations
	RotateTimeout time.Duration           // How long to wait for a rotated file
	Pattern       *regexp.Regexp          // Optional filter applied to raw lines
	OutputFunc    func(line string) error // Called for each matching line
	Logger        *zap.Logger
}

// Tailer follows a single file.
type Tailer struct {
	opts    Options
	log     *zap.Logger
	file    *os.File
	offset  int64
	pending []byte
	watcher *fsnotify.Watcher

	// discarding is set while the rest of an oversized line is skipped.
	discarding bool
}

// New creates a new Tailer with the given options.
func New(opts Options) *Tailer {
	if opts.RotateTimeout <= 0 {
		opts.RotateTimeout = DefaultRotateTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Tailer{opts: opts, log: log.With(zap.String("path", opts.FilePath))}
}

// Run emits the last Lines lines and, when following, every line appended
// afterwards. It blocks until ctx is cancelled or an error occurs.
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.openFile(); err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer t.close()

	if t.opts.Lines > 0 {
		if err := t.readInitialLines(); err != nil {
			return fmt.Errorf("failed to read initial lines: %w", err)
		}
	}

	if !t.opts.Follow {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to setup watcher: %w", err)
	}
	t.watcher = watcher
	if err := watcher.Add(t.opts.FilePath); err != nil {
		return fmt.Errorf("failed to setup watcher: %w", err)
	}

	return t.watch(ctx)
}

func (t *Tailer) openFile() error {
	f, err := os.Open(t.opts.FilePath)
	if err != nil {
		return err
	}
	t.file = f

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	t.offset = stat.Size()
	return nil
}

// readInitialLines emits the last Lines non-blank lines of the file.
func (t *Tailer) readInitialLines() error {
	if t.offset == 0 {
		return nil
	}

	// Assume generous ~600 byte lines, then keep only the last N.
	start := t.offset - int64(t.opts.Lines*600)
	if start < 0 {
		start = 0
	}
	if _, err := t.file.Seek(start, io.SeekStart); err != nil {
		return err
	}

	scanner := bufio.NewScanner(io.LimitReader(t.file, t.offset-start))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	if start > 0 {
		scanner.Scan() // partial line
	}

	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if !t.matches(line) {
			continue
		}
		lines = append(lines, line)
		if len(lines) > t.opts.Lines {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	for _, line := range lines {
		if err := t.opts.OutputFunc(line); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tailer) watch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-t.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed unexpectedly")
			}
			if err := t.handleEvent(ctx, event); err != nil {
				return err
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

func (t *Tailer) handleEvent(ctx context.Context, event fsnotify.Event) error {
	switch {
	case event.Has(fsnotify.Write):
		return t.readNewContent()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return t.handleRotation(ctx)
	default:
		return nil
	}
}

// readNewContent emits every complete line written since the last read.
func (t *Tailer) readNewContent() error {
	stat, err := t.file.Stat()
	if err != nil {
		return err
	}
	if stat.Size() < t.offset {
		t.log.Info("File truncated, reading from start")
		t.offset = 0
		t.pending = t.pending[:0]
		t.discarding = false
	}

	if _, err := t.file.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}

	r := bufio.NewReader(t.file)
	for {
		chunk, err := r.ReadBytes('\n')
		t.offset += int64(len(chunk))
		complete := err == nil

		skip := t.discarding
		if t.discarding {
			t.discarding = !complete
		} else {
			t.pending = append(t.pending, chunk...)
			if len(t.pending) > maxLineSize {
				t.log.Warn("Dropping oversized line", zap.Int("bytes", len(t.pending)))
				t.pending = t.pending[:0]
				t.discarding = !complete
				skip = true
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		line := string(bytes.TrimRight(t.pending, "\r\n"))
		t.pending = t.pending[:0]
		if !t.matches(line) {
			continue
		}
		if err := t.opts.OutputFunc(line); err != nil {
			return err
		}
	}
}

func (t *Tailer) handleRotation(ctx context.Context) error {
	if !t.opts.FollowRotate {
		t.log.Warn("File rotated, stopping. Use --follow-rotate to follow through rotations")
		return ErrRotated
	}

	if t.file != nil {
		t.file.Close()
		t.file = nil
	}

	timeout := time.After(t.opts.RotateTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timeout:
			return fmt.Errorf("timeout waiting for rotated file to reappear after %s", t.opts.RotateTimeout)
		case <-ticker.C:
			f, err := os.Open(t.opts.FilePath)
			if err != nil {
				continue
			}
			t.file = f
			t.offset = 0
			t.pending = t.pending[:0]

			if err := t.watcher.Add(t.opts.FilePath); err != nil {
				return fmt.Errorf("failed to watch rotated file: %w", err)
			}
			t.log.Info("File rotated, following new file")
			return t.readNewContent()
		}
	}
}

// matches reports whether line should be emitted.
func (t *Tailer) matches(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	return t.opts.Pattern == nil || t.opts.Pattern.MatchString(line)
}

func (t *Tailer) close() {
	if t.file != nil {
		t.file.Close()
	}
	if t.watcher != nil {
		t.watcher.Close()
	}
}
