package watcher

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opsmend/opsmend/internal/models"
	"github.com/opsmend/opsmend/internal/parser"
)

// Watcher tails log files and emits parsed entries. It starts at the end of
// each existing file so only new lines are triaged, and survives rotation by
// re-reading from the start when a file shrinks.
type Watcher struct {
	logger       *slog.Logger
	paths        []string
	pollInterval time.Duration
	offsets      map[string]int64
	entries      chan models.LogEntry
}

// New constructs a Watcher over the given files. Directories are watched for
// log files appearing later.
func New(logger *slog.Logger, paths []string, pollInterval time.Duration) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Watcher{
		logger:       logger,
		paths:        paths,
		pollInterval: pollInterval,
		offsets:      make(map[string]int64),
		entries:      make(chan models.LogEntry, 256),
	}
}

// Entries is the stream of parsed log entries. It is closed when Run
// returns.
func (w *Watcher) Entries() <-chan models.LogEntry {
	return w.entries
}

// Run blocks until ctx is cancelled, forwarding appended lines to Entries.
// A periodic poll backstops missed filesystem events.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.entries)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, path := range w.paths {
		w.track(fsw, path)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				w.drain(ctx, event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.Any("error", err))
		case <-ticker.C:
			for path := range w.offsets {
				w.drain(ctx, path)
			}
		}
	}
}

// track registers a path with fsnotify and records its current size so
// tailing starts at the end.
func (w *Watcher) track(fsw *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("cannot watch path", slog.String("path", path), slog.Any("error", err))
			return
		}
		// Watch the parent so we notice the file being created.
		if err := fsw.Add(filepath.Dir(path)); err != nil {
			w.logger.Warn("cannot watch directory",
				slog.String("dir", filepath.Dir(path)), slog.Any("error", err))
			return
		}
		w.offsets[path] = 0
		return
	}

	if info.IsDir() {
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", slog.String("dir", path), slog.Any("error", err))
		}
		return
	}

	if err := fsw.Add(path); err != nil {
		w.logger.Warn("cannot watch file", slog.String("path", path), slog.Any("error", err))
		return
	}
	w.offsets[path] = info.Size()
	w.logger.Info("tailing log file", slog.String("path", path), slog.Int64("offset", info.Size()))
}

// drain reads lines appended to path since the last read and emits them.
func (w *Watcher) drain(ctx context.Context, path string) {
	offset, tracked := w.offsets[path]
	if !tracked {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() < offset {
		// Rotated or truncated.
		offset = 0
	}
	if info.Size() == offset {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		w.logger.Warn("cannot open log file", slog.String("path", path), slog.Any("error", err))
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	read := offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Hold a partial trailing line until it is completed.
			break
		}
		read += int64(len(line))
		entry := parser.Parse(line, path)
		select {
		case w.entries <- entry:
		case <-ctx.Done():
			return
		}
	}
	w.offsets[path] = read
}
