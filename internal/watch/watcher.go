// Package watch turns file system changes under a project root into
// container invalidations and new file revisions.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"arbor/internal/logging"
)

// Op is the kind of a file change.
type Op uint8

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	}
	return "unknown"
}

// Change is one observed file change.
type Change struct {
	Path string
	Op   Op
}

// Options configure a Watcher.
type Options struct {
	// Debounce is how long to wait for more changes before flushing a batch.
	Debounce time.Duration
	// Ignore lists base names or glob patterns to skip.
	Ignore []string
	Logger *slog.Logger
}

// DefaultIgnore is used when Options.Ignore is nil.
var DefaultIgnore = []string{".git", ".idea", "*.swp", "*.tmp", "*~"}

// Watcher watches a directory tree and delivers debounced batches.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	ignore   []string
	log      *slog.Logger
	changes  chan Change
}

// New creates a watcher for root. Call Run to start watching.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	ignore := opts.Ignore
	if ignore == nil {
		ignore = DefaultIgnore
	}
	return &Watcher{
		root:     abs,
		fsw:      fsw,
		debounce: debounce,
		ignore:   ignore,
		log:      logging.OrDiscard(opts.Logger),
		changes:  make(chan Change, 256),
	}, nil
}

// Root is the absolute watched directory.
func (w *Watcher) Root() string { return w.root }

// Run watches until ctx is done and calls handle with each de-duplicated
// batch from a single goroutine. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, handle func(ctx context.Context, batch []Change)) error {
	defer func() { _ = w.fsw.Close() }()
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.processEvents(ctx) })
	g.Go(func() error {
		w.debounceLoop(ctx, handle)
		return nil
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignore {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.shouldIgnore(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						w.log.Warn("watch: cannot add directory", "path", ev.Name, "err", err)
					}
					continue
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			select {
			case w.changes <- Change{Path: ev.Name, Op: convertOp(ev.Op)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "err", err)
		}
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpWrite
	}
}

func (w *Watcher) debounceLoop(ctx context.Context, handle func(context.Context, []Change)) {
	var batch []Change
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-w.changes:
			batch = append(batch, c)
			timer.Reset(w.debounce)
		case <-timer.C:
			if len(batch) == 0 {
				continue
			}
			out := Dedup(batch)
			batch = nil
			w.log.Debug("watch batch", "changes", len(out))
			handle(ctx, out)
		}
	}
}

// Dedup keeps the last change per path, ordered by first appearance.
func Dedup(changes []Change) []Change {
	index := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := index[c.Path]; ok {
			out[i].Op = c.Op
			continue
		}
		index[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
