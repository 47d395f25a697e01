package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"arbor/internal/logging"
	"arbor/internal/session"
	"arbor/internal/source"
)

// Invalidator receives removals. *session.Session implements it.
type Invalidator interface {
	Invalidate(path string)
}

// Result counts what a batch did.
type Result struct {
	Invalidated int
	Reloaded    int
	Unchanged   int
	Ignored     int
}

// Apply maps a batch onto the project: removed or renamed files invalidate
// their container, written files are reloaded into a new revision unless
// their bytes are unchanged. Paths that back no container are ignored.
// Reloads run concurrently.
func Apply(ctx context.Context, p *session.Project, inv Invalidator, batch []Change, log *slog.Logger) Result {
	log = logging.OrDiscard(log)
	var res Result
	var reloaded, unchanged, ignored atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, c := range batch {
		id, path, ok := lookup(p.Files, c.Path)
		if !ok {
			res.Ignored++
			continue
		}
		switch c.Op {
		case OpRemove, OpRename:
			inv.Invalidate(path)
			res.Invalidated++
		case OpCreate, OpWrite:
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				rev, changed, err := p.Files.Reload(id)
				if err != nil {
					ignored.Add(1)
					log.Warn("watch: reload failed", "path", path, "err", err)
					return nil
				}
				if !changed {
					unchanged.Add(1)
					return nil
				}
				reloaded.Add(1)
				log.Debug("watch: reloaded", "path", path, "revision", rev)
				return nil
			})
		}
	}
	_ = g.Wait()
	res.Reloaded = int(reloaded.Load())
	res.Unchanged = int(unchanged.Load())
	res.Ignored += int(ignored.Load())
	return res
}

// lookup finds the live file for an absolute path, trying the path as given
// and relative to the file set's base directory.
func lookup(files *source.FileSet, path string) (source.FileID, string, bool) {
	if id, ok := files.GetLatest(path); ok && files.Valid(id) {
		return id, path, true
	}
	base := files.BaseDir()
	if base == "" || !filepath.IsAbs(path) || !isWithin(base, path) {
		return 0, "", false
	}
	rel, err := source.RelativePath(path, base)
	if err != nil {
		return 0, "", false
	}
	if id, ok := files.GetLatest(rel); ok && files.Valid(id) {
		return id, rel, true
	}
	return 0, "", false
}
