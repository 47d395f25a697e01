package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/term"

	"arbor/internal/diagfmt"
	"arbor/internal/eventlog"
	"arbor/internal/nav"
	"arbor/internal/session"
	"arbor/internal/trace"
	"arbor/internal/tree"
)

// newSession opens a session over p configured from the environment. Its
// spans are parented to the span carried by ctx.
func newSession(ctx context.Context, p *session.Project) *session.Session {
	return session.New(p, session.Options{
		Logger:      env.log.Logger,
		Tracer:      env.tracer,
		SpanParent:  trace.CurrentSpan(ctx).SpanID,
		Dedup:       env.cfg.View.DedupDiagnostics,
		MinSeverity: env.cfg.MinSeverity(),
		Viewport: nav.Viewport{
			Width:  env.cfg.View.ViewportWidth,
			Height: env.cfg.View.ViewportHeight,
		},
	})
}

type replayResult struct {
	header  eventlog.Header
	applied int
	skipped int
}

// replayLog feeds every record of the log at path into p and sink. Records
// that cannot be applied are logged and skipped; schema errors abort.
func replayLog(ctx context.Context, path string, p *session.Project, sink eventlog.Sink, log *slog.Logger) (replayResult, error) {
	r, err := eventlog.Open(path)
	if err != nil {
		return replayResult{}, err
	}
	defer r.Close()

	_, span := trace.StartSpan(ctx, trace.ScopeBatch, "read-log")
	res := replayResult{header: r.Header()}
	defer func() {
		span.WithExtra("applied", strconv.Itoa(res.applied)).
			WithExtra("skipped", strconv.Itoa(res.skipped)).
			End("")
	}()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
		if err := eventlog.Apply(p, sink, rec); err != nil {
			if errors.Is(err, eventlog.ErrSchema) {
				return res, fmt.Errorf("%s: %w", path, err)
			}
			res.skipped++
			log.Warn("replay: record skipped", "seq", rec.Seq, "kind", rec.Kind.String(), "err", err)
			continue
		}
		res.applied++
	}
}

// printTree syncs the session and dumps its tree to w.
func printTree(ctx context.Context, w io.Writer, sess *session.Session, opts diagfmt.TreeOpts) error {
	if err := sess.Sync(ctx); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	if err := sess.Tree(ctx, func(root *tree.Node) {
		errCh <- diagfmt.Tree(w, root, opts)
	}); err != nil {
		return err
	}
	return <-errCh
}

func treeOptsFor(timings bool) diagfmt.TreeOpts {
	return diagfmt.TreeOpts{Color: env.color, Timings: timings, Width: terminalWidth()}
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return w
}
