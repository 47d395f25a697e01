package main

import (
	"context"
	"errors"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"arbor/internal/nav"
	"arbor/internal/session"
	"arbor/internal/tree"
	"arbor/internal/ui"
)

const frameInterval = 100 * time.Millisecond

// runTreeWithUI runs work while a Bubble Tea program shows the session tree.
// Quitting the UI cancels work; a canceled work is not an error.
func runTreeWithUI(ctx context.Context, title string, sess *session.Session, work func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan ui.Frame, 1)
	outcomeCh := make(chan error, 1)
	finished := make(chan struct{})

	go func() {
		outcomeCh <- work(ctx)
		close(finished)
	}()
	go pumpFrames(ctx, title, sess, frames, finished)

	model := ui.NewTreeModel(frames)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	cancel()
	err := <-outcomeCh
	if uiErr != nil {
		return uiErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pumpFrames samples the session every frameInterval. Intermediate frames are
// dropped when the UI falls behind; the final one is always delivered.
func pumpFrames(ctx context.Context, title string, sess *session.Session, frames chan<- ui.Frame, finished <-chan struct{}) {
	defer close(frames)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-finished:
			if f, ok := snapshotFrame(ctx, title, sess); ok {
				select {
				case frames <- f:
				case <-ctx.Done():
				}
			}
			return
		case <-ticker.C:
			if f, ok := snapshotFrame(ctx, title, sess); ok {
				select {
				case frames <- f:
				default:
				}
			}
		}
	}
}

func snapshotFrame(ctx context.Context, title string, sess *session.Session) (ui.Frame, bool) {
	out := make(chan ui.Frame, 1)
	err := sess.View(ctx, func(root *tree.Node, sel *nav.Selection) {
		out <- ui.BuildFrame(title, root, sel)
	})
	if err != nil {
		return ui.Frame{}, false
	}
	return <-out, true
}
