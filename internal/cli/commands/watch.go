package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/cli/output"
	"github.com/HDI-Project/FeatureFactory/internal/session"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Cross-validate a feature file every time it is saved",
		Long: `Cross-validate the feature in FILE once, then again every time the file
changes, printing the score. Nothing is stored. Press Ctrl+C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := cmdCtx.Session(cmd, Stack{})
			if err != nil {
				return err
			}
			r := cmdCtx.Renderer
			path := args[0]

			run := func(ctx context.Context) {
				evaluate(ctx, cmd, r, sess, path)
			}
			r.Muted(fmt.Sprintf("Watching %s (Ctrl+C to stop)", path))
			return watchFile(cmd.Context(), path, watchDebounce, cmdCtx.Logger, run)
		},
	}
	addIdentityFlags(cmd)
	return cmd
}

func evaluate(ctx context.Context, cmd *cobra.Command, r *output.Renderer, sess *session.Session, path string) {
	code, err := readCode(cmd, path)
	if err != nil {
		r.Error(err.Error())
		return
	}
	r.Muted(time.Now().Format("15:04:05") + " " + filepath.Base(path))
	res, err := sess.CrossValidate(ctx, code)
	if err != nil {
		r.Error(err.Error())
		renderFailure(r, err)
		return
	}
	_ = renderScore(r, sess.Problem().Name, res)
}

// watchFile calls run once, then after every debounced write to path, until
// ctx is cancelled. The parent directory is watched so that editors which
// save by renaming a temporary file are seen.
func watchFile(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, run func(context.Context)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	run(ctx)

	timer := time.NewTimer(debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("feature file changed", "file", event.Name, "op", event.Op.String())
			timer.Reset(debounce)

		case <-timer.C:
			run(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}
