package inbox

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the inbox root and ingests gradesheets
// as they are created or rewritten, until ctx is cancelled. Events are
// debounced so a file is read once its writer has gone quiet.
//
// New directories created at runtime are added to the watch list and swept
// on the next debounce tick.
func (in *Inbox) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := in.fs.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	in.logger.Info("inbox: watching", slog.String("root", root))

	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerCh <-chan time.Time
	sweep := false

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(in.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(in.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			in.logger.Info("inbox: watcher stopped")
			return nil

		case <-timerCh:
			if sweep {
				sweep = false
				if err := in.Sync(ctx); err != nil {
					in.logger.Warn("inbox: sweep failed", slog.String("error", err.Error()))
				}
			}
			for rel := range pending {
				delete(pending, rel)
				in.process(ctx, rel)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if skipDir(filepath.Base(absPath)) {
						continue
					}
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						in.logger.Warn("inbox: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					// Files copied in together with the directory raise no events of their own.
					sweep = true
					schedule()
					continue
				}
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			if _, _, ok := Classify(rel); !ok {
				continue
			}
			pending[rel] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// addDirsRecursive adds root and its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
