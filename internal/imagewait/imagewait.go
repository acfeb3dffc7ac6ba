package imagewait

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
)

var defaultLogger = zerolog.New(os.Stdout).Level(zerolog.InfoLevel)

// ErrIsDirectory is returned when the awaited path shows up as a directory.
var ErrIsDirectory = errors.New("path is a directory")

var (
	// a volume mounted over the watched directory raises no event on it,
	// so the path is also re-checked on every tick
	pollInterval = time.Second

	watchDir = func(w *fsnotify.Watcher, dir string) error {
		return w.Add(dir)
	}
)

// nearestExistingDir returns p's closest ancestor that exists in fs.
func nearestExistingDir(fs billy.Filesystem, p string) string {
	dir := path.Dir(p)
	for {
		if fi, err := fs.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
		parent := path.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func present(fs billy.Filesystem, p string) (bool, error) {
	fi, err := fs.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if fi.IsDir() {
		return false, fmt.Errorf("%w: %s", ErrIsDirectory, p)
	}
	return true, nil
}

// WaitForFile blocks until p exists as a regular file in fs or ctx is done.
// fs is rooted at "/" so p doubles as the host path handed to inotify. The
// nearest existing parent directory is watched, so p may appear together
// with any of its missing parents; a failed watch falls back to polling.
func WaitForFile(ctx context.Context, fs billy.Filesystem, p string, logger *zerolog.Logger) error {
	if logger == nil {
		logger = &defaultLogger
	}
	l := logger.With().Str("path", p).Logger()

	ok, err := present(fs, p)
	if ok || err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	watched := ""
	for {
		dir := nearestExistingDir(fs, p)
		if dir != watched {
			if watched != "" {
				_ = watcher.Remove(watched)
			}
			if err := watchDir(watcher, dir); err != nil {
				l.Warn().Err(err).Str("dir", dir).Msg("failed to watch directory, polling only")
			} else {
				l.Debug().Str("dir", dir).Msg("waiting for backing image")
			}
			watched = dir
		}

		// the file may have appeared before the watch was in place
		ok, err := present(fs, p)
		if ok || err != nil {
			if ok {
				l.Info().Msg("backing image present")
			}
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Write) {
				l.Debug().Str("event", event.Name).Msg("directory changed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			l.Error().Err(err).Msg("error watching directory")
		}
	}
}
