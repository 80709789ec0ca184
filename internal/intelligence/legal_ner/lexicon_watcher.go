package legal_ner

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
)

// LexiconTarget receives reloaded lexicons.  *Pipeline implements it.
type LexiconTarget interface {
	SetLexicon(lex *Lexicon) error
}

// LexiconWatcher reloads a YAML lexicon file whenever it changes and swaps it
// into the target.  A file that fails to parse leaves the old lexicon active.
type LexiconWatcher struct {
	path    string
	target  LexiconTarget
	logger  logging.Logger
	watcher *fsnotify.Watcher

	// reloaded is signalled after every reload attempt; tests hook it.
	reloaded func(error)
}

// NewLexiconWatcher watches the directory holding path so that editors which
// replace the file by rename are still observed.
func NewLexiconWatcher(path string, target LexiconTarget, logger logging.Logger) (*LexiconWatcher, error) {
	if target == nil {
		return nil, errors.InvalidParam("lexicon target is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERLexiconInvalid, "resolve lexicon path")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "create file watcher")
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "watch lexicon directory")
	}
	return &LexiconWatcher{path: abs, target: target, logger: logger, watcher: w}, nil
}

// Reload loads the file and applies it to the target.
func (w *LexiconWatcher) Reload() error {
	lex, err := LoadLexicon(w.path)
	if err == nil {
		err = w.target.SetLexicon(lex)
	}
	if err != nil {
		w.logger.Warn("lexicon reload failed, keeping previous lexicon",
			logging.String("path", w.path), logging.Err(err))
	} else {
		w.logger.Info("lexicon reloaded", logging.String("path", w.path))
	}
	if w.reloaded != nil {
		w.reloaded(err)
	}
	return err
}

// Run processes file events until ctx is done or Close is called.
func (w *LexiconWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			_ = w.Reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("lexicon watcher error", logging.Err(err))
		}
	}
}

// Close stops the watcher.
func (w *LexiconWatcher) Close() error {
	return w.watcher.Close()
}
