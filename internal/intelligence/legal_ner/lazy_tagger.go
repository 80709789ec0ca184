package legal_ner

import (
	"context"
	"io"
	"sync"

	"github.com/turtacn/LexNER/pkg/errors"
)

// LoadFunc constructs the underlying tagger.
type LoadFunc func(ctx context.Context) (Tagger, error)

// LazyTagger defers loading until the first call.  A failed load is retried
// on the next call.
type LazyTagger struct {
	load LoadFunc

	mu     sync.RWMutex
	tagger Tagger
}

// NewLazyTagger wraps load.
func NewLazyTagger(load LoadFunc) *LazyTagger {
	return &LazyTagger{load: load}
}

// Load runs the load function once successfully.
func (t *LazyTagger) Load(ctx context.Context) error {
	t.mu.RLock()
	loaded := t.tagger != nil
	t.mu.RUnlock()
	if loaded {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tagger != nil {
		return nil
	}
	if t.load == nil {
		return errors.ModelNotAvailable().WithDetail("no loader configured")
	}
	tg, err := t.load(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, ErrModelNotAvailable)
	}
	if tg == nil {
		return errors.ModelNotAvailable().WithDetail("loader returned no tagger")
	}
	t.tagger = tg
	return nil
}

// Ready reports whether a load has succeeded.
func (t *LazyTagger) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tagger != nil
}

// Tag loads on demand and delegates.
func (t *LazyTagger) Tag(ctx context.Context, text string) (*TagOutput, error) {
	if err := t.Load(ctx); err != nil {
		return nil, err
	}
	t.mu.RLock()
	tg := t.tagger
	t.mu.RUnlock()
	return tg.Tag(ctx, text)
}

// Labels returns the loaded tagger's labels, or nil before loading.
func (t *LazyTagger) Labels() LabelMap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tagger == nil {
		return nil
	}
	return t.tagger.Labels()
}

// Close releases the loaded tagger when it holds resources.
func (t *LazyTagger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.tagger.(io.Closer); ok {
		err := c.Close()
		t.tagger = nil
		return err
	}
	return nil
}
