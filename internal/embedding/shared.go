package embedding

import (
	"errors"
	"sync"
)

// Loader constructs an embedder. It may be slow (model files, runtime initialisation).
type Loader func() (Embedder, error)

// Lazy initialises an embedder on first use and hands out the same instance afterwards.
// A failed load is remembered and returned to every caller.
type Lazy struct {
	load Loader
	once sync.Once
	emb  Embedder
	err  error
}

// NewLazy returns a Lazy that calls load at most once.
func NewLazy(load Loader) *Lazy {
	return &Lazy{load: load}
}

// Get returns the embedder, loading it on the first call.
func (l *Lazy) Get() (Embedder, error) {
	l.once.Do(func() {
		l.emb, l.err = l.load()
		if l.err == nil && l.emb == nil {
			l.err = errors.New("embedding loader returned nil")
		}
	})
	return l.emb, l.err
}

// Close closes the embedder if it was loaded.
func (l *Lazy) Close() error {
	l.once.Do(func() { l.err = errors.New("embedder closed before use") })
	if l.emb == nil {
		return nil
	}
	return l.emb.Close()
}

var (
	sharedMu   sync.Mutex
	sharedLazy *Lazy
)

// Shared returns the process-wide embedder. The first call fixes the loader; later calls
// ignore their argument and return the same instance.
func Shared(load Loader) (Embedder, error) {
	sharedMu.Lock()
	if sharedLazy == nil {
		sharedLazy = NewLazy(load)
	}
	l := sharedLazy
	sharedMu.Unlock()
	return l.Get()
}

// CloseShared closes the process-wide embedder, if one was loaded.
func CloseShared() error {
	sharedMu.Lock()
	l := sharedLazy
	sharedMu.Unlock()
	if l == nil {
		return nil
	}
	return l.Close()
}
