package store

import (
	"errors"
	"io"
	"sync"
)

// ErrStoreFull is returned by writes that would push a limited store over
// its capacity.
var ErrStoreFull = errors.New("store is full")

// Limit wraps a store with a byte capacity. A write that would push the
// total stored size over the capacity fails with ErrStoreFull and the
// partial item is discarded on Close. Nothing is ever evicted; this models
// substrates that simply refuse oversized payloads.
type Limit struct {
	s        Store
	capacity int64

	m    sync.Mutex
	size int64 // bytes currently stored, including writes in progress
}

var _ Store = &Limit{}

// NewLimit wraps s with a capacity of maxSize bytes. Items already in s are
// counted against the capacity.
func NewLimit(s Store, maxSize int64) *Limit {
	lim := &Limit{s: s, capacity: maxSize}
	for key := range s.List() {
		rc, size, err := s.Open(key)
		if err != nil {
			continue
		}
		rc.Close()
		lim.size += size
	}
	return lim
}

func (lim *Limit) List() <-chan string                      { return lim.s.List() }
func (lim *Limit) ListPrefix(p string) ([]string, error)    { return lim.s.ListPrefix(p) }
func (lim *Limit) Open(key string) (ReadAtCloser, int64, error) { return lim.s.Open(key) }

// Create returns a writer which enforces the capacity.
func (lim *Limit) Create(key string) (io.WriteCloser, error) {
	w, err := lim.s.Create(key)
	if err != nil {
		return nil, err
	}
	return &limitwriter{parent: lim, key: key, w: w}, nil
}

// Delete removes the item and releases its space.
func (lim *Limit) Delete(key string) error {
	rc, size, err := lim.s.Open(key)
	if err != nil {
		// nothing to release
		return lim.s.Delete(key)
	}
	rc.Close()
	err = lim.s.Delete(key)
	if err == nil {
		lim.release(size)
	}
	return err
}

// Size returns the number of bytes currently stored.
func (lim *Limit) Size() int64 {
	lim.m.Lock()
	defer lim.m.Unlock()
	return lim.size
}

// reserve claims n bytes of capacity, or fails without claiming anything.
func (lim *Limit) reserve(n int64) error {
	lim.m.Lock()
	defer lim.m.Unlock()
	if lim.size+n > lim.capacity {
		return ErrStoreFull
	}
	lim.size += n
	return nil
}

func (lim *Limit) release(n int64) {
	lim.m.Lock()
	lim.size -= n
	lim.m.Unlock()
}

type limitwriter struct {
	parent  *Limit
	key     string
	w       io.WriteCloser
	written int64
	bad     bool
}

func (w *limitwriter) Write(p []byte) (int, error) {
	if w.bad {
		return 0, ErrStoreFull
	}
	if err := w.parent.reserve(int64(len(p))); err != nil {
		w.bad = true
		return 0, err
	}
	n, err := w.w.Write(p)
	w.written += int64(n)
	if n < len(p) {
		w.parent.release(int64(len(p) - n))
	}
	return n, err
}

// Close finishes the item, or removes it entirely if any write overflowed.
func (w *limitwriter) Close() error {
	err := w.w.Close()
	if w.bad || err != nil {
		w.parent.s.Delete(w.key)
		w.parent.release(w.written)
		if err == nil {
			err = ErrStoreFull
		}
	}
	return err
}
