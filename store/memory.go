package store

import (
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Memory is an in-memory Store. It is intended mainly for testing.
type Memory struct {
	m     sync.RWMutex
	items map[string]*memitem
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]*memitem)}
}

// List returns a channel giving the key of every item in the store.
func (ms *Memory) List() <-chan string {
	ms.m.RLock()
	keys := make([]string, 0, len(ms.items))
	for k := range ms.items {
		keys = append(keys, k)
	}
	ms.m.RUnlock()
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns every key beginning with the given prefix.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.items {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	return result, nil
}

// Open returns a reader for the item along with its size.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.items[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, errors.Errorf("no item %s", key)
	}
	v.m.RLock()
	return &memreader{item: v}, int64(len(v.b)), nil
}

// Create makes a new entry in the store, and returns a writer to save data
// into it.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	if _, ok := ms.items[key]; ok {
		return nil, ErrKeyExists
	}
	v := &memitem{}
	v.m.Lock()
	ms.items[key] = v
	return &memwriter{item: v}, nil
}

// Delete the given key from the store. It is not an error if the item does
// not exist.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.items, key)
	ms.m.Unlock()
	return nil
}

type memitem struct {
	m sync.RWMutex
	b []byte
}

type memreader struct {
	item *memitem
	once sync.Once
}

func (r *memreader) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(r.item.b) {
		return 0, io.EOF
	}
	return copy(p, r.item.b[off:]), nil
}

func (r *memreader) Close() error {
	r.once.Do(r.item.m.RUnlock)
	return nil
}

type memwriter struct {
	item *memitem
	once sync.Once
}

func (w *memwriter) Write(p []byte) (int, error) {
	w.item.b = append(w.item.b, p...)
	return len(p), nil
}

func (w *memwriter) Close() error {
	w.once.Do(w.item.m.Unlock)
	return nil
}
