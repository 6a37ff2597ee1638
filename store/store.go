// Package store provides a simple, goroutine safe key-value interface where
// values are streams instead of byte slices. The FileSystem store is the one
// used in production; Memory is useful for testing, and S3 keeps content in
// an AWS bucket. Wrappers add key prefixes and byte capacity limits.
package store

import (
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store is the basic stream based key-value store. Items are immutable once
// stored, but they may be deleted and then replaced with a new value.
//
// Keys are used as file names by the FileSystem store, so they should not
// contain forbidden filesystem characters, such as '/'.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only part of a Store.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

// NewReader converts a ReaderAt into an io.Reader. It is here as a utility
// to help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for an io.Reader
		err = nil
	}
	return
}
