package store

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
)

// FileSystem is a Store backed by a directory on disk. Keys are used as
// file names, so they must not contain a path separator. Writes go to a
// scratch subdirectory first and are moved into place on Close, so readers
// never see a partially written item.
type FileSystem struct {
	root string
}

// the subdirectory used to hold files while they are being written.
const scratchdir = "scratch"

var (
	_ Store = &FileSystem{}

	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrBadKey means the key contains a slash, whitespace, a control
	// character, or is not valid UTF-8.
	ErrBadKey = errors.New("key contains forbidden characters")
)

// NewFileSystem creates a FileSystem store rooted at the given path. The
// directory is created if needed.
func NewFileSystem(root string) *FileSystem {
	os.MkdirAll(root, 0755)
	return &FileSystem{root: root}
}

// List returns a channel listing every key in this store.
func (fs *FileSystem) List() <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		f, err := os.Open(fs.root)
		if err != nil {
			log.Println(err)
			raven.CaptureError(err, nil)
			return
		}
		defer f.Close()
		for {
			entries, err := f.Readdir(1000)
			if err == io.EOF {
				return
			} else if err != nil {
				// no other way to pass this error back
				log.Println(err)
				raven.CaptureError(err, nil)
				return
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				c <- e.Name()
			}
		}
	}()
	return c
}

// ListPrefix returns every key beginning with the given prefix.
func (fs *FileSystem) ListPrefix(prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(fs.root, prefix+"*"))
	if err != nil {
		return nil, err
	}
	var result []string
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		result = append(result, filepath.Base(m))
	}
	return result, nil
}

// Open returns a reader for the given item along with its size.
func (fs *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := validKey(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(fs.root, key))
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create makes a new item with the given key and returns a writer to save
// data into it.
func (fs *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	target := filepath.Join(fs.root, key)
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	dir := filepath.Join(fs.root, scratchdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	// O_EXCL keeps two writers from sharing a scratch file
	w, err := os.OpenFile(filepath.Join(dir, key), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	return &moveCloser{WriteCloser: w, source: filepath.Join(dir, key), target: target}, nil
}

// moveCloser moves the scratch file into its final place on Close.
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		os.Remove(w.source)
		return err
	}
	if _, err = os.Stat(w.target); !os.IsNotExist(err) {
		os.Remove(w.source)
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Delete the given key from the store. It is not an error if the key does
// not exist.
func (fs *FileSystem) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(fs.root, key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

func validKey(key string) error {
	if key == "" || !utf8.ValidString(key) || strings.ContainsAny(key, "/\\") {
		return ErrBadKey
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrBadKey
		}
	}
	return nil
}
