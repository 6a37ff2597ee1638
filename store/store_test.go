package store

import (
	"io"
	"sort"
	"testing"
)

func putItem(t *testing.T, s Store, key, contents string) {
	t.Helper()
	w, err := s.Create(key)
	if err != nil {
		t.Fatalf("Create(%s): %s", key, err)
	}
	w.Write([]byte(contents))
	if err := w.Close(); err != nil {
		t.Fatalf("Close(%s): %s", key, err)
	}
}

func getItem(t *testing.T, s Store, key string) string {
	t.Helper()
	r, size, err := s.Open(key)
	if err != nil {
		t.Fatalf("Open(%s): %s", key, err)
	}
	defer r.Close()
	buf := make([]byte, size)
	_, err = r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadAt(%s): %s", key, err)
	}
	return string(buf)
}

func testStore(t *testing.T, s Store) {
	putItem(t, s, "alpha", "hello world")
	putItem(t, s, "beta", "1234567890")

	if got := getItem(t, s, "alpha"); got != "hello world" {
		t.Errorf("alpha = %q, expected %q", got, "hello world")
	}
	if _, err := s.Create("alpha"); err != ErrKeyExists {
		t.Errorf("duplicate Create err = %v, expected ErrKeyExists", err)
	}

	keys, err := s.ListPrefix("al")
	if err != nil {
		t.Fatalf("ListPrefix: %s", err)
	}
	if len(keys) != 1 || keys[0] != "alpha" {
		t.Errorf("ListPrefix(al) = %v", keys)
	}

	var all []string
	for k := range s.List() {
		all = append(all, k)
	}
	sort.Strings(all)
	if len(all) != 2 || all[0] != "alpha" || all[1] != "beta" {
		t.Errorf("List = %v", all)
	}

	if err := s.Delete("alpha"); err != nil {
		t.Errorf("Delete: %s", err)
	}
	if _, _, err := s.Open("alpha"); err == nil {
		t.Errorf("Open after Delete did not error")
	}
	// deleting a missing key is not an error
	if err := s.Delete("alpha"); err != nil {
		t.Errorf("second Delete: %s", err)
	}
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestFileSystem(t *testing.T) {
	testStore(t, NewFileSystem(t.TempDir()))
}

func TestFileSystemBadKeys(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	for _, key := range []string{"", "a/b", "a b", "a\tb", "a\x00b"} {
		if _, err := fs.Create(key); err != ErrBadKey {
			t.Errorf("Create(%q) err = %v, expected ErrBadKey", key, err)
		}
	}
}

func TestPrefix(t *testing.T) {
	base := NewMemory()
	ps := NewWithPrefix(base, "md-")
	putItem(t, ps, "abc", "xyzzy")

	if got := getItem(t, base, "md-abc"); got != "xyzzy" {
		t.Errorf("underlying key = %q", got)
	}
	keys, _ := ps.ListPrefix("")
	if len(keys) != 1 || keys[0] != "abc" {
		t.Errorf("ListPrefix = %v", keys)
	}
}

func TestLimitRejectsOverflow(t *testing.T) {
	lim := NewLimit(NewMemory(), 20)
	putItem(t, lim, "small", "0123456789")

	w, err := lim.Create("big")
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if _, err = w.Write([]byte("0123456789")); err != nil {
		t.Fatalf("first write: %s", err)
	}
	if _, err = w.Write([]byte("x")); err != ErrStoreFull {
		t.Fatalf("overflow write err = %v, expected ErrStoreFull", err)
	}
	if err = w.Close(); err != ErrStoreFull {
		t.Fatalf("Close err = %v, expected ErrStoreFull", err)
	}
	// the partial item is discarded and its space released
	if _, _, err = lim.Open("big"); err == nil {
		t.Errorf("rejected item is still present")
	}
	if lim.Size() != 10 {
		t.Errorf("Size = %d, expected 10", lim.Size())
	}

	// space freed by Delete can be reused
	if err = lim.Delete("small"); err != nil {
		t.Fatalf("Delete: %s", err)
	}
	putItem(t, lim, "big", "01234567890123456789")
}

func TestLimitCountsExisting(t *testing.T) {
	mem := NewMemory()
	putItem(t, mem, "old", "0123456789")
	lim := NewLimit(mem, 15)
	if lim.Size() != 10 {
		t.Fatalf("Size = %d, expected 10", lim.Size())
	}
	w, err := lim.Create("new")
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if _, err = w.Write([]byte("0123456789")); err != ErrStoreFull {
		t.Errorf("write err = %v, expected ErrStoreFull", err)
	}
	w.Close()
}
