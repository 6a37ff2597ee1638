package store

import (
	"encoding/json"
)

// A JSONStore wraps a Store and saves its values as JSON documents instead
// of opaque streams. Since it deals with interface{} instead of readers and
// writers, a JSONStore does not itself satisfy the Store interface.
type JSONStore struct {
	Store
}

// NewJSON creates a JSONStore using the provided store for its storage.
func NewJSON(s Store) JSONStore {
	return JSONStore{s}
}

// Open reads the item having the given key and unmarshals it into value.
func (js JSONStore) Open(key string, value interface{}) error {
	r, _, err := js.Store.Open(key)
	if err != nil {
		return err
	}
	err = json.NewDecoder(NewReader(r)).Decode(value)
	err2 := r.Close()
	if err == nil {
		err = err2
	}
	return err
}

// Save stores value under the given key, replacing any existing value. An
// error can mean the old value was deleted but the new one not stored.
func (js JSONStore) Save(key string, value interface{}) error {
	err := js.Store.Delete(key)
	if err != nil {
		return err
	}
	w, err := js.Store.Create(key)
	if err != nil {
		return err
	}
	err = json.NewEncoder(w).Encode(value)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	return err
}
