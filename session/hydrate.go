package session

import (
	"github.com/google/uuid"

	"github.com/viktor-shcherb/pdf-form-filling-app/api"
	"github.com/viktor-shcherb/pdf-form-filling-app/cache"
	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
)

// Hydrate populates the visible list, cache first. A fresh cache record is
// shown as-is with no network traffic. A stale record is shown immediately
// and revalidated against the server in the background. A miss fetches
// from the server with the loading flag up.
func (s *Session) Hydrate() {
	snap, fresh := s.cache.Read(s.conn.Identity)
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.hydrateGen++
	gen := s.hydrateGen
	if fresh != cache.Miss {
		entries := snap.Entries()
		// applying what the cache just gave us back to the cache would be
		// a no-op, so this is the one unpersisted mutation
		s.apply(false, func() {
			s.files = manifest.Merge(entries, s.files)
		})
		s.loading = false
		s.loadError = ""
		if fresh == cache.Fresh {
			s.m.Unlock()
			return
		}
	} else {
		s.loading = true
		s.loadError = ""
	}
	s.m.Unlock()
	s.fetch(gen)
}

// Refresh bypasses the cache and fetches the authoritative list from the
// server. Whatever is currently shown stays visible until the fetch lands.
func (s *Session) Refresh() {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.hydrateGen++
	gen := s.hydrateGen
	s.loading = true
	s.loadError = ""
	s.m.Unlock()
	s.fetch(gen)
}

// fetch lists the server's uploads and, if this fetch has not been
// superseded by a newer Hydrate or Refresh, replaces the persisted subset
// of the visible list with the server's answer. Transient entries and
// their in-flight uploads are untouched either way.
func (s *Session) fetch(gen int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		infos, err := s.conn.ListUploads(s.ctx)
		s.m.Lock()
		defer s.m.Unlock()
		if s.closed || gen != s.hydrateGen {
			return
		}
		s.loading = false
		if err != nil {
			// keep showing what we have; a cache write here would also
			// wrongly re-date the record
			s.loadError = err.Error()
			return
		}
		s.loadError = ""
		server := s.entriesFromServer(infos)
		s.apply(true, func() {
			s.files = manifest.Merge(server, s.files)
		})
	}()
}

// entriesFromServer converts the backend's records into visible entries.
// Entries already on screen with the same slug keep their row ID, so a
// revalidation does not make the display forget which row is which.
// Caller must hold s.m.
func (s *Session) entriesFromServer(infos []api.FileInfo) []manifest.FileEntry {
	byslug := make(map[string]string)
	for _, e := range s.files {
		if e.Slug != "" {
			byslug[e.Slug] = e.ID
		}
	}
	result := make([]manifest.FileEntry, 0, len(infos))
	for _, fi := range infos {
		e := manifest.FileEntry{
			ID:        uuid.NewString(),
			Name:      fi.FileName,
			Size:      fi.Size,
			Status:    fi.Status,
			Slug:      fi.Slug,
			RemoteURL: fi.RemoteURL,
			Persisted: true,
		}
		if id, ok := byslug[fi.Slug]; ok {
			e.ID = id
		}
		result = append(result, e)
	}
	return result
}
