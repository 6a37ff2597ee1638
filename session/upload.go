package session

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
)

// Upload registers a new file and starts sending it. The entry appears
// immediately as a transient "uploading" row; it becomes persisted only
// once the server acknowledges storage. The returned row id identifies the
// entry in later Delete and Retry calls.
func (s *Session) Upload(name string, size int64, r io.Reader) string {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return ""
	}
	e := manifest.NewEntry(name, size)
	link := s.targetLink
	s.apply(true, func() {
		s.files = append(s.files, e)
	})
	s.m.Unlock()
	s.transfer(e.ID, name, link, r)
	return e.ID
}

// Retry restarts a failed upload with fresh content. Only transient rows
// in the error state can be retried; everything else is refused.
func (s *Session) Retry(id string, r io.Reader) bool {
	s.m.Lock()
	i := s.index(id)
	if i < 0 || s.files[i].Persisted || s.files[i].Status != manifest.StatusError {
		s.m.Unlock()
		return false
	}
	name := s.files[i].Name
	link := s.targetLink
	s.apply(true, func() {
		s.files[i].Status = manifest.StatusUploading
		s.files[i].Error = ""
	})
	s.m.Unlock()
	s.transfer(id, name, link, r)
	return true
}

// transfer runs one upload request on its own goroutine, bounded by the
// gate, and commits the outcome to the entry if it still exists.
func (s *Session) transfer(id, name, link string, r io.Reader) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.gate.Enter()
		defer s.gate.Leave()
		info, err := s.conn.Upload(s.ctx, name, r, link)
		if err == nil && info.Slug == "" {
			err = errors.New("the server did not store the file")
		}
		if err == nil && info.Status != manifest.StatusUploaded && info.Status != manifest.StatusProcessing {
			// an ack that is not a storage confirmation is a failure, no
			// matter what the response code said
			err = errors.New("the server rejected the file")
		}

		s.m.Lock()
		defer s.m.Unlock()
		if s.closed {
			return
		}
		i := s.index(id)
		if i < 0 {
			// removed while the request was in flight
			return
		}
		if err != nil {
			s.apply(true, func() {
				s.files[i].Status = manifest.StatusError
				s.files[i].Error = err.Error()
			})
			return
		}
		s.apply(true, func() {
			e := &s.files[i]
			e.Slug = info.Slug
			e.RemoteURL = info.RemoteURL
			e.Persisted = true
			e.Error = ""
			e.Status = info.Status
			if info.Size > 0 {
				e.Size = info.Size
			}
		})
		if s.files[i].Status == manifest.StatusProcessing {
			s.delayProcessing(id)
		}
	}()
}

// delayProcessing schedules the single delayed processing→uploaded
// transition for an entry the server acknowledged as still processing.
// The delay is jittered so a batch of uploads does not settle in lockstep.
// Caller must hold s.m.
func (s *Session) delayProcessing(id string) {
	d := procDelayMin + time.Duration(s.rng.Int63n(int64(procDelayMax-procDelayMin)))
	s.procTimers[id] = s.sched.After(d, func() { s.finishProcessing(id) })
}

func (s *Session) finishProcessing(id string) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.procTimers[id] == nil {
		// cancelled by Close or Delete after the timer fired
		return
	}
	delete(s.procTimers, id)
	if s.closed {
		return
	}
	i := s.index(id)
	if i < 0 || s.files[i].Status != manifest.StatusProcessing {
		return
	}
	s.apply(true, func() {
		s.files[i].Status = manifest.StatusUploaded
	})
}
