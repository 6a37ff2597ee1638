// Package session is the state synchronization engine behind the document
// list and the fill job. A Session owns the visible file entries and the
// one live job state, reconciles them against the manifest cache and the
// backend, and runs the per-file upload and job polling state machines.
//
// All shared state is guarded by one mutex, and every completion of an
// asynchronous operation re-checks that it is still relevant (the session
// is open, the entry still exists, the hydrate or job cycle has not been
// superseded) before committing, since operations finish in any order.
package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/viktor-shcherb/pdf-form-filling-app/api"
	"github.com/viktor-shcherb/pdf-form-filling-app/cache"
	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
	"github.com/viktor-shcherb/pdf-form-filling-app/util"
)

const (
	// maxConcurrentUploads bounds how many upload requests run at once.
	// More just wait in the gate.
	maxConcurrentUploads = 3

	// pollInterval is the fixed delay between fill job status polls.
	pollInterval = 2 * time.Second

	// a server-side "processing" answer is masked locally by one delayed
	// transition to "uploaded", somewhere in this window.
	procDelayMin = 1200 * time.Millisecond
	procDelayMax = 2400 * time.Millisecond
)

// A Session drives one identity's manifest and fill job.
type Session struct {
	conn  *api.Connection
	cache *cache.Cache
	sched *util.Scheduler
	gate  util.Gate
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	m          sync.Mutex
	files      []manifest.FileEntry
	job        manifest.JobState
	loading    bool
	loadError  string
	targetLink string
	hydrateGen int // bumped by each Hydrate/Refresh; stale fetches are dropped
	jobGen     int // bumped by each StartFill and by Close; stale polls are dropped
	pollTimer  *util.Timer
	procTimers map[string]*util.Timer // entry id -> pending processing transition
	closed     bool
}

// New creates a session for the identity carried by conn, persisting
// manifest snapshots through c.
func New(conn *api.Connection, c *cache.Cache) *Session {
	return NewWithScheduler(conn, c, util.NewScheduler())
}

// NewWithScheduler is New with a caller-provided scheduler, so tests can
// run the timed transitions off a mock clock.
func NewWithScheduler(conn *api.Connection, c *cache.Cache, sched *util.Scheduler) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:       conn,
		cache:      c,
		sched:      sched,
		gate:       util.NewGate(maxConcurrentUploads),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:        ctx,
		cancel:     cancel,
		job:        manifest.JobState{Status: manifest.JobIdle},
		procTimers: make(map[string]*util.Timer),
	}
}

// State is a copy of everything a display layer needs.
type State struct {
	Files     []manifest.FileEntry
	Job       manifest.JobState
	Loading   bool
	LoadError string
}

// State returns a snapshot of the current visible state.
func (s *Session) State() State {
	s.m.Lock()
	defer s.m.Unlock()
	files := make([]manifest.FileEntry, len(s.files))
	copy(files, s.files)
	return State{
		Files:     files,
		Job:       s.job,
		Loading:   s.loading,
		LoadError: s.loadError,
	}
}

// Close tears the session down: pending timers are cancelled, in-flight
// requests are aborted, and any results that still arrive are discarded.
func (s *Session) Close() {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.closed = true
	s.jobGen++
	s.stopPoll()
	for id, t := range s.procTimers {
		t.Stop()
		delete(s.procTimers, id)
	}
	s.m.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every in-flight upload and delete has settled and no
// simulated processing transition is pending. Meant for the command line
// front end; not needed when polling State from a UI loop.
func (s *Session) Wait() {
	s.wg.Wait()
	for {
		s.m.Lock()
		n := len(s.procTimers)
		s.m.Unlock()
		if n == 0 {
			return
		}
		s.sched.Sleep(50 * time.Millisecond)
	}
}

// apply runs a mutation of the visible state and then mirrors the
// persisted subset of the resulting list into the cache, so the cache can
// never drift from what is shown. The caller must hold s.m. persist is
// false in exactly one place: when entries just read from the cache are
// applied back into view, where an immediate write-back would be
// redundant.
func (s *Session) apply(persist bool, fn func()) {
	fn()
	if persist && !s.closed {
		s.cache.Write(s.conn.Identity, manifest.NewSnapshot(s.sched.Now(), s.files))
	}
}

// index returns the position of the entry with the given row id, or -1.
// The caller must hold s.m.
func (s *Session) index(id string) int {
	for i := range s.files {
		if s.files[i].ID == id {
			return i
		}
	}
	return -1
}

// stopPoll cancels the pending poll timer, if any. Caller must hold s.m.
func (s *Session) stopPoll() {
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
}

// Delete removes the entry with the given row id. A transient entry is
// dropped locally with no network call. A persisted entry is removed only
// after the backend confirms the delete; on failure the entry stays with
// its error set.
func (s *Session) Delete(id string) {
	s.m.Lock()
	i := s.index(id)
	if i < 0 || s.files[i].Deleting {
		s.m.Unlock()
		return
	}
	e := s.files[i]
	if e.Slug == "" {
		if t := s.procTimers[id]; t != nil {
			t.Stop()
			delete(s.procTimers, id)
		}
		s.apply(true, func() { s.remove(id) })
		s.m.Unlock()
		return
	}
	s.apply(true, func() {
		s.files[i].Deleting = true
		s.files[i].Error = ""
	})
	s.m.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.conn.DeleteUpload(s.ctx, e.Slug)
		s.m.Lock()
		defer s.m.Unlock()
		if s.closed || s.index(id) < 0 {
			return
		}
		if err != nil {
			s.apply(true, func() {
				i := s.index(id)
				s.files[i].Deleting = false
				s.files[i].Error = err.Error()
			})
			return
		}
		if t := s.procTimers[id]; t != nil {
			t.Stop()
			delete(s.procTimers, id)
		}
		s.apply(true, func() { s.remove(id) })
	}()
}

// remove drops the entry with the given row id from the visible list.
// Caller must hold s.m.
func (s *Session) remove(id string) {
	i := s.index(id)
	if i < 0 {
		return
	}
	s.files = append(s.files[:i], s.files[i+1:]...)
}
