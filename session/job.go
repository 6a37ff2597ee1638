package session

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/viktor-shcherb/pdf-form-filling-app/api"
	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
	"github.com/viktor-shcherb/pdf-form-filling-app/util"
)

// Errors returned by StartFill when its preconditions do not hold.
var (
	ErrInvalidLink    = errors.New("target link must be an absolute http or https URL")
	ErrUploadsPending = errors.New("every file must finish uploading first")
	ErrJobActive      = errors.New("a form filling job is already running")
	ErrClosed         = errors.New("session is closed")
)

// jobFailedMsg is shown when the server reports a failed job without
// saying why.
const jobFailedMsg = "the form could not be filled"

// StartFill submits a fill job for the given form link. It refuses unless
// the link is a usable http or https URL, every visible entry has finished
// uploading, and no job is currently queued or filling. A finished job's
// state is replaced by the new one.
func (s *Session) StartFill(link string) error {
	link = strings.TrimSpace(link)
	if !util.ValidLink(link) {
		return ErrInvalidLink
	}
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.job.Status == manifest.JobQueued || s.job.Status == manifest.JobFilling {
		return ErrJobActive
	}
	for _, e := range s.files {
		if e.Status != manifest.StatusUploaded {
			return ErrUploadsPending
		}
	}
	s.targetLink = link
	s.jobGen++
	gen := s.jobGen
	s.stopPoll()
	s.job = manifest.JobState{Status: manifest.JobQueued}
	s.wg.Add(1)
	go s.createJob(gen, link)
	return nil
}

// CancelFill abandons the current job locally. The pending poll timer is
// stopped and any in-flight answer for the old job is discarded; the
// server is free to finish the job on its own.
func (s *Session) CancelFill() {
	s.m.Lock()
	defer s.m.Unlock()
	if s.job.Status == manifest.JobIdle {
		return
	}
	s.jobGen++
	s.stopPoll()
	s.job = manifest.JobState{Status: manifest.JobIdle}
}

func (s *Session) createJob(gen int, link string) {
	defer s.wg.Done()
	info, err := s.conn.CreateJob(s.ctx, link)
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed || gen != s.jobGen {
		return
	}
	if err != nil {
		s.job = manifest.JobState{Status: manifest.JobError, Error: err.Error()}
		return
	}
	s.applyJob(gen, info)
}

// applyJob folds a backend answer into the job state, and schedules the
// next poll when the job is not yet terminal. Caller must hold s.m, and
// must already have checked gen against jobGen.
func (s *Session) applyJob(gen int, info api.JobInfo) {
	s.job = manifest.JobState{
		Status:    info.Status,
		JobID:     info.JobID,
		ResultURL: info.ResultURL,
	}
	if s.job.Status == manifest.JobError {
		s.job.Error = jobFailedMsg
	}
	if s.job.Status.Terminal() {
		s.stopPoll()
		return
	}
	s.schedulePoll(gen)
}

// schedulePoll arms the single re-poll timer. Caller must hold s.m.
func (s *Session) schedulePoll(gen int) {
	s.stopPoll()
	s.pollTimer = s.sched.After(pollInterval, func() { s.poll(gen) })
}

// poll asks the server about the current job once. A transport or decode
// failure is terminal; there is no poll retry.
func (s *Session) poll(gen int) {
	s.m.Lock()
	if s.closed || gen != s.jobGen || s.job.Status.Terminal() {
		s.m.Unlock()
		return
	}
	jobID := s.job.JobID
	link := s.targetLink
	s.pollTimer = nil
	s.m.Unlock()

	info, err := s.conn.JobStatus(s.ctx, jobID, link)

	s.m.Lock()
	defer s.m.Unlock()
	if s.closed || gen != s.jobGen {
		return
	}
	if err != nil {
		s.job = manifest.JobState{Status: manifest.JobError, JobID: jobID, Error: err.Error()}
		s.stopPoll()
		return
	}
	s.applyJob(gen, info)
}
