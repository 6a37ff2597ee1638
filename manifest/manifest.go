// Package manifest holds the data model for a user's uploaded-document set:
// the per-file entries shown in the visible list, the serializable snapshot
// written to the client cache, and the state of the server-side fill job.
package manifest

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of one file entry.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusError      Status = "error"
)

// ParseStatus maps a server-reported status string onto a Status. Anything
// unrecognized is treated as StatusError so a misbehaving server cannot put
// an entry into a state the rest of the system does not understand.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusUploading, StatusUploaded, StatusProcessing:
		return Status(s)
	}
	return StatusError
}

// FileEntry is one row in the visible manifest.
//
// An entry with a Slug is "persisted": the server has confirmed storage.
// An entry without one is "transient": it exists only optimistically on
// this client and is never written to the cache.
type FileEntry struct {
	ID        string `json:"-"` // process-local row identity, never sent anywhere
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Status    Status `json:"status"`
	Slug      string `json:"slug"`
	RemoteURL string `json:"remoteUrl"`
	Error     string `json:"-"`
	Deleting  bool   `json:"-"`
	Persisted bool   `json:"-"`
}

// NewEntry creates a transient entry for a file the user just picked.
func NewEntry(name string, size int64) FileEntry {
	if size < 0 {
		size = 0
	}
	return FileEntry{
		ID:     uuid.NewString(),
		Name:   name,
		Size:   size,
		Status: StatusUploading,
	}
}

// Merge combines the server-confirmed entries with the current visible
// list: the server entries come first, followed by every visible entry not
// yet confirmed, each subgroup keeping its relative order. This is the
// single function behind every mutation of the visible list, so the cached
// persisted subset can never drift from what is shown.
func Merge(server, visible []FileEntry) []FileEntry {
	result := make([]FileEntry, 0, len(server)+len(visible))
	result = append(result, server...)
	for _, e := range visible {
		if !e.Persisted {
			result = append(result, e)
		}
	}
	return result
}

// Snapshot is the serializable cache payload: a timestamp plus the
// persisted entries known at that time.
type Snapshot struct {
	SavedAt time.Time   `json:"savedAt"`
	Files   []FileEntry `json:"files"`
}

// NewSnapshot builds a snapshot of the persisted subset of entries.
// Transient entries are dropped so an abandoned upload can never be
// resurrected from the cache after a reload.
func NewSnapshot(now time.Time, entries []FileEntry) Snapshot {
	snap := Snapshot{SavedAt: now}
	for _, e := range entries {
		if e.Persisted && e.Slug != "" {
			snap.Files = append(snap.Files, e)
		}
	}
	return snap
}

// Entries rebuilds displayable entries from the snapshot. Each gets a fresh
// row ID and is marked persisted.
func (s Snapshot) Entries() []FileEntry {
	result := make([]FileEntry, 0, len(s.Files))
	for _, e := range s.Files {
		e.ID = uuid.NewString()
		e.Persisted = true
		e.Error = ""
		e.Deleting = false
		result = append(result, e)
	}
	return result
}

// JobStatus is the lifecycle state of the fill job.
type JobStatus string

const (
	JobIdle     JobStatus = "idle"
	JobQueued   JobStatus = "queued"
	JobFilling  JobStatus = "filling"
	JobComplete JobStatus = "complete"
	JobError    JobStatus = "error"
)

// Terminal reports whether no further polling should occur.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobError
}

// ParseJobStatus maps a server-reported job status onto a JobStatus.
// Anything unrecognized is JobError, which is terminal, so a bad server
// answer ends the polling loop instead of spinning on it.
func ParseJobStatus(s string) JobStatus {
	switch JobStatus(s) {
	case JobQueued, JobFilling, JobComplete:
		return JobStatus(s)
	}
	return JobError
}

// JobState is the one live fill job per process.
type JobState struct {
	Status    JobStatus
	JobID     string
	ResultURL string
	Error     string
}
