package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func persisted(slug, name string) FileEntry {
	e := NewEntry(name, 100)
	e.Slug = slug
	e.RemoteURL = "/uploads/" + slug + "/content"
	e.Status = StatusUploaded
	e.Persisted = true
	return e
}

func TestMergeOrdering(t *testing.T) {
	server := []FileEntry{persisted("s1", "a.pdf"), persisted("s2", "b.pdf")}
	pending := NewEntry("c.pdf", 5)
	older := NewEntry("d.pdf", 7)
	visible := []FileEntry{older, persisted("gone", "x.pdf"), pending}

	got := Merge(server, visible)
	require.Len(t, got, 4)
	// server entries first, then transient entries in insertion order
	require.Equal(t, "s1", got[0].Slug)
	require.Equal(t, "s2", got[1].Slug)
	require.Equal(t, older.ID, got[2].ID)
	require.Equal(t, pending.ID, got[3].ID)
}

func TestMergeIdempotentOnPersisted(t *testing.T) {
	server := []FileEntry{persisted("s1", "a.pdf"), persisted("s2", "b.pdf")}
	once := Merge(server, nil)
	twice := Merge(server, once)
	require.Equal(t, once, twice)
}

func TestMergeEmpty(t *testing.T) {
	require.Empty(t, Merge(nil, nil))
}

func TestSnapshotDropsTransient(t *testing.T) {
	now := time.Now()
	entries := []FileEntry{
		persisted("s1", "a.pdf"),
		NewEntry("pending.pdf", 3),
		persisted("s2", "b.pdf"),
	}
	// a failed upload keeps Persisted=false even though it has an error set
	failed := NewEntry("failed.pdf", 4)
	failed.Status = StatusError
	failed.Error = "boom"
	entries = append(entries, failed)

	snap := NewSnapshot(now, entries)
	require.Equal(t, now, snap.SavedAt)
	require.Len(t, snap.Files, 2)
	for _, e := range snap.Files {
		require.NotEmpty(t, e.Slug)
	}
}

func TestSnapshotEntriesFreshIDs(t *testing.T) {
	orig := persisted("s1", "a.pdf")
	snap := NewSnapshot(time.Now(), []FileEntry{orig})
	out := snap.Entries()
	require.Len(t, out, 1)
	require.NotEqual(t, orig.ID, out[0].ID)
	require.True(t, out[0].Persisted)
	require.Equal(t, "s1", out[0].Slug)
}

func TestParseStatus(t *testing.T) {
	require.Equal(t, StatusProcessing, ParseStatus("processing"))
	require.Equal(t, StatusUploaded, ParseStatus("uploaded"))
	require.Equal(t, StatusError, ParseStatus("banana"))
}

func TestJobStatusTerminal(t *testing.T) {
	require.False(t, JobIdle.Terminal())
	require.False(t, JobQueued.Terminal())
	require.False(t, JobFilling.Terminal())
	require.True(t, JobComplete.Terminal())
	require.True(t, JobError.Terminal())
	require.Equal(t, JobError, ParseJobStatus("??"))
}
