package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viktor-shcherb/pdf-form-filling-app/api"
	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
	"github.com/viktor-shcherb/pdf-form-filling-app/store"
)

func newTestServer(t *testing.T) (*RESTServer, *api.Connection) {
	s := &RESTServer{
		UploadStore: store.NewMemory(),
		JobStore:    store.NewMemory(),
	}
	s.setup()
	ts := httptest.NewServer(s.addRoutes())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, &api.Connection{HostURL: ts.URL, Identity: "u-1"}
}

const pdfBody = "%PDF-1.4 pretend document"

func TestUploadListDelete(t *testing.T) {
	_, conn := newTestServer(t)
	ctx := context.Background()

	info, err := conn.Upload(ctx, "tax.pdf", strings.NewReader(pdfBody), "")
	require.NoError(t, err)
	require.NotEmpty(t, info.Slug)
	require.Equal(t, manifest.StatusUploaded, info.Status)
	require.Equal(t, int64(len(pdfBody)), info.Size)

	files, err := conn.ListUploads(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "tax.pdf", files[0].FileName)
	require.Equal(t, "/uploads/"+info.Slug+"/content", files[0].RemoteURL)

	// other identities do not see it
	other := &api.Connection{HostURL: conn.HostURL, Identity: "u-2"}
	files, err = other.ListUploads(ctx)
	require.NoError(t, err)
	require.Empty(t, files)

	// and cannot delete it
	require.Error(t, other.DeleteUpload(ctx, info.Slug))

	require.NoError(t, conn.DeleteUpload(ctx, info.Slug))
	files, err = conn.ListUploads(ctx)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestUploadContent(t *testing.T) {
	_, conn := newTestServer(t)
	info, err := conn.Upload(context.Background(), "tax.pdf", strings.NewReader(pdfBody), "")
	require.NoError(t, err)

	resp, err := http.Get(conn.HostURL + info.RemoteURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, pdfBody, string(body))
	require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
}

func TestSniffSettlesNonPDF(t *testing.T) {
	_, conn := newTestServer(t)
	ctx := context.Background()

	// junk before the header is tolerated
	info, err := conn.Upload(ctx, "odd.pdf", strings.NewReader("junk\n%PDF-1.4"), "")
	require.NoError(t, err)
	require.Equal(t, manifest.StatusProcessing, info.Status)
	waitStatus(t, conn, info.Slug, manifest.StatusUploaded)

	// plain text is not
	info, err = conn.Upload(ctx, "notes.txt", strings.NewReader("dear diary"), "")
	require.NoError(t, err)
	require.Equal(t, manifest.StatusProcessing, info.Status)
	waitStatus(t, conn, info.Slug, manifest.StatusError)
}

func waitStatus(t *testing.T, conn *api.Connection, slug string, want manifest.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		files, err := conn.ListUploads(context.Background())
		if err != nil {
			return false
		}
		for _, f := range files {
			if f.Slug == slug {
				return f.Status == want
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJobLifecycle(t *testing.T) {
	_, conn := newTestServer(t)
	ctx := context.Background()

	_, err := conn.Upload(ctx, "tax.pdf", strings.NewReader(pdfBody), "")
	require.NoError(t, err)

	job, err := conn.CreateJob(ctx, "https://forms.example/f1")
	require.NoError(t, err)
	require.NotEmpty(t, job.JobID)
	require.False(t, job.Status == manifest.JobError)

	require.Eventually(t, func() bool {
		job, err = conn.JobStatus(ctx, job.JobID, "https://forms.example/f1")
		return err == nil && job.Status == manifest.JobComplete
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "/form-fill/"+job.JobID+"/result", job.ResultURL)

	resp, err := http.Get(conn.HostURL + job.ResultURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.True(t, strings.HasPrefix(string(body), "%PDF"))
	require.Contains(t, string(body), "forms.example/f1")
}

func TestJobValidation(t *testing.T) {
	_, conn := newTestServer(t)
	ctx := context.Background()

	_, err := conn.CreateJob(ctx, "ftp://forms.example/f1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "targetLink")

	_, err = conn.JobStatus(ctx, "no-such-job", "https://forms.example/f1")
	require.EqualError(t, err, "no such job")

	// a job belongs to its identity
	job, err := conn.CreateJob(ctx, "https://forms.example/f1")
	require.NoError(t, err)
	other := &api.Connection{HostURL: conn.HostURL, Identity: "u-2"}
	_, err = other.JobStatus(ctx, job.JobID, "https://forms.example/f1")
	require.EqualError(t, err, "no such job")
}

func TestJobRefusedWhileUploadPending(t *testing.T) {
	s, conn := newTestServer(t)
	ctx := context.Background()

	// park a processing record directly so the sniff worker cannot race us
	require.NoError(t, s.uploads.save(uploadRecord{
		Slug:     "stuck",
		Identity: "u-1",
		FileName: "stuck.pdf",
		Status:   manifest.StatusProcessing,
	}))

	_, err := conn.CreateJob(ctx, "https://forms.example/f1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "has not finished")
}
