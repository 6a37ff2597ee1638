package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
)

func TestListUploads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		require.Equal(t, "/uploads", r.URL.Path)
		require.Equal(t, "u-1", r.URL.Query().Get("identity"))
		fmt.Fprint(w, `{"files":[
			{"slug":"s1","fileName":"a.pdf","size":100,"status":"uploaded","remoteUrl":"/uploads/s1/content"},
			{"slug":"s2","fileName":"b.pdf","size":5,"status":"processing","remoteUrl":"/uploads/s2/content"}
		]}`)
	}))
	defer srv.Close()

	c := &Connection{HostURL: srv.URL, Identity: "u-1"}
	files, err := c.ListUploads(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "s1", files[0].Slug)
	require.Equal(t, manifest.StatusUploaded, files[0].Status)
	require.Equal(t, int64(100), files[0].Size)
	require.Equal(t, manifest.StatusProcessing, files[1].Status)
}

func TestUploadMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "u-1", r.FormValue("identity"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		require.Equal(t, "tax.pdf", hdr.Filename)
		require.Equal(t, "%PDF-1.4 pretend", string(body))
		fmt.Fprint(w, `{"status":"uploaded","slug":"abc","remoteUrl":"/uploads/abc/content","size":16}`)
	}))
	defer srv.Close()

	c := &Connection{HostURL: srv.URL, Identity: "u-1"}
	info, err := c.Upload(context.Background(), "tax.pdf", strings.NewReader("%PDF-1.4 pretend"), "")
	require.NoError(t, err)
	require.Equal(t, "abc", info.Slug)
	require.Equal(t, int64(16), info.Size)
	require.Equal(t, manifest.StatusUploaded, info.Status)
	require.Equal(t, "tax.pdf", info.FileName)
}

func TestConcurrentFirstRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"files":[]}`)
	}))
	defer srv.Close()

	// several goroutines race to issue the very first request on a fresh
	// connection; the lazy client init must hold up under the race
	// detector
	c := &Connection{HostURL: srv.URL, Identity: "u-1"}
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.ListUploads(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestDeleteUpload(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "DELETE", r.Method)
		require.Equal(t, "/uploads/abc", r.URL.Path)
	}))
	defer srv.Close()

	c := &Connection{HostURL: srv.URL, Identity: "u-1"}
	require.NoError(t, c.DeleteUpload(context.Background(), "abc"))
	require.Equal(t, 1, calls)
}

func TestJobRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/form-fill":
			body, _ := io.ReadAll(r.Body)
			require.JSONEq(t, `{"identity":"u-1","targetLink":"https://x/form"}`, string(body))
			fmt.Fprint(w, `{"jobId":"J1","status":"queued"}`)
		case r.Method == "GET" && r.URL.Path == "/form-fill/J1":
			require.Equal(t, "https://x/form", r.URL.Query().Get("formUrl"))
			fmt.Fprint(w, `{"jobId":"J1","status":"complete","resultUrl":"https://x/y.pdf"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
	}))
	defer srv.Close()

	c := &Connection{HostURL: srv.URL, Identity: "u-1"}
	job, err := c.CreateJob(context.Background(), "https://x/form")
	require.NoError(t, err)
	require.Equal(t, "J1", job.JobID)
	require.Equal(t, manifest.JobQueued, job.Status)

	job, err = c.JobStatus(context.Background(), "J1", "https://x/form")
	require.NoError(t, err)
	require.True(t, job.Status.Terminal())
	require.Equal(t, "https://x/y.pdf", job.ResultURL)
}

func TestErrorMessageShapes(t *testing.T) {
	var table = []struct {
		name string
		body string
		want string
	}{
		{"detail", `{"detail":"file too large"}`, "file too large"},
		{"message", `{"message":"no such identity"}`, "no such identity"},
		{"plaintext", "upload rejected\n", "upload rejected"},
		{"other json", `{"oops":1}`, genericErrMsg},
		{"empty", "", genericErrMsg},
	}
	for _, tab := range table {
		t.Run(tab.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(500)
				io.WriteString(w, tab.body)
			}))
			defer srv.Close()
			c := &Connection{HostURL: srv.URL, Identity: "u-1"}
			_, err := c.ListUploads(context.Background())
			require.EqualError(t, err, tab.want)
		})
	}
}
