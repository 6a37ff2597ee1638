// Package api is the HTTP client for the form-filling backend. It speaks
// the backend's REST contract and nothing else; all state lives with the
// caller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"

	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
)

// A Connection talks to one backend on behalf of one identity. It can be
// shared between multiple goroutines.
type Connection struct {
	// HostURL is the backend base URL, e.g. "http://localhost:15000".
	HostURL string

	// Identity is the opaque user identity sent with every request.
	Identity string

	// Timeout bounds every request. The backend imposes no timeout of its
	// own, and a hung request would otherwise stall its entry or job
	// forever; 60 seconds is long enough for any upload we expect.
	// Zero means use the default.
	Timeout time.Duration

	once   sync.Once
	client *http.Client
}

const defaultTimeout = 60 * time.Second

// genericErrMsg is used when an error response body cannot be understood.
const genericErrMsg = "the server reported an error"

// FileInfo is the backend's record of one stored upload.
type FileInfo struct {
	Slug      string
	FileName  string
	Size      int64
	Status    manifest.Status
	RemoteURL string
}

// JobInfo is the backend's answer about a fill job.
type JobInfo struct {
	JobID     string
	Status    manifest.JobStatus
	ResultURL string
}

// ListUploads fetches the authoritative manifest for the connection's
// identity.
func (c *Connection) ListUploads(ctx context.Context) ([]FileInfo, error) {
	v, err := c.doJSON(ctx, "GET", "/uploads?identity="+url.QueryEscape(c.Identity), "", nil)
	if err != nil {
		return nil, err
	}
	files, err := v.GetObjectArray("files")
	if err != nil {
		return nil, errors.Wrap(err, "decoding upload list")
	}
	result := make([]FileInfo, 0, len(files))
	for _, f := range files {
		result = append(result, fileInfoFromJSON(f))
	}
	return result, nil
}

// Upload stores one file on the backend and returns its confirmed record.
// targetLink is optional and only recorded by the server.
func (c *Connection) Upload(ctx context.Context, name string, r io.Reader, targetLink string) (FileInfo, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("identity", c.Identity)
	if targetLink != "" {
		mw.WriteField("target-link", targetLink)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err == nil {
		_, err = io.Copy(fw, r)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return FileInfo{}, errors.Wrap(err, "building upload request")
	}

	v, err := c.doJSON(ctx, "POST", "/uploads", mw.FormDataContentType(), &body)
	if err != nil {
		return FileInfo{}, err
	}
	info := fileInfoFromJSON(v)
	if info.FileName == "" {
		info.FileName = name
	}
	return info, nil
}

// DeleteUpload removes the upload with the given slug.
func (c *Connection) DeleteUpload(ctx context.Context, slug string) error {
	path := "/uploads/" + url.PathEscape(slug) + "?identity=" + url.QueryEscape(c.Identity)
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.HostURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New(errorMessage(resp))
	}
	return nil
}

// CreateJob submits a fill job for the given target link and returns the
// backend's initial view of it.
func (c *Connection) CreateJob(ctx context.Context, targetLink string) (JobInfo, error) {
	buf, _ := json.Marshal(struct {
		Identity   string `json:"identity"`
		TargetLink string `json:"targetLink"`
	}{c.Identity, targetLink})
	v, err := c.doJSON(ctx, "POST", "/form-fill", "application/json", bytes.NewReader(buf))
	if err != nil {
		return JobInfo{}, err
	}
	return jobInfoFromJSON(v), nil
}

// JobStatus re-requests the state of a fill job by its id.
func (c *Connection) JobStatus(ctx context.Context, jobID, formURL string) (JobInfo, error) {
	path := "/form-fill/" + url.PathEscape(jobID) +
		"?identity=" + url.QueryEscape(c.Identity) +
		"&formUrl=" + url.QueryEscape(formURL)
	v, err := c.doJSON(ctx, "GET", path, "", nil)
	if err != nil {
		return JobInfo{}, err
	}
	info := jobInfoFromJSON(v)
	if info.JobID == "" {
		info.JobID = jobID
	}
	return info, nil
}

// do performs the request with our client. The client is created lazily
// so a zero Connection works; the init is under a sync.Once since several
// goroutines may issue their first request at the same time.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	c.once.Do(func() {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		c.client = &http.Client{Timeout: timeout}
	})
	return c.client.Do(req)
}

// doJSON performs a request and decodes a JSON object out of a 2xx
// response. Other responses become an error carrying whatever message
// could be dug out of the body.
func (c *Connection) doJSON(ctx context.Context, method, path, contentType string, body io.Reader) (*jason.Object, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.HostURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(errorMessage(resp))
	}
	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "decoding response")
	}
	return v, nil
}

// errorMessage extracts a human readable message from an error response.
// The backend answers with {"detail": …}, other servers in the wild use
// {"message": …} or plain text; anything else gets a generic message.
func errorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return genericErrMsg
	}
	if v, err := jason.NewObjectFromBytes(body); err == nil {
		if msg, err := v.GetString("detail"); err == nil && msg != "" {
			return msg
		}
		if msg, err := v.GetString("message"); err == nil && msg != "" {
			return msg
		}
		return genericErrMsg
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return genericErrMsg
	}
	return msg
}

func fileInfoFromJSON(v *jason.Object) FileInfo {
	var info FileInfo
	info.Slug, _ = v.GetString("slug")
	info.FileName, _ = v.GetString("fileName")
	info.Size, _ = v.GetInt64("size")
	info.RemoteURL, _ = v.GetString("remoteUrl")
	status, _ := v.GetString("status")
	info.Status = manifest.ParseStatus(status)
	return info
}

func jobInfoFromJSON(v *jason.Object) JobInfo {
	var info JobInfo
	info.JobID, _ = v.GetString("jobId")
	info.ResultURL, _ = v.GetString("resultUrl")
	status, _ := v.GetString("status")
	info.Status = manifest.ParseJobStatus(status)
	return info
}
