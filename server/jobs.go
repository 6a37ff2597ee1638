package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
	"github.com/viktor-shcherb/pdf-form-filling-app/store"
	"github.com/viktor-shcherb/pdf-form-filling-app/util"
)

// Job is one form fill request and its progress.
type Job struct {
	ID         string             `json:"id"`
	Identity   string             `json:"identity"`
	TargetLink string             `json:"targetLink"`
	Status     manifest.JobStatus `json:"status"`
	ResultURL  string             `json:"resultUrl,omitempty"`
	Note       string             `json:"note,omitempty"`
	Created    time.Time          `json:"created"`
	Modified   time.Time          `json:"modified"`
}

// jobRegistry keeps job records and their rendered results in two
// prefixed views of one store, and mirrors every record into the JobDB
// when one is configured.
type jobRegistry struct {
	m       sync.RWMutex
	meta    store.JSONStore
	results store.Store
	db      JobDB
}

func newJobRegistry(base store.Store, db JobDB) *jobRegistry {
	return &jobRegistry{
		meta:    store.NewJSON(store.NewWithPrefix(base, "job")),
		results: store.NewWithPrefix(base, "r"),
		db:      db,
	}
}

func (reg *jobRegistry) lookup(id string) (Job, bool) {
	reg.m.RLock()
	defer reg.m.RUnlock()
	var j Job
	err := reg.meta.Open(id, &j)
	return j, err == nil
}

func (reg *jobRegistry) save(j Job) error {
	reg.m.Lock()
	defer reg.m.Unlock()
	j.Modified = time.Now()
	err := reg.meta.Save(j.ID, j)
	if err == nil && reg.db != nil {
		if err2 := reg.db.SaveJob(j); err2 != nil {
			log.Println("job db:", j.ID, err2)
		}
	}
	return err
}

// list returns the ids of every non-terminal job, for requeueing after a
// restart.
func (reg *jobRegistry) list() []string {
	reg.m.RLock()
	defer reg.m.RUnlock()
	var result []string
	for id := range reg.meta.List() {
		var j Job
		if err := reg.meta.Open(id, &j); err != nil {
			continue
		}
		if !j.Status.Terminal() {
			result = append(result, id)
		}
	}
	return result
}

// NewJobHandler handles requests to POST /form-fill. The body is JSON
// with "identity" and "targetLink". The job is refused unless the link is
// usable and every upload belonging to the identity has settled.
func (s *RESTServer) NewJobHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Identity   string `json:"identity"`
		TargetLink string `json:"targetLink"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, 400, "could not decode the request body")
		return
	}
	if body.Identity == "" {
		writeDetail(w, 400, "identity is required")
		return
	}
	if !util.ValidLink(body.TargetLink) {
		writeDetail(w, 400, "targetLink must be an absolute http or https URL")
		return
	}
	for _, rec := range s.uploads.forIdentity(body.Identity) {
		if rec.Status != manifest.StatusUploaded {
			writeDetail(w, 409, "upload "+rec.Slug+" has not finished")
			return
		}
	}

	j := Job{
		ID:         randomid(),
		Identity:   body.Identity,
		TargetLink: body.TargetLink,
		Status:     manifest.JobQueued,
		Created:    time.Now(),
	}
	if err := s.jobs.save(j); err != nil {
		writeDetail(w, 500, "could not create the job")
		return
	}
	select {
	case s.fillq <- j.ID:
	default:
		j.Status = manifest.JobError
		j.Note = "job queue is full"
		s.jobs.save(j)
	}
	writeJobJSON(w, j)
}

// JobStatusHandler handles requests to GET /form-fill/:id
func (s *RESTServer) JobStatusHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	j, ok := s.jobs.lookup(ps.ByName("id"))
	if !ok {
		writeDetail(w, 404, "no such job")
		return
	}
	if identity := r.URL.Query().Get("identity"); identity != "" && identity != j.Identity {
		writeDetail(w, 404, "no such job")
		return
	}
	writeJobJSON(w, j)
}

// JobResultHandler handles requests to GET /form-fill/:id/result
func (s *RESTServer) JobResultHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	j, ok := s.jobs.lookup(id)
	if !ok || j.Status != manifest.JobComplete {
		writeDetail(w, 404, "no result for this job")
		return
	}
	rac, size, err := s.jobs.results.Open(id)
	if err != nil {
		writeDetail(w, 404, "no result for this job")
		return
	}
	defer rac.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	io.Copy(w, store.NewReader(rac))
}

func writeJobJSON(w http.ResponseWriter, j Job) {
	writeJSON(w, 200, map[string]interface{}{
		"jobId":     j.ID,
		"status":    j.Status,
		"resultUrl": j.ResultURL,
	})
}

// fillWorker takes job ids off the queue and runs them to a terminal
// state. Writes are idempotent per job id, so a job requeued after a
// restart is safe to run again.
func (s *RESTServer) fillWorker() {
	defer s.wg.Done()
	for {
		var id string
		select {
		case id = <-s.fillq:
		case <-s.cancel:
			return
		}
		s.runJob(id)
	}
}

func (s *RESTServer) runJob(id string) {
	j, ok := s.jobs.lookup(id)
	if !ok || j.Status.Terminal() {
		return
	}
	j.Status = manifest.JobFilling
	if err := s.jobs.save(j); err != nil {
		return
	}

	err := s.renderResult(j)
	if err != nil {
		log.Println("fill job:", id, err)
		j.Status = manifest.JobError
		j.Note = err.Error()
		s.jobs.save(j)
		return
	}
	j.Status = manifest.JobComplete
	j.ResultURL = "/form-fill/" + j.ID + "/result"
	s.jobs.save(j)
}

// renderResult produces the filled form for a job and stores it under the
// job's id. The placeholder renderer emits a minimal one page PDF listing
// the target form and the source documents; a real renderer slots in here
// without touching the job machinery.
func (s *RESTServer) renderResult(j Job) error {
	var lines []string
	lines = append(lines, "Form: "+j.TargetLink)
	for _, rec := range s.uploads.forIdentity(j.Identity) {
		lines = append(lines, "Source: "+rec.FileName+" ("+util.FormatBytes(rec.Size)+")")
	}

	s.jobs.results.Delete(j.ID)
	w, err := s.jobs.results.Create(j.ID)
	if err != nil {
		return err
	}
	err = writeMinimalPDF(w, lines)
	if err2 := w.Close(); err == nil {
		err = err2
	}
	return err
}

// writeMinimalPDF emits a single page PDF with the given text lines. The
// cross reference offsets are computed as the objects are written, so the
// output is well formed for any content.
func writeMinimalPDF(w io.Writer, lines []string) error {
	var text string
	y := 720
	for _, line := range lines {
		text += fmt.Sprintf("BT /F1 12 Tf 72 %d Td (%s) Tj ET\n", y, pdfEscape(line))
		y -= 16
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(text), text),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	cw := &countingWriter{w: w}
	if _, err := fmt.Fprint(cw, "%PDF-1.4\n"); err != nil {
		return err
	}
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = cw.n
		if _, err := fmt.Fprintf(cw, "%d 0 obj\n%s\nendobj\n", i+1, obj); err != nil {
			return err
		}
	}
	xref := cw.n
	fmt.Fprintf(cw, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(cw, "%010d 00000 n \n", off)
	}
	_, err := fmt.Fprintf(cw, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)
	return err
}

// pdfEscape quotes the characters PDF string literals reserve.
func pdfEscape(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', ')', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
