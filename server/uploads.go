package server

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
	"github.com/viktor-shcherb/pdf-form-filling-app/store"
)

// uploadRecord is the stored metadata for one upload.
type uploadRecord struct {
	Slug     string          `json:"slug"`
	Identity string          `json:"identity"`
	FileName string          `json:"fileName"`
	Size     int64           `json:"size"`
	Status   manifest.Status `json:"status"`
	Note     string          `json:"note,omitempty"`
	Created  time.Time       `json:"created"`
	Modified time.Time       `json:"modified"`
}

// uploadRegistry keeps upload metadata and content in two prefixed views
// of the same store, so a single directory (or bucket) holds both.
type uploadRegistry struct {
	m       sync.RWMutex
	meta    store.JSONStore
	content store.Store
}

func newUploadRegistry(base store.Store) *uploadRegistry {
	return &uploadRegistry{
		meta:    store.NewJSON(store.NewWithPrefix(base, "md")),
		content: store.NewWithPrefix(base, "f"),
	}
}

func (reg *uploadRegistry) lookup(slug string) (uploadRecord, bool) {
	reg.m.RLock()
	defer reg.m.RUnlock()
	var rec uploadRecord
	err := reg.meta.Open(slug, &rec)
	return rec, err == nil
}

func (reg *uploadRegistry) save(rec uploadRecord) error {
	reg.m.Lock()
	defer reg.m.Unlock()
	rec.Modified = time.Now()
	return reg.meta.Save(rec.Slug, rec)
}

// forIdentity returns every record belonging to the given identity.
func (reg *uploadRegistry) forIdentity(identity string) []uploadRecord {
	reg.m.RLock()
	defer reg.m.RUnlock()
	var result []uploadRecord
	for slug := range reg.meta.List() {
		var rec uploadRecord
		if err := reg.meta.Open(slug, &rec); err != nil {
			continue
		}
		if rec.Identity == identity {
			result = append(result, rec)
		}
	}
	return result
}

func (reg *uploadRegistry) remove(slug string) {
	reg.m.Lock()
	defer reg.m.Unlock()
	reg.meta.Delete(slug)
	reg.content.Delete(slug)
}

// newSlug reserves an unused slug and returns it with an open writer for
// the content.
func (reg *uploadRegistry) newSlug() (string, io.WriteCloser, error) {
	for {
		slug := randomid()
		w, err := reg.content.Create(slug)
		if err == store.ErrKeyExists {
			continue
		}
		return slug, w, err
	}
}

func randomid() string {
	var n = rand.Int31()
	return strconv.FormatInt(int64(n), 36)
}

// pdfMagic is the header every well formed PDF starts with.
var pdfMagic = []byte("%PDF")

// ListUploadsHandler handles requests to GET /uploads
func (s *RESTServer) ListUploadsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeDetail(w, 400, "identity is required")
		return
	}
	type fileJSON struct {
		Slug      string          `json:"slug"`
		FileName  string          `json:"fileName"`
		Size      int64           `json:"size"`
		Status    manifest.Status `json:"status"`
		RemoteURL string          `json:"remoteUrl"`
	}
	var files = []fileJSON{}
	for _, rec := range s.uploads.forIdentity(identity) {
		files = append(files, fileJSON{
			Slug:      rec.Slug,
			FileName:  rec.FileName,
			Size:      rec.Size,
			Status:    rec.Status,
			RemoteURL: "/uploads/" + rec.Slug + "/content",
		})
	}
	writeJSON(w, 200, map[string]interface{}{"files": files})
}

// NewUploadHandler handles requests to POST /uploads. The body is
// multipart with an "identity" field and a "file" part. Files that start
// with the PDF magic are acknowledged as uploaded; anything else is
// acknowledged as processing and handed to the sniff worker, which
// settles it to uploaded or error.
func (s *RESTServer) NewUploadHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	identity := r.FormValue("identity")
	if identity == "" {
		writeDetail(w, 400, "identity is required")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, 400, "a file part is required")
		return
	}
	defer f.Close()

	slug, wc, err := s.uploads.newSlug()
	if err != nil {
		writeDetail(w, 500, "could not store the file")
		return
	}
	head := make([]byte, len(pdfMagic))
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	size := int64(n)
	if _, err = wc.Write(head); err == nil {
		var rest int64
		rest, err = io.Copy(wc, f)
		size += rest
	}
	if err2 := wc.Close(); err == nil {
		err = err2
	}
	if err != nil {
		s.uploads.remove(slug)
		writeDetail(w, 500, "could not store the file")
		return
	}

	rec := uploadRecord{
		Slug:     slug,
		Identity: identity,
		FileName: hdr.Filename,
		Size:     size,
		Status:   manifest.StatusUploaded,
		Created:  time.Now(),
	}
	if !bytes.HasPrefix(head, pdfMagic) {
		rec.Status = manifest.StatusProcessing
	}
	if err := s.uploads.save(rec); err != nil {
		s.uploads.remove(slug)
		writeDetail(w, 500, "could not store the file")
		return
	}
	if rec.Status == manifest.StatusProcessing {
		select {
		case s.sniffq <- slug:
		default:
			// queue full; the record stays processing until a restart
		}
	}

	writeJSON(w, 200, map[string]interface{}{
		"slug":      rec.Slug,
		"fileName":  rec.FileName,
		"size":      rec.Size,
		"status":    rec.Status,
		"remoteUrl": "/uploads/" + rec.Slug + "/content",
	})
}

// UploadContentHandler handles requests to GET /uploads/:slug/content
func (s *RESTServer) UploadContentHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	slug := ps.ByName("slug")
	rec, ok := s.uploads.lookup(slug)
	if !ok {
		writeDetail(w, 404, "no such upload")
		return
	}
	rac, size, err := s.uploads.content.Open(slug)
	if err != nil {
		writeDetail(w, 404, "no such upload")
		return
	}
	defer rac.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", rec.FileName))
	io.Copy(w, store.NewReader(rac))
}

// DeleteUploadHandler handles requests to DELETE /uploads/:slug
func (s *RESTServer) DeleteUploadHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	slug := ps.ByName("slug")
	identity := r.URL.Query().Get("identity")
	rec, ok := s.uploads.lookup(slug)
	if !ok || rec.Identity != identity {
		writeDetail(w, 404, "no such upload")
		return
	}
	s.uploads.remove(slug)
	w.WriteHeader(200)
}

// sniffWorker settles uploads acknowledged as processing. A file whose
// first kilobyte contains the PDF magic somewhere (some generators put
// junk before the header) becomes uploaded, anything else becomes error.
func (s *RESTServer) sniffWorker() {
	defer s.wg.Done()
	for {
		var slug string
		select {
		case slug = <-s.sniffq:
		case <-s.cancel:
			return
		}
		rec, ok := s.uploads.lookup(slug)
		if !ok || rec.Status != manifest.StatusProcessing {
			continue
		}
		rac, size, err := s.uploads.content.Open(slug)
		if err != nil {
			continue
		}
		if size > 1024 {
			size = 1024
		}
		head := make([]byte, size)
		io.ReadFull(store.NewReader(rac), head)
		rac.Close()
		if bytes.Contains(head, pdfMagic) {
			rec.Status = manifest.StatusUploaded
		} else {
			rec.Status = manifest.StatusError
			rec.Note = "not a PDF file"
		}
		if err := s.uploads.save(rec); err != nil {
			log.Println("sniff save:", slug, err)
		}
	}
}
