// Package server implements the REST backend for the form filling client:
// per-identity upload storage and the asynchronous form fill job queue.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/viktor-shcherb/pdf-form-filling-app/store"
)

// RESTServer holds the configuration for a form filling API server.
//
// Set the public fields and then call Run. Run will listen on the given
// port and handle requests. Do not change any fields after calling Run.
//
// It should be enough to only set StorageDir. The other fields are exposed
// to allow more customization, and for tests, which inject memory stores
// and call setup and addRoutes directly.
type RESTServer struct {
	// Port number to listen on. Defaults to 15000.
	PortNumber string

	// StorageDir is where uploads, fill results, and the default job
	// database live. If empty everything is kept in memory, which is
	// useful for testing.
	StorageDir string

	// Pass in a dial command to use a MySQL server for the job database.
	// Otherwise a lightweight internal database is used, placed inside
	// StorageDir. The special value "memory" in StorageDir keeps the
	// database entirely in the server's memory.
	// e.g. "user:password@tcp(localhost:5555)/dbname"
	MySQL string

	// UploadStore holds upload metadata and content. If nil one is
	// created inside StorageDir.
	UploadStore store.Store

	// JobStore holds job records and fill results. If nil one is created
	// inside StorageDir.
	JobStore store.Store

	// JobDB mirrors job records into a SQL database. If nil, Run selects
	// QL or MySQL from the fields above.
	JobDB JobDB

	uploads   *uploadRegistry
	jobs      *jobRegistry
	sniffq    chan string    // slugs waiting for content validation
	fillq     chan string    // job ids waiting for a fill worker
	cancel    chan struct{}  // closed to tell workers to exit
	wg        sync.WaitGroup // tracks background workers
	server    httpdown.Server
}

// MaxConcurrentFills is the number of fill jobs run at a given time. If
// there are more they wait in a queue.
const MaxConcurrentFills = 2

// Version is overridden at build time.
var Version = "devel"

// Run initializes and starts all the goroutines used by the server. It
// then blocks listening for and handling http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting form fill server version %s", Version)
	log.Printf("StorageDir = %s", s.StorageDir)

	if s.PortNumber == "" {
		s.PortNumber = "15000"
	}

	if s.JobDB == nil {
		var err error
		if s.MySQL != "" {
			log.Printf("Using MySQL job database")
			s.JobDB, err = NewMysqlJobDB(s.MySQL)
		} else {
			path := "memory"
			if s.StorageDir != "" {
				path = filepath.Join(s.StorageDir, "formfill.ql")
			}
			log.Printf("Using internal job database at %s", path)
			s.JobDB, err = NewQlJobDB(path)
		}
		if err != nil {
			return err
		}
	}

	if s.UploadStore == nil {
		s.UploadStore = s.openStore("upload")
	}
	if s.JobStore == nil {
		s.JobStore = s.openStore("jobs")
	}

	s.setup()

	log.Println("Listening on", s.PortNumber)
	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop shuts the server down and returns once the background workers have
// exited and the socket is closed.
func (s *RESTServer) Stop() error {
	close(s.cancel)
	s.wg.Wait()
	if s.server == nil {
		return nil
	}
	return s.server.Stop()
}

// openStore returns a filesystem store under StorageDir, or a memory
// store when no directory is configured.
func (s *RESTServer) openStore(subdir string) store.Store {
	if s.StorageDir == "" {
		return store.NewMemory()
	}
	path := filepath.Join(s.StorageDir, subdir)
	os.MkdirAll(path, 0755)
	return store.NewFileSystem(path)
}

// setup builds the registries and starts the background workers. It is
// separate from Run so tests can drive the routes without a socket.
func (s *RESTServer) setup() {
	s.uploads = newUploadRegistry(s.UploadStore)
	s.jobs = newJobRegistry(s.JobStore, s.JobDB)
	s.sniffq = make(chan string, 100)
	s.fillq = make(chan string, 100)
	s.cancel = make(chan struct{})
	s.wg.Add(1)
	go s.sniffWorker()
	for i := 0; i < MaxConcurrentFills; i++ {
		s.wg.Add(1)
		go s.fillWorker()
	}
	go s.requeue()
}

// requeue pushes every non-terminal job left over from a previous run back
// onto the fill queue. The workers sort out what still needs doing.
func (s *RESTServer) requeue() {
	for _, id := range s.jobs.list() {
		select {
		case s.fillq <- id:
		case <-s.cancel:
			return
		}
	}
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		{"GET", "/uploads", s.ListUploadsHandler},
		{"POST", "/uploads", s.NewUploadHandler},
		{"GET", "/uploads/:slug/content", s.UploadContentHandler},
		{"DELETE", "/uploads/:slug", s.DeleteUploadHandler},

		{"POST", "/form-fill", s.NewJobHandler},
		{"GET", "/form-fill/:id", s.JobStatusHandler},
		{"GET", "/form-fill/:id/result", s.JobResultHandler},

		{"GET", "/", WelcomeHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method, route.route, logWrapper(route.handler))
	}
	return r
}

// WelcomeHandler identifies the server.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, 200, map[string]string{"service": "formfill", "version": Version})
}

// logWrapper takes a handler and returns a handler which does the same
// thing, after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

func writeJSON(w http.ResponseWriter, code int, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(val)
}

// writeDetail emits the error body every client of this API expects.
func writeDetail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, struct {
		Detail string `json:"detail"`
	}{msg})
}
