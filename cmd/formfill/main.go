// The formfill tool drives the form filling service from the command
// line: it manages the uploaded document set for one identity and runs
// fill jobs against a form URL.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/viktor-shcherb/pdf-form-filling-app/api"
	"github.com/viktor-shcherb/pdf-form-filling-app/cache"
	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
	"github.com/viktor-shcherb/pdf-form-filling-app/session"
	"github.com/viktor-shcherb/pdf-form-filling-app/store"
	"github.com/viktor-shcherb/pdf-form-filling-app/util"
)

// various command line flags, with default values

var (
	serverURL = flag.String("server", "http://localhost:15000", "Form fill server to use")
	cacheSize = flag.Int64("cache-size", 10_000_000, "size of the local manifest cache (in bytes)")
	usage     = `
formfill <flags> <command> <arguments>

Possible commands:

    ls
    upload <files...>
    rm <slug>
    fill <form-url>
    refresh

`
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Print(usage)
		return
	}

	s := newSession()
	defer s.Close()

	switch args[0] {
	case "ls":
		doLs(s)
	case "upload":
		if len(args) < 2 {
			fmt.Println("Usage: formfill <flags> upload <files...>")
			return
		}
		doUpload(s, args[1:])
	case "rm":
		if len(args) != 2 {
			fmt.Println("Usage: formfill <flags> rm <slug>")
			return
		}
		doRm(s, args[1])
	case "fill":
		if len(args) != 2 {
			fmt.Println("Usage: formfill <flags> fill <form-url>")
			return
		}
		doFill(s, args[1])
	case "refresh":
		doRefresh(s)
	default:
		fmt.Print(usage)
	}
}

// newSession wires a session from the identity dotfile and the manifest
// cache in the user's cache directory.
func newSession() *session.Session {
	conn := &api.Connection{
		HostURL:  strings.TrimRight(*serverURL, "/"),
		Identity: loadIdentity(),
	}
	return session.New(conn, cache.New(openCacheStore()))
}

// loadIdentity returns the identity from ~/.formfill-identity, minting
// and saving a new one on first use.
func loadIdentity() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return uuid.NewString()
	}
	path := filepath.Join(home, ".formfill-identity")
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	id := uuid.NewString()
	os.WriteFile(path, []byte(id+"\n"), 0600)
	return id
}

// openCacheStore returns the manifest cache substrate: a size-limited
// directory under the user's cache dir, or a throwaway memory store if no
// cache dir is available.
func openCacheStore() store.Store {
	dir, err := os.UserCacheDir()
	if err != nil {
		return store.NewMemory()
	}
	path := filepath.Join(dir, "formfill")
	if err := os.MkdirAll(path, 0755); err != nil {
		return store.NewMemory()
	}
	return store.NewLimit(store.NewFileSystem(path), *cacheSize)
}

// waitLoaded blocks until the session's current load settles.
func waitLoaded(s *session.Session) session.State {
	for {
		st := s.State()
		if !st.Loading {
			return st
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func printFiles(st session.State) {
	if st.LoadError != "" {
		fmt.Fprintln(os.Stderr, "Warning:", st.LoadError)
	}
	if len(st.Files) == 0 {
		fmt.Println("No files")
		return
	}
	for _, f := range st.Files {
		slug := f.Slug
		if slug == "" {
			slug = "-"
		}
		note := ""
		if f.Error != "" {
			note = "  (" + f.Error + ")"
		}
		fmt.Printf("%-12s %-10s %10s  %s%s\n", slug, f.Status, util.FormatBytes(f.Size), f.Name, note)
	}
}

func doLs(s *session.Session) {
	s.Hydrate()
	printFiles(waitLoaded(s))
}

func doUpload(s *session.Session, files []string) {
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		info, err := f.Stat()
		var size int64
		if err == nil {
			size = info.Size()
		}
		s.Upload(filepath.Base(name), size, f)
		// the session reads f on its own goroutine; it is closed when the
		// process exits after Wait
	}
	s.Wait()
	printFiles(s.State())

	for _, f := range s.State().Files {
		if f.Status == manifest.StatusError {
			os.Exit(1)
		}
	}
}

func doRm(s *session.Session, slug string) {
	s.Refresh()
	st := waitLoaded(s)
	for _, f := range st.Files {
		if f.Slug == slug {
			s.Delete(f.ID)
			s.Wait()
			st = s.State()
			for _, g := range st.Files {
				if g.ID == f.ID {
					fmt.Fprintln(os.Stderr, "Error:", g.Error)
					os.Exit(1)
				}
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Error: no upload with slug %s\n", slug)
	os.Exit(1)
}

func doFill(s *session.Session, formURL string) {
	s.Refresh()
	st := waitLoaded(s)
	if st.LoadError != "" {
		fmt.Fprintln(os.Stderr, "Error:", st.LoadError)
		os.Exit(1)
	}

	if err := s.StartFill(formURL); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	last := manifest.JobStatus("")
	for {
		job := s.State().Job
		if job.Status != last {
			last = job.Status
			fmt.Println("Job is", job.Status)
		}
		if job.Status.Terminal() {
			if job.Status == manifest.JobError {
				fmt.Fprintln(os.Stderr, "Error:", job.Error)
				os.Exit(1)
			}
			result := job.ResultURL
			if strings.HasPrefix(result, "/") {
				result = strings.TrimRight(*serverURL, "/") + result
			}
			fmt.Println("Result at", result)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func doRefresh(s *session.Session) {
	s.Refresh()
	printFiles(waitLoaded(s))
}
