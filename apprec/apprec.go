// Package apprec contains a recorder used to keep a copy of every
// application descriptor posted to the servers.
package apprec

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/StuartLittlefair/udriver/server"
)

// Recorder records documents with incrementing filenames in yyyy-mm-dd
// subfolders.  It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// counter is the number of the next file
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Ext is the extension of the filenames, including the dot
	Ext string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool
}

// New returns an enabled recorder writing .xml files below root
func New(root, prefix string) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, Ext: ".xml", Enabled: true}
}

// folder is the dated subfolder for today
func (r *Recorder) folder() string {
	y, m, d := time.Now().Date()
	return filepath.Join(r.Root, fmt.Sprintf("%04d-%02d-%02d", y, m, d))
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := r.folder()
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Record writes p to the next file in today's folder and returns its path
func (r *Recorder) Record(p []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	r.incr(fldr)
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d%s", r.Prefix, r.counter, r.Ext))
	return fn, ioutil.WriteFile(fn, p, 0666)
}

// Last returns the path of the most recent file, "" if none has been written
// today
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr := r.folder()
	r.incr(fldr)
	if r.counter <= 1 {
		return ""
	}
	return filepath.Join(fldr, fmt.Sprintf("%s%06d%s", r.Prefix, r.counter-1, r.Ext))
}

// incr updates the filename counter by scanning the folder.  The counter
// is one past the highest numbered file present.
func (r *Recorder) incr(dn string) {
	files, err := ioutil.ReadDir(dn)
	if err != nil {
		r.counter = 1
		return
	}
	count := 0
	for _, file := range files {
		// skip directories, wrong extension, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, r.Ext) || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), r.Ext)
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

func (r *Recorder) getRoot() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Root, nil
}

func (r *Recorder) setRoot(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.Root
	r.Root = s
	if _, err := r.mkDir(); err != nil {
		r.Root = old
		return err
	}
	return nil
}

func (r *Recorder) getPrefix() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Prefix, nil
}

func (r *Recorder) setPrefix(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Prefix = s
	r.counter = 0
	return nil
}

// IsEnabled returns the Enabled field
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled
}

func (r *Recorder) setEnabled(b bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Enabled = b
	return nil
}

// HTTPWrapper is an HTTP wrapper around a recorder that allows the folder
// and prefix to be changed on the fly
//
// it does not implement server.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// Inject adds GET and POST routes for /record/root, /record/prefix and
// /record/enabled to the HTTPer which manipulate this wrapper's recorder, and
// GET /record/last which serves the most recent file
func (h HTTPWrapper) Inject(other server.HTTPer) {
	rt := other.RT()
	rt[server.MethodPath{Method: http.MethodGet, Path: "/record/last"}] = h.serveLast
	rt[server.MethodPath{Method: http.MethodPost, Path: "/record/root"}] = server.SetString(h.setRoot)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/record/root"}] = server.GetString(h.getRoot)
	rt[server.MethodPath{Method: http.MethodPost, Path: "/record/prefix"}] = server.SetString(h.setPrefix)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/record/prefix"}] = server.GetString(h.getPrefix)
	rt[server.MethodPath{Method: http.MethodPost, Path: "/record/enabled"}] = server.SetBool(h.setEnabled)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/record/enabled"}] = server.GetBool(func() (bool, error) { return h.IsEnabled(), nil })
}

func (h HTTPWrapper) serveLast(w http.ResponseWriter, r *http.Request) {
	fn := h.Last()
	if fn == "" {
		http.Error(w, "nothing has been recorded today", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	server.ReplyWithFile(w, r, filepath.Base(fn), filepath.Dir(fn))
}
