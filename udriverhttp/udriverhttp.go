// Package udriverhttp exposes the detector setup, and everything computed
// from it, over HTTP.
//
// Reads return JSON computed from a snapshot of the session.  Edits are made
// with POST and refused with 423 (locked) while a run is active.  Invalid
// geometries are reported with 422 and the list of problems.
package udriverhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/StuartLittlefair/udriver/appdesc"
	"github.com/StuartLittlefair/udriver/apprec"
	"github.com/StuartLittlefair/udriver/ccd"
	"github.com/StuartLittlefair/udriver/datavol"
	"github.com/StuartLittlefair/udriver/fitshdr"
	"github.com/StuartLittlefair/udriver/photometry"
	"github.com/StuartLittlefair/udriver/rtplot"
	"github.com/StuartLittlefair/udriver/server"
	"github.com/StuartLittlefair/udriver/server/middleware/locker"
	"github.com/StuartLittlefair/udriver/servers"
	"github.com/StuartLittlefair/udriver/timing"
)

var errNoServers = fmt.Errorf("no camera and data servers are configured")

// Server serves a session
type Server struct {
	Session   *Session
	Estimator *photometry.Estimator
	Templates appdesc.Templates

	// TemplateDir holds the template descriptors.  When empty they are
	// fetched from the camera server.
	TemplateDir string

	// Client talks to the camera and data servers; nil if there are none
	Client *servers.Client

	// Recorder keeps a copy of each posted descriptor; nil disables it
	Recorder *apprec.Recorder

	Locker *locker.Locker

	// PowerOnApp and PowerOffApp are the applications which power the
	// detector on and off
	PowerOnApp, PowerOffApp string

	verMu   sync.Mutex
	version int

	metrics *metrics
	rt      server.RouteTable
}

// NewServer returns a server for sess.  The photometry of est is reported
// alongside the timing; est may be nil.
func NewServer(sess *Session, est *photometry.Estimator, tpls appdesc.Templates) *Server {
	s := &Server{
		Session:   sess,
		Estimator: est,
		Templates: tpls,
		Locker:    locker.New(),
	}
	s.Locker.DoNotProtect = append(s.Locker.DoNotProtect, "stop")
	s.metrics = newMetrics(s)
	s.rt = server.RouteTable{
		{Method: http.MethodGet, Path: "/state"}:           s.getState,
		{Method: http.MethodGet, Path: "/setup"}:           s.getSetup,
		{Method: http.MethodPost, Path: "/setup"}:          s.postSetup,
		{Method: http.MethodGet, Path: "/target"}:          s.getTarget,
		{Method: http.MethodPost, Path: "/target"}:         s.postTarget,
		{Method: http.MethodGet, Path: "/telescope"}:       server.GetString(s.telescope),
		{Method: http.MethodPost, Path: "/telescope"}:      server.SetString(s.setTelescope),
		{Method: http.MethodGet, Path: "/runinfo"}:         s.getRunInfo,
		{Method: http.MethodPost, Path: "/runinfo"}:        s.postRunInfo,
		{Method: http.MethodGet, Path: "/expert"}:          server.GetBool(s.expert),
		{Method: http.MethodPost, Path: "/expert"}:         server.SetBool(s.setExpert),
		{Method: http.MethodGet, Path: "/report"}:          s.getReport,
		{Method: http.MethodGet, Path: "/validate"}:        s.getValidate,
		{Method: http.MethodGet, Path: "/timing"}:          s.getTiming,
		{Method: http.MethodGet, Path: "/table"}:           s.getTable,
		{Method: http.MethodGet, Path: "/photometry"}:      s.getPhotometry,
		{Method: http.MethodGet, Path: "/synchronised"}:    server.GetBool(s.synchronised),
		{Method: http.MethodPost, Path: "/sync"}:           s.postSync,
		{Method: http.MethodGet, Path: "/datavolume"}:      s.getDataVolume,
		{Method: http.MethodGet, Path: "/rtplot"}:          rtplot.Handler(s.Session),
		{Method: http.MethodGet, Path: "/windows"}:         s.getWindowsFile,
		{Method: http.MethodGet, Path: "/fits"}:            s.getFits,
		{Method: http.MethodGet, Path: "/descriptor"}:      s.getDescriptor,
		{Method: http.MethodPost, Path: "/post"}:           s.postApplication,
		{Method: http.MethodPost, Path: "/start"}:          s.command(servers.Go, true),
		{Method: http.MethodPost, Path: "/stop"}:           s.command(servers.Stop, false),
		{Method: http.MethodGet, Path: "/run"}:             s.getRun,
		{Method: http.MethodPost, Path: "/servers/setup"}:  s.postServerSetup,
		{Method: http.MethodPost, Path: "/power/on"}:       s.power(true),
		{Method: http.MethodPost, Path: "/power/off"}:      s.power(false),
		{Method: http.MethodGet, Path: "/servers/version"}: server.GetInt(s.serverVersion),
	}
	locker.Inject(s, s.Locker)
	return s
}

// RT satisfies server.HTTPer
func (s *Server) RT() server.RouteTable {
	return s.rt
}

// Handler returns the router serving every route, plus /metrics
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(s.metrics.middleware)
	r.Use(s.Locker.Check)
	server.Bind(r, s.rt)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())
	return r
}

// EnableRecorder adds the routes of rec and records each posted descriptor
// with it
func (s *Server) EnableRecorder(rec *apprec.Recorder) {
	s.Recorder = rec
	apprec.NewHTTPWrapper(rec).Inject(s)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func unprocessable(w http.ResponseWriter, err error) {
	server.RespondJSONStatus(w, http.StatusUnprocessableEntity, Report{Problems: Problems(err)})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	server.RespondJSON(w, s.Session.State())
}

func (s *Server) getSetup(w http.ResponseWriter, r *http.Request) {
	server.RespondJSON(w, s.Session.State().Setup)
}

// postSetup replaces the setup.  The geometry may be invalid, so that it
// can be edited in steps; the reply is the report of the new state.
func (s *Server) postSetup(w http.ResponseWriter, r *http.Request) {
	var setup ccd.Setup
	if !decode(w, r, &setup) {
		return
	}
	var st State
	err := s.Session.Update(func(cur *State) error {
		if err := checkSetup(setup); err != nil {
			return err
		}
		setup.Exposure = setup.Exposure.Normalise(cur.Expert)
		cur.Setup = setup.Clone()
		st = cur.Clone()
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	server.RespondJSON(w, Evaluate(st, s.Estimator))
}

// checkSetup rejects the settings which cannot be edited into a valid
// setup, leaving the geometry to Evaluate
func checkSetup(setup ccd.Setup) error {
	if !setup.Mode.Known() {
		return ccd.ErrMode
	}
	if !setup.Speed.Known() {
		return fmt.Errorf("unknown readout speed %d", int(setup.Speed))
	}
	return setup.Exposure.Validate()
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	server.RespondJSON(w, s.Session.State().Target)
}

func (s *Server) postTarget(w http.ResponseWriter, r *http.Request) {
	var tgt photometry.Target
	if !decode(w, r, &tgt) {
		return
	}
	err := s.Session.Update(func(st *State) error {
		st.Target = tgt
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) telescope() (string, error) {
	return s.Session.State().Telescope, nil
}

func (s *Server) setTelescope(name string) error {
	if s.Estimator != nil {
		tel, err := s.Estimator.Tables.Telescope(name)
		if err != nil {
			return err
		}
		name = tel.Name
	}
	return s.Session.Update(func(st *State) error {
		st.Telescope = name
		return nil
	})
}

func (s *Server) getRunInfo(w http.ResponseWriter, r *http.Request) {
	server.RespondJSON(w, s.Session.State().Run)
}

func (s *Server) postRunInfo(w http.ResponseWriter, r *http.Request) {
	var ri appdesc.RunInfo
	if !decode(w, r, &ri) {
		return
	}
	err := s.Session.Update(func(st *State) error {
		st.Run = ri
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) expert() (bool, error) {
	return s.Session.State().Expert, nil
}

func (s *Server) setExpert(b bool) error {
	return s.Session.Update(func(st *State) error {
		st.Expert = b
		st.Setup.Exposure = st.Setup.Exposure.Normalise(b)
		return nil
	})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	server.RespondJSON(w, Evaluate(s.Session.State(), s.Estimator))
}

func (s *Server) getValidate(w http.ResponseWriter, r *http.Request) {
	rep := Evaluate(s.Session.State(), nil)
	out := struct {
		Valid    bool     `json:"valid"`
		Problems []string `json:"problems,omitempty"`
	}{rep.Valid, rep.Problems}
	code := http.StatusOK
	if !rep.Valid {
		code = http.StatusUnprocessableEntity
	}
	server.RespondJSONStatus(w, code, out)
}

// valid evaluates the current state and replies 422 if it is invalid
func (s *Server) valid(w http.ResponseWriter, est *photometry.Estimator) (State, Report, bool) {
	st := s.Session.State()
	rep := Evaluate(st, est)
	if !rep.Valid {
		server.RespondJSONStatus(w, http.StatusUnprocessableEntity, rep)
	}
	return st, rep, rep.Valid
}

func (s *Server) getTiming(w http.ResponseWriter, r *http.Request) {
	if _, rep, ok := s.valid(w, nil); ok {
		server.RespondJSON(w, rep.Timing)
	}
}

func (s *Server) getTable(w http.ResponseWriter, r *http.Request) {
	if _, rep, ok := s.valid(w, nil); ok {
		server.RespondJSON(w, rep.Timing.Table())
	}
}

// getPhotometry replies with the estimate, null if none could be made
func (s *Server) getPhotometry(w http.ResponseWriter, r *http.Request) {
	if _, rep, ok := s.valid(w, s.Estimator); ok {
		server.RespondJSON(w, rep.Photometry)
	}
}

func (s *Server) synchronised() (bool, error) {
	return Evaluate(s.Session.State(), nil).Synchronised, nil
}

func (s *Server) postSync(w http.ResponseWriter, r *http.Request) {
	var setup ccd.Setup
	err := s.Session.Update(func(st *State) error {
		ws, err := ccd.Synchronise(st.Setup.Mode, st.Setup.Windows)
		if err != nil {
			return err
		}
		st.Setup.Windows = ws
		setup = st.Setup.Clone()
		return nil
	})
	if err != nil {
		unprocessable(w, err)
		return
	}
	server.RespondJSON(w, setup)
}

// getDataVolume replies with the frame size and, given a duration in the
// elapsed query parameter, the disk space used after that long
func (s *Server) getDataVolume(w http.ResponseWriter, r *http.Request) {
	rep := Evaluate(s.Session.State(), nil)
	out := struct {
		BytesPerFrame int            `json:"bytesPerFrame"`
		Megabytes     *int           `json:"megabytes,omitempty"`
		Level         *datavol.Level `json:"level,omitempty"`
	}{BytesPerFrame: rep.BytesPerFrame}
	if q := r.URL.Query().Get("elapsed"); q != "" {
		elapsed, err := time.ParseDuration(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rep.Timing != nil {
			mb := datavol.MegabytesUsed(elapsed, rep.Timing.CycleTime, rep.BytesPerFrame)
			lvl := datavol.DiskLevel(mb)
			out.Megabytes, out.Level = &mb, &lvl
		}
	}
	server.RespondJSON(w, out)
}

func (s *Server) getWindowsFile(w http.ResponseWriter, r *http.Request) {
	mode, ws := s.Session.Geometry()
	var buf bytes.Buffer
	if err := rtplot.WriteFile(&buf, mode, ws); err != nil {
		unprocessable(w, err)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/plain")
	hdr.Set("Content-Disposition", "attachment; filename=windows.dat")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) getFits(w http.ResponseWriter, r *http.Request) {
	st, rep, ok := s.valid(w, nil)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := fitshdr.Write(&buf, fitshdr.Cards(st.Setup, *rep.Timing)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "image/fits")
	hdr.Set("Content-Disposition", "attachment; filename=setup.fits")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// template returns the template descriptor for mode
func (s *Server) template(ctx context.Context, mode ccd.Mode) (appdesc.Template, []byte, error) {
	tpl, err := s.Templates.ForMode(mode)
	if err != nil {
		return tpl, nil, err
	}
	if s.TemplateDir != "" {
		b, err := ioutil.ReadFile(filepath.Join(s.TemplateDir, tpl.App))
		return tpl, b, err
	}
	if s.Client == nil {
		return tpl, nil, errNoServers
	}
	b, err := s.Client.FetchTemplate(ctx, tpl.App)
	return tpl, b, err
}

// Descriptor builds the application descriptor of st
func (s *Server) Descriptor(ctx context.Context, st State) ([]byte, error) {
	tpl, src, err := s.template(ctx, st.Setup.Mode)
	if err != nil {
		return nil, err
	}
	setup := st.Setup.Clone()
	setup.Exposure = setup.Exposure.Normalise(st.Expert)
	user := st.Run.User()
	if v := s.readbackVersion(ctx); v > 0 {
		user.Revision = fmt.Sprint(v)
	}
	var buf bytes.Buffer
	if err := appdesc.Apply(&buf, bytes.NewReader(src), tpl, setup, &user); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readbackVersion returns the revision of the camera server, asking for it
// only once and never while a run is active
func (s *Server) readbackVersion(ctx context.Context) int {
	s.verMu.Lock()
	defer s.verMu.Unlock()
	if s.version != 0 || s.Client == nil || s.Locker.Locked() {
		return s.version
	}
	v, err := s.Client.ReadbackVersion(ctx)
	if err != nil {
		log.Printf("couldn't read back the camera server version: %v", err)
		return 0
	}
	s.version = v
	return v
}

func (s *Server) serverVersion() (int, error) {
	if s.Client == nil {
		return 0, errNoServers
	}
	if v := s.readbackVersion(context.Background()); v > 0 {
		return v, nil
	}
	return 0, fmt.Errorf("the camera server version is unknown")
}

func (s *Server) getDescriptor(w http.ResponseWriter, r *http.Request) {
	st, _, ok := s.valid(w, nil)
	if !ok {
		return
	}
	b, err := s.Descriptor(r.Context(), st)
	if err != nil {
		unprocessable(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// postApplication posts the descriptor of the current state to both servers
func (s *Server) postApplication(w http.ResponseWriter, r *http.Request) {
	if s.Client == nil {
		http.Error(w, errNoServers.Error(), http.StatusServiceUnavailable)
		return
	}
	st, _, ok := s.valid(w, nil)
	if !ok {
		return
	}
	b, err := s.Descriptor(r.Context(), st)
	if err != nil {
		unprocessable(w, err)
		return
	}
	if err := s.Client.PostApplication(r.Context(), b); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if s.Recorder != nil && s.Recorder.IsEnabled() {
		if fn, err := s.Recorder.Record(b); err != nil {
			log.Printf("failed to record application: %v", err)
		} else {
			log.Printf("application recorded to %s", fn)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// command sends cmd to the camera server and then locks or unlocks
func (s *Server) command(cmd string, lock bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Client == nil {
			http.Error(w, errNoServers.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := s.Client.Exec(r.Context(), cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		s.Locker.Set(lock)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.Client == nil {
		http.Error(w, errNoServers.Error(), http.StatusServiceUnavailable)
		return
	}
	out := struct {
		Active bool   `json:"active"`
		Number int    `json:"number"`
		Error  string `json:"error,omitempty"`
	}{}
	var err error
	out.Active, err = s.Client.RunActive(r.Context())
	if err == nil {
		out.Number, err = s.Client.RunNumber(r.Context())
	}
	if err != nil {
		out.Error = err.Error()
	}
	server.RespondJSON(w, out)
}

func (s *Server) postServerSetup(w http.ResponseWriter, r *http.Request) {
	if s.Client == nil {
		http.Error(w, errNoServers.Error(), http.StatusServiceUnavailable)
		return
	}
	app := ""
	if s.Estimator != nil {
		tel, err := s.Estimator.Tables.Telescope(s.Session.State().Telescope)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		app = tel.Application
	}
	if app == "" {
		http.Error(w, "the telescope has no application", http.StatusBadRequest)
		return
	}
	if err := s.Client.Setup(r.Context(), app); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) power(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Client == nil {
			http.Error(w, errNoServers.Error(), http.StatusServiceUnavailable)
			return
		}
		var err error
		if on {
			err = s.Client.PowerOn(r.Context(), s.PowerOnApp)
		} else {
			err = s.Client.PowerOff(r.Context(), s.PowerOffApp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Watch polls the data server while ctx lives and keeps the locker in step
// with the run.  The polling interval follows the cycle time of the current
// setup.  Once a run has started, the first poll waits for the initial delay
// of the poll policy.
func (s *Server) Watch(ctx context.Context) {
	if s.Client == nil {
		return
	}
	polled := false // a poll has seen the current run
	for {
		st := s.Session.State()
		rep := Evaluate(st, nil)
		cycle, nexp := 0., st.Setup.Exposure.NumExposures
		if rep.Timing != nil {
			cycle = rep.Timing.CycleTime
		}
		interval, delay := timing.PollPolicy(cycle, nexp)
		wait := interval
		if s.Locker.Locked() && !polled {
			wait = delay
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		active, err := s.Client.RunActive(ctx)
		if err != nil {
			log.Printf("%v, will assume that a run is active", err)
		}
		if active != s.Locker.Locked() {
			log.Printf("run active: %v", active)
		}
		s.Locker.Set(active)
		polled = active
	}
}
