package udriverhttp

import (
	"errors"
	"sync"

	"github.com/StuartLittlefair/udriver/appdesc"
	"github.com/StuartLittlefair/udriver/ccd"
	"github.com/StuartLittlefair/udriver/datavol"
	"github.com/StuartLittlefair/udriver/photometry"
	"github.com/StuartLittlefair/udriver/timing"
)

// State is everything the observer has set
type State struct {
	Setup     ccd.Setup         `json:"setup" yaml:"setup" koanf:"setup"`
	Target    photometry.Target `json:"target" yaml:"target" koanf:"target"`
	Telescope string            `json:"telescope" yaml:"telescope" koanf:"telescope"`
	Run       appdesc.RunInfo   `json:"run" yaml:"run" koanf:"run"`

	// Expert lifts the floor on the exposure delay
	Expert bool `json:"expert" yaml:"expert" koanf:"expert"`
}

// Clone returns a copy sharing no memory with st
func (st State) Clone() State {
	st.Setup = st.Setup.Clone()
	return st
}

// Session holds the current state.  Every read returns a snapshot, so a
// computation never sees a half-applied edit.
type Session struct {
	mu sync.RWMutex
	st State
}

// NewSession returns a session starting from st
func NewSession(st State) *Session {
	return &Session{st: st.Clone()}
}

// State returns a snapshot of the current state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Clone()
}

// Update calls fn on a copy of the state and keeps the copy if fn returns nil
func (s *Session) Update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st.Clone()
	if err := fn(&st); err != nil {
		return err
	}
	s.st = st
	return nil
}

// Geometry returns the current mode and windows
func (s *Session) Geometry() (ccd.Mode, ccd.WindowSet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Setup.Mode, s.st.Setup.Windows.Clone()
}

// Report is everything derived from a state
type Report struct {
	Valid        bool     `json:"valid"`
	Problems     []string `json:"problems,omitempty"`
	Synchronised bool     `json:"synchronised"`

	// Timing is nil when the setup is invalid
	Timing *timing.Result `json:"timing"`

	// Photometry is nil when the setup is invalid or no estimate could be made
	Photometry *photometry.Result `json:"photometry"`

	BytesPerFrame int `json:"bytesPerFrame"`
}

// Evaluate computes the report of st.  est may be nil, in which case there is
// no photometry.
func Evaluate(st State, est *photometry.Estimator) Report {
	s := st.Setup
	rep := Report{BytesPerFrame: datavol.BytesPerFrame(s.Mode, s.Windows)}
	if !s.Mode.Known() {
		rep.Problems = []string{ccd.ErrMode.Error()}
		return rep
	}
	rep.Synchronised = ccd.IsSynchronised(s.Mode, s.Windows)
	if err := s.Validate(); err != nil {
		rep.Problems = Problems(err)
		return rep
	}
	prof := s.Speed.MustProfile()
	t, err := timing.Compute(s.Mode, s.Windows, s.Exposure.Normalise(st.Expert).ExposeTenths, prof)
	if err != nil {
		rep.Problems = Problems(err)
		return rep
	}
	rep.Valid = true
	rep.Timing = &t
	if est != nil {
		p, err := est.Estimate(t.ExposureTime, t.CycleTime, st.Telescope, prof, s.Windows.Bin, st.Target)
		if err == nil {
			rep.Photometry = &p
		}
	}
	return rep
}

// Problems lists the reasons behind err, one per violated rule for a
// *ccd.GeometryError
func Problems(err error) []string {
	var ge *ccd.GeometryError
	if errors.As(err, &ge) {
		return ge.Strings()
	}
	return []string{err.Error()}
}
