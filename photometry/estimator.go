package photometry

import (
	"errors"
	"log"
	"sync"

	"github.com/StuartLittlefair/udriver/ccd"
)

// Estimator wraps Estimate with a shared set of reference tables and logs
// each kind of failure once.  After a successful estimate every kind is
// logged again on its next occurrence.  It is safe for concurrent use.
type Estimator struct {
	Tables Tables

	// Logf is used to report failures; log.Printf when nil
	Logf func(format string, args ...interface{})

	mu     sync.Mutex
	logged map[error]bool
}

// NewEstimator returns an Estimator using tables
func NewEstimator(tables Tables) *Estimator {
	return &Estimator{Tables: tables}
}

var causes = []error{ErrReference, ErrInput, ErrNumeric}

func causeOf(err error) error {
	for _, c := range causes {
		if errors.Is(err, c) {
			return c
		}
	}
	return err
}

// Estimate computes the photometry for the named telescope.  Errors are
// *UnavailableError.
func (e *Estimator) Estimate(exposure, cycle float64, telescope string, prof ccd.SpeedProfile, bin ccd.Binning, tgt Target) (Result, error) {
	tel, err := e.Tables.Telescope(telescope)
	if err != nil {
		err = &UnavailableError{Err: err}
	} else {
		var r Result
		r, err = Estimate(exposure, cycle, tel, e.Tables.Sky, prof, bin, tgt)
		if err == nil {
			e.mu.Lock()
			e.logged = nil
			e.mu.Unlock()
			return r, nil
		}
	}
	e.report(err)
	return Result{}, err
}

func (e *Estimator) report(err error) {
	c := causeOf(err)
	e.mu.Lock()
	if e.logged == nil {
		e.logged = make(map[error]bool)
	}
	seen := e.logged[c]
	e.logged[c] = true
	e.mu.Unlock()
	if seen {
		return
	}
	logf := e.Logf
	if logf == nil {
		logf = log.Printf
	}
	logf("%v", err)
}
