package ccd

import (
	"errors"
	"fmt"
)

const (
	// MaxNBlue is the largest u' co-add factor
	MaxNBlue = 1000

	// Indefinite as a number of exposures runs until stopped
	Indefinite = -1

	// minExposeTenths is the smallest exposure delay outside expert mode
	minExposeTenths = 5
)

// ErrExposure is returned for exposure parameters out of range
var ErrExposure = errors.New("exposure parameters out of range")

// Exposure holds the exposure parameters posted with the application
type Exposure struct {
	// ExposeTenths is the exposure delay in units of 0.1 ms
	ExposeTenths int `json:"exposeTenths" yaml:"exposeTenths" koanf:"exposeTenths"`

	// NumExposures is the number of frames, Indefinite to run until stopped
	NumExposures int `json:"numExposures" yaml:"numExposures" koanf:"numExposures"`

	// NBlue is the number of u' frames co-added on chip
	NBlue int `json:"nblue" yaml:"nblue" koanf:"nblue"`
}

// Validate checks the ranges of the exposure parameters
func (e Exposure) Validate() error {
	if e.ExposeTenths < 0 {
		return fmt.Errorf("%w: expose = %d < 0", ErrExposure, e.ExposeTenths)
	}
	if e.NumExposures < Indefinite {
		return fmt.Errorf("%w: number of exposures = %d", ErrExposure, e.NumExposures)
	}
	if e.NBlue < 1 || e.NBlue > MaxNBlue {
		return fmt.Errorf("%w: nblue = %d not in [1,%d]", ErrExposure, e.NBlue, MaxNBlue)
	}
	return nil
}

// Normalise returns a copy in which, outside expert mode, the exposure
// delay is at least 0.5 ms
func (e Exposure) Normalise(expert bool) Exposure {
	if !expert && e.ExposeTenths < minExposeTenths {
		e.ExposeTenths = minExposeTenths
	}
	return e
}

// ExposeFromParts combines whole milliseconds and tenths of a millisecond
// into the exposure delay
func ExposeFromParts(ms, tenths int) int {
	return 10*ms + tenths
}

// Setup is everything needed to configure a run
type Setup struct {
	Mode     Mode      `json:"mode" yaml:"mode" koanf:"mode"`
	Windows  WindowSet `json:"windows" yaml:"windows" koanf:"windows"`
	Speed    Speed     `json:"speed" yaml:"speed" koanf:"speed"`
	Exposure Exposure  `json:"exposure" yaml:"exposure" koanf:"exposure"`
}

// DefaultSetup is a 1x1 binned full frame with a clear, slow readout and
// an indefinite run
func DefaultSetup() Setup {
	return Setup{
		Mode:     FullframeClear,
		Windows:  DefaultWindows(FullframeClear),
		Speed:    Slow,
		Exposure: Exposure{ExposeTenths: minExposeTenths, NumExposures: Indefinite, NBlue: 1},
	}
}

// Clone returns a copy sharing no memory with s
func (s Setup) Clone() Setup {
	s.Windows = s.Windows.Clone()
	return s
}

// Validate checks the geometry and the exposure parameters
func (s Setup) Validate() error {
	if !s.Speed.Known() {
		return fmt.Errorf("unknown readout speed %d", int(s.Speed))
	}
	if err := Validate(s.Mode, s.Windows); err != nil {
		return err
	}
	return s.Exposure.Validate()
}
