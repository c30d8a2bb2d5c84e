// Package photometry estimates the counts and signal-to-noise ratio of a
// point source observed with a given setup.
package photometry

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/StuartLittlefair/udriver/ccd"
)

const (
	// DarkRate is the dark current in counts per second per unbinned pixel
	DarkRate = 0.1

	// ApertureScale is the aperture radius in units of the seeing FWHM
	ApertureScale = 1.5

	// fwhmToSigma converts a gaussian FWHM into its standard deviation
	fwhmToSigma = 2.3548

	// WarningPeak is the peak count above which non-linearity is a concern
	WarningPeak = 25000.

	// SaturationPeak is the peak count above which the chip saturates
	SaturationPeak = 60000.
)

var (
	// ErrUnavailable is matched by every error from Estimate
	ErrUnavailable = errors.New("photometry unavailable")

	// ErrReference is the cause when reference data is missing or malformed
	ErrReference = errors.New("missing reference data")

	// ErrInput is the cause when an input is non-physical
	ErrInput = errors.New("non-physical input")

	// ErrNumeric is the cause when the calculation does not produce a finite answer
	ErrNumeric = errors.New("numeric failure")
)

// UnavailableError is returned by Estimate.  It matches ErrUnavailable and
// unwraps to the cause.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return ErrUnavailable.Error() + ": " + e.Err.Error() }

// Unwrap returns the cause
func (e *UnavailableError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUnavailable
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(cause error, format string, args ...interface{}) error {
	return &UnavailableError{Err: fmt.Errorf("%w: %s", cause, fmt.Sprintf(format, args...))}
}

// Band is one of the five SDSS filters
type Band int

const (
	// U is u'
	U Band = iota
	// G is g'
	G
	// R is r'
	R
	// I is i'
	I
	// Z is z'
	Z
)

var bandNames = [...]string{"u'", "g'", "r'", "i'", "z'"}

func (b Band) String() string {
	if b < U || b > Z {
		return fmt.Sprintf("Band(%d)", int(b))
	}
	return bandNames[b]
}

// ParseBand accepts e.g. "g'", "g" or "G"
func ParseBand(s string) (Band, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "'")
	for i, n := range bandNames {
		if n[:1] == s {
			return Band(i), nil
		}
	}
	return 0, fmt.Errorf("unknown filter %q", s)
}

// MarshalText encodes the band by name
func (b Band) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// UnmarshalText parses a band name
func (b *Band) UnmarshalText(t []byte) error {
	band, err := ParseBand(string(t))
	if err != nil {
		return err
	}
	*b = band
	return nil
}

// Moon is the lunar phase, which sets the sky brightness
type Moon int

const (
	// Dark is new moon
	Dark Moon = iota
	// Grey is around quarter moon
	Grey
	// Bright is around full moon
	Bright
)

var moonNames = [...]string{"dark", "grey", "bright"}

func (m Moon) String() string {
	if m < Dark || m > Bright {
		return fmt.Sprintf("Moon(%d)", int(m))
	}
	return moonNames[m]
}

// ParseMoon accepts dark, grey (or gray) and bright
func ParseMoon(s string) (Moon, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "gray" {
		s = "grey"
	}
	for i, n := range moonNames {
		if n == s {
			return Moon(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sky brightness %q", s)
}

// MarshalText encodes the phase by name
func (m Moon) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText parses a phase name
func (m *Moon) UnmarshalText(t []byte) error {
	moon, err := ParseMoon(string(t))
	if err != nil {
		return err
	}
	*m = moon
	return nil
}

// Target describes the source and the observing conditions
type Target struct {
	// Magnitude of the source in Band
	Magnitude float64 `json:"magnitude" yaml:"magnitude" koanf:"magnitude"`
	Band      Band    `json:"band" yaml:"band" koanf:"band"`

	// Seeing is the FWHM in arcseconds
	Seeing  float64 `json:"seeing" yaml:"seeing" koanf:"seeing"`
	Airmass float64 `json:"airmass" yaml:"airmass" koanf:"airmass"`
	Moon    Moon    `json:"moon" yaml:"moon" koanf:"moon"`
}

// Level grades the peak counts
type Level int

const (
	// Nominal peaks are in the linear regime
	Nominal Level = iota

	// Warning peaks risk non-linearity
	Warning

	// Saturated peaks are above the full well
	Saturated
)

func (l Level) String() string {
	switch l {
	case Nominal:
		return "nominal"
	case Warning:
		return "warning"
	case Saturated:
		return "saturated"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// MarshalText encodes the level by name
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Classify grades a peak count: above SaturationPeak is Saturated, above
// WarningPeak is Warning, anything else Nominal
func Classify(peak float64) Level {
	switch {
	case peak > SaturationPeak:
		return Saturated
	case peak > WarningPeak:
		return Warning
	}
	return Nominal
}

// Result holds the estimate.  Counts are per exposure.
type Result struct {
	TotalCounts float64 `json:"totalCounts"`
	PeakCounts  float64 `json:"peakCounts"`

	// SNR is the signal-to-noise ratio of a single exposure
	SNR float64 `json:"snr"`

	// SNR3h is the signal-to-noise ratio summed over a three hour run
	SNR3h float64 `json:"snr3h"`
	Level Level   `json:"level"`

	ZeroPoint        float64 `json:"zeroPoint"`
	ReadNoise        float64 `json:"readNoise"`
	Gain             float64 `json:"gain"`
	ApertureDiameter float64 `json:"apertureDiameter"`
	AperturePixels   float64 `json:"aperturePixels"`
	Signal           float64 `json:"signal"`
	SkyMag           float64 `json:"skyMag"`
	SkyPerPixel      float64 `json:"skyPerPixel"`
	SkyTotal         float64 `json:"skyTotal"`
	DarkTotal        float64 `json:"darkTotal"`
	ReadTotal        float64 `json:"readTotal"`
}

// ApertureCorrection is the fraction of a gaussian's flux inside a radius of
// ApertureScale times its FWHM
func ApertureCorrection() float64 {
	return 1 - math.Exp(-math.Pow(fwhmToSigma*ApertureScale, 2)/2)
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Estimate computes the counts and signal-to-noise ratio of tgt for an
// exposure of exposure seconds repeated every cycle seconds.  Any failure is
// returned as an *UnavailableError and does not affect the timing.
func Estimate(exposure, cycle float64, tel Telescope, sky Sky, prof ccd.SpeedProfile, bin ccd.Binning, tgt Target) (Result, error) {
	b := tgt.Band
	if b < U || b > Z {
		return Result{}, unavailable(ErrReference, "filter %v", b)
	}
	if tgt.Moon < Dark || tgt.Moon > Bright {
		return Result{}, unavailable(ErrReference, "sky brightness %v", tgt.Moon)
	}
	if tel.PlateScale <= 0 {
		return Result{}, unavailable(ErrReference, "telescope %q plate scale %g", tel.Name, tel.PlateScale)
	}
	if prof.Gain <= 0 {
		return Result{}, unavailable(ErrReference, "readout speed %q has gain %g", prof.Name, prof.Gain)
	}
	if tgt.Seeing <= 0 {
		return Result{}, unavailable(ErrInput, "seeing %g must be > 0", tgt.Seeing)
	}
	if tgt.Airmass < 1 {
		return Result{}, unavailable(ErrInput, "airmass %g must be >= 1", tgt.Airmass)
	}
	if !bin.Valid() {
		return Result{}, unavailable(ErrInput, "binning %s", bin.HxV())
	}
	if exposure < 0 || cycle <= 0 {
		return Result{}, unavailable(ErrInput, "exposure %g s, cycle %g s", exposure, cycle)
	}

	var r Result
	r.ZeroPoint = tel.ZeroPoint[b]
	r.SkyMag = sky.Brightness[tgt.Moon][b]
	r.Gain = prof.Gain
	r.ReadNoise = prof.ReadNoiseFor(bin)
	area := float64(bin.Area())
	scale := tel.PlateScale

	r.TotalCounts = math.Pow(10, (r.ZeroPoint-tgt.Magnitude-tgt.Airmass*sky.Extinction[b])/2.5) * exposure
	r.PeakCounts = r.TotalCounts * area * math.Pow(scale/(tgt.Seeing/fwhmToSigma), 2) / (2 * math.Pi)

	skyPerArcsec := math.Pow(10, (r.ZeroPoint-r.SkyMag)/2.5) * exposure
	r.SkyPerPixel = skyPerArcsec * scale * scale * area
	r.SkyTotal = skyPerArcsec * math.Pi * math.Pow(ApertureScale*tgt.Seeing, 2)
	r.ApertureDiameter = 2 * ApertureScale * tgt.Seeing
	r.AperturePixels = math.Pi * math.Pow(ApertureScale*tgt.Seeing/scale, 2) / area
	r.Signal = ApertureCorrection() * r.TotalCounts
	r.DarkTotal = r.AperturePixels * DarkRate * exposure
	r.ReadTotal = r.AperturePixels * r.ReadNoise * r.ReadNoise / r.Gain

	noise := math.Sqrt((r.ReadTotal + r.DarkTotal + r.SkyTotal + r.Signal) / r.Gain)
	if !(noise > 0) || !finite(noise, r.TotalCounts, r.PeakCounts) {
		return Result{}, unavailable(ErrNumeric, "noise = %g", noise)
	}
	r.SNR = r.Signal / noise
	r.SNR3h = r.SNR * math.Sqrt(3*3600/cycle)
	r.Level = Classify(r.PeakCounts)
	return r, nil
}
