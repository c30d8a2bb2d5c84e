// Package ccd describes the frame-transfer CCD: its geometry, the readout
// modes the camera supports and the readout speed profiles.
//
// The chip has an image area of 1024x1024 pixels read out through two
// serial registers, one per half (columns 1-512 and 513-1024).  Windows are
// always defined in pairs, one on each half, which share the vertical
// clocks and are read out simultaneously.
package ccd

import (
	"fmt"
	"log"
	"strings"
)

const (
	// Width is the number of unbinned columns in the image area
	Width = 1024

	// Height is the number of unbinned rows in the image area
	Height = 1024

	// HalfWidth is the number of columns read through each serial register
	HalfWidth = 512

	// FrameRows is the number of rows moved in a frame transfer, including
	// the rows between the image and storage areas
	FrameRows = 1033

	// OverscanWidth is the number of columns per half read in overscan modes
	OverscanWidth = 540

	// OverscanHeight is the number of rows read in overscan modes
	OverscanHeight = 1032

	// Centre is the first column (and row) of the second half of the chip.
	// Binned pixels which straddle it leave a visible gap in the middle of the
	// image, so synchronised windows have (Centre - start) divisible by the binning.
	Centre = 513

	// MaxBin is the largest binning factor supported in either direction
	MaxBin = 8

	// MaxPairs is the largest number of window pairs in any mode
	MaxPairs = 3
)

// SpecialNY are the window heights at which the drift mode pipe shift
// degenerates.  They are refused in drift and timing test modes.
var SpecialNY = [...]int{8, 10, 13, 18, 21, 24, 31, 38, 41, 49, 54, 60, 68, 79, 93, 114, 147, 206, 344}

// IsSpecialNY returns true if ny is one of SpecialNY
func IsSpecialNY(ny int) bool {
	for _, v := range SpecialNY {
		if v == ny {
			return true
		}
	}
	return false
}

// Mode is a readout mode of the camera.  Each mode corresponds to one
// application on the camera server.
type Mode int

const (
	// FullframeClear reads the whole chip, clearing it before each exposure
	FullframeClear Mode = iota

	// FullframeNoClear reads the whole chip without a clear
	FullframeNoClear

	// FullframeOverscanClear reads the whole chip plus the overscan
	FullframeOverscanClear

	// FullframeOverscanNoClear reads the whole chip plus the overscan without a clear
	FullframeOverscanNoClear

	// Windows2 reads one pair of windows
	Windows2

	// Windows4 reads two pairs of windows
	Windows4

	// Windows6 reads three pairs of windows
	Windows6

	// Windows2Clear reads one pair of windows, clearing before each exposure
	Windows2Clear

	// DriftMode shuffles a single window pair through the storage area
	DriftMode

	// TimingTest is drift mode without the compensating pipe shift delays
	TimingTest
)

var modeLabels = [...]string{
	FullframeClear:           "Fullframe + clear",
	FullframeNoClear:         "Fullframe, no clear",
	FullframeOverscanClear:   "Fullframe with overscan",
	FullframeOverscanNoClear: "Fullframe, overscan, no clear",
	Windows2:                 "2 windows",
	Windows4:                 "4 windows",
	Windows6:                 "6 windows",
	Windows2Clear:            "2 windows + clear",
	DriftMode:                "Drift mode",
	TimingTest:               "Timing test",
}

// Modes returns every known mode in display order
func Modes() []Mode {
	out := make([]Mode, len(modeLabels))
	for i := range modeLabels {
		out[i] = Mode(i)
	}
	return out
}

// Known returns true if m is one of the enumerated modes
func (m Mode) Known() bool {
	return m >= FullframeClear && m <= TimingTest
}

// String returns the template label of the mode
func (m Mode) String() string {
	if !m.Known() {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeLabels[m]
}

// ParseMode converts a template label (case insensitive) into a Mode
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	for i, lbl := range modeLabels {
		if strings.EqualFold(lbl, s) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown application mode %q", s)
}

// MarshalText encodes the mode as its label
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Known() {
		return nil, fmt.Errorf("cannot marshal unknown mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode label
func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// NumPairs is the number of window pairs the mode reads.  Full frame modes
// read no windows.  An unknown mode is a configuration error and terminates
// the program.
func (m Mode) NumPairs() int {
	switch m {
	case FullframeClear, FullframeNoClear, FullframeOverscanClear, FullframeOverscanNoClear:
		return 0
	case Windows2, Windows2Clear, DriftMode, TimingTest:
		return 1
	case Windows4:
		return 2
	case Windows6:
		return 3
	}
	log.Fatalf("mode %d has no window count, programming error", int(m))
	return 0
}

// FullFrame is true for the four full frame modes
func (m Mode) FullFrame() bool {
	switch m {
	case FullframeClear, FullframeNoClear, FullframeOverscanClear, FullframeOverscanNoClear:
		return true
	}
	return false
}

// Overscan is true for the full frame modes that also read the overscan
func (m Mode) Overscan() bool {
	return m == FullframeOverscanClear || m == FullframeOverscanNoClear
}

// Clears is true for modes which clear the chip before every exposure
func (m Mode) Clears() bool {
	return m == FullframeClear || m == FullframeOverscanClear || m == Windows2Clear
}

// Drift is true for drift mode and the timing test
func (m Mode) Drift() bool {
	return m == DriftMode || m == TimingTest
}

// Binning holds the on-chip binning factors
type Binning struct {
	X int `json:"xbin" yaml:"xbin" koanf:"xbin"`
	Y int `json:"ybin" yaml:"ybin" koanf:"ybin"`
}

// Valid returns true if both factors lie in [1,MaxBin]
func (b Binning) Valid() bool {
	return b.X >= 1 && b.X <= MaxBin && b.Y >= 1 && b.Y <= MaxBin
}

// Max returns the larger of the two factors
func (b Binning) Max() int {
	if b.X > b.Y {
		return b.X
	}
	return b.Y
}

// Area is the number of unbinned pixels per binned pixel
func (b Binning) Area() int {
	return b.X * b.Y
}

// HxV formats the binning as e.g. "2x2"
func (b Binning) HxV() string {
	return fmt.Sprintf("%dx%d", b.X, b.Y)
}
