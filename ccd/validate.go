package ccd

import (
	"errors"
	"fmt"
	"log"
	"strings"
)

var (
	// ErrMode is returned for a mode that is not enumerated
	ErrMode = errors.New("unknown application mode")

	// ErrBinning is returned when a binning factor is outside [1,8]
	ErrBinning = errors.New("binning factor out of range")

	// ErrPairCount is returned when the number of window pairs does not match the mode
	ErrPairCount = errors.New("wrong number of window pairs for mode")

	// ErrSize is returned when a window has no pixels
	ErrSize = errors.New("window size must be at least 1")

	// ErrBounds is returned when a window extends past the edge of the chip
	ErrBounds = errors.New("window extends off the chip")

	// ErrOverlap is returned when the left and right windows of a pair overlap
	ErrOverlap = errors.New("left and right windows overlap")

	// ErrOrder is returned when a pair does not start above the previous one
	ErrOrder = errors.New("window pairs overlap or are out of order")

	// ErrBinMultiple is returned when a window size is not a multiple of the binning
	ErrBinMultiple = errors.New("window size is not a multiple of the binning factor")

	// ErrSpecialNY is returned in drift modes for a window height at which the pipe shift degenerates
	ErrSpecialNY = errors.New("window height is a forbidden drift mode value")
)

// GeometryError collects every problem found with a window geometry
type GeometryError struct {
	Mode     Mode
	Problems []error
}

func (e *GeometryError) Error() string {
	strs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		strs[i] = p.Error()
	}
	return fmt.Sprintf("invalid geometry for %s: %s", e.Mode, strings.Join(strs, "; "))
}

// Has returns true if any problem matches target via errors.Is
func (e *GeometryError) Has(target error) bool {
	for _, p := range e.Problems {
		if errors.Is(p, target) {
			return true
		}
	}
	return false
}

// Strings returns the problems as text, one per entry
func (e *GeometryError) Strings() []string {
	out := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		out[i] = p.Error()
	}
	return out
}

type collector struct {
	errs []error
}

func (c *collector) add(err error, format string, args ...interface{}) {
	c.errs = append(c.errs, fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err))
}

// Validate checks the window geometry against the rules of the mode.  It
// returns nil or a *GeometryError holding every problem found, not just the
// first.  Validate has no side effects.
func Validate(mode Mode, ws WindowSet) error {
	c := &collector{}
	if !mode.Known() {
		c.add(ErrMode, "mode %d", int(mode))
		return &GeometryError{Mode: mode, Problems: c.errs}
	}
	bin := ws.Bin
	if bin.X < 1 || bin.X > MaxBin {
		c.add(ErrBinning, "xbin = %d not in [1,%d]", bin.X, MaxBin)
	}
	if bin.Y < 1 || bin.Y > MaxBin {
		c.add(ErrBinning, "ybin = %d not in [1,%d]", bin.Y, MaxBin)
	}
	if !mode.FullFrame() {
		validatePairs(c, mode, ws)
	}
	if len(c.errs) == 0 {
		return nil
	}
	return &GeometryError{Mode: mode, Problems: c.errs}
}

func validatePairs(c *collector, mode Mode, ws WindowSet) {
	want := mode.NumPairs()
	if len(ws.Pairs) != want {
		c.add(ErrPairCount, "%s needs %d pair(s), have %d", mode, want, len(ws.Pairs))
		return
	}
	bin := ws.Bin
	for i, p := range ws.Pairs {
		n := i + 1
		if p.NX < 1 {
			c.add(ErrSize, "pair %d: nx = %d", n, p.NX)
		}
		if p.NY < 1 {
			c.add(ErrSize, "pair %d: ny = %d", n, p.NY)
		}
		if p.XLeft < 1 {
			c.add(ErrBounds, "pair %d: xleft = %d < 1", n, p.XLeft)
		}
		if p.XLeft+p.NX-1 >= p.XRight {
			c.add(ErrOverlap, "pair %d: xleft + nx - 1 = %d must be < xright = %d", n, p.XLeft+p.NX-1, p.XRight)
		}
		if p.XRight+p.NX-1 > Width {
			c.add(ErrBounds, "pair %d: xright + nx - 1 = %d > %d", n, p.XRight+p.NX-1, Width)
		}
		if p.YStart < 1 {
			c.add(ErrBounds, "pair %d: ystart = %d < 1", n, p.YStart)
		}
		if p.YStart+p.NY-1 > Height {
			c.add(ErrBounds, "pair %d: ystart + ny - 1 = %d > %d", n, p.YStart+p.NY-1, Height)
		}
		if bin.X >= 1 && p.NX%bin.X != 0 {
			c.add(ErrBinMultiple, "pair %d: nx = %d not a multiple of xbin = %d", n, p.NX, bin.X)
		}
		if bin.Y >= 1 && p.NY%bin.Y != 0 {
			c.add(ErrBinMultiple, "pair %d: ny = %d not a multiple of ybin = %d", n, p.NY, bin.Y)
		}
		if i > 0 {
			prev := ws.Pairs[i-1]
			if p.YStart < prev.YEnd() {
				c.add(ErrOrder, "pair %d: ystart = %d must be >= %d, the top of pair %d", n, p.YStart, prev.YEnd(), i)
			}
		}
		if mode.Drift() && IsSpecialNY(p.NY) {
			c.add(ErrSpecialNY, "pair %d: ny = %d, choose another height", n, p.NY)
		}
	}
}

// IsValid is a boolean form of Validate.  When loud is true the problems are
// logged; otherwise it is silent.
func IsValid(mode Mode, ws WindowSet, loud bool) bool {
	err := Validate(mode, ws)
	if err == nil {
		return true
	}
	if loud {
		log.Println(err)
	}
	return false
}
