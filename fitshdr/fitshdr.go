// Package fitshdr describes a detector setup as FITS header cards
package fitshdr

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/StuartLittlefair/udriver/ccd"
	"github.com/StuartLittlefair/udriver/timing"
)

// HDRVER identifies the layout of the cards
const HDRVER = "UDRIVER-1"

// Cards returns the header cards for a setup and its timing.  The window
// cards (WnYS, WnXL, WnXR, WnNX, WnNY) are only present for the enabled
// pairs of windowed and drift modes.
func Cards(s ccd.Setup, t timing.Result) []fitsio.Card {
	bin := s.Windows.Bin
	cards := []fitsio.Card{
		// header to the header
		{Name: "HDRVER", Value: HDRVER, Comment: "header version"},

		// setup
		{Name: "MODE", Value: s.Mode.String(), Comment: "readout mode"},
		{Name: "XBIN", Value: bin.X, Comment: "binning factor in x"},
		{Name: "YBIN", Value: bin.Y, Comment: "binning factor in y"},
		{Name: "SPEED", Value: s.Speed.String(), Comment: "readout speed"},
		{Name: "EXPOSE", Value: float64(s.Exposure.ExposeTenths) * 1e-4, Comment: "exposure delay, seconds"},
		{Name: "NEXP", Value: s.Exposure.NumExposures, Comment: "number of exposures, -1 if indefinite"},
		{Name: "NBLUE", Value: s.Exposure.NBlue, Comment: "frames per blue channel readout"},

		// timing
		{Name: "CYCTIME", Value: t.CycleTime, Comment: "cycle time, seconds"},
		{Name: "EXPTIME", Value: t.ExposureTime, Comment: "exposure time, seconds"},
		{Name: "DEADTIME", Value: t.DeadTime, Comment: "dead time, seconds"},
		{Name: "FRAMERAT", Value: t.FrameRate, Comment: "frame rate, Hz"},
		{Name: "DUTYCYC", Value: t.DutyCycle, Comment: "duty cycle, percent"},
	}
	if s.Mode.FullFrame() {
		return cards
	}
	for i, p := range s.Windows.Enabled(s.Mode) {
		n := i + 1
		cards = append(cards,
			fitsio.Card{Name: fmt.Sprintf("W%dYS", n), Value: p.YStart, Comment: "1-based first row of the pair"},
			fitsio.Card{Name: fmt.Sprintf("W%dXL", n), Value: p.XLeft, Comment: "1-based first column of the left window"},
			fitsio.Card{Name: fmt.Sprintf("W%dXR", n), Value: p.XRight, Comment: "1-based first column of the right window"},
			fitsio.Card{Name: fmt.Sprintf("W%dNX", n), Value: p.NX, Comment: "window width, unbinned px"},
			fitsio.Card{Name: fmt.Sprintf("W%dNY", n), Value: p.NY, Comment: "window height, unbinned px"},
		)
	}
	return cards
}

// Write streams a FITS file with a header-only primary HDU holding cards
func Write(w io.Writer, cards []fitsio.Card) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()
	im := fitsio.NewImage(8, nil)
	defer im.Close()
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	return f.Write(im)
}
