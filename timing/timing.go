// Package timing computes the cycle time, exposure time and related
// quantities the camera will produce for a given setup.
//
// Internally everything is in microseconds using the fixed clock periods of
// the controller; Result converts to seconds.
package timing

import (
	"errors"
	"fmt"
	"log"

	"github.com/StuartLittlefair/udriver/ccd"
	"github.com/StuartLittlefair/udriver/mathx"
)

// clock periods and delays, microseconds
const (
	// InversionDelay is the time taken to invert the clocks
	InversionDelay = 110.

	// VClockFrame is the vertical clock period during a frame transfer
	VClockFrame = 23.3

	// VClockStorage is the vertical clock period when shifting the storage area
	VClockStorage = 23.3

	// HClock is the horizontal clock period
	HClock = 0.48

	// SwitchTime is added to the CDS time of every pixel
	SwitchTime = 0.56

	// clearRows is the number of rows clocked in a clear
	clearRows = ccd.FrameRows + 1027

	// overscanClearRows is the number of rows clocked in a clear in overscan modes
	overscanClearRows = ccd.FrameRows + ccd.OverscanHeight

	// dumpGateClocks is the number of horizontal clocks to open the serial register dump gates
	dumpGateClocks = 8

	// fullFrameHClocks is the horizontal clock budget of a full frame line
	fullFrameHClocks = 536
)

// ErrUndefined is returned when the geometry is invalid; no timing can be given
var ErrUndefined = errors.New("timing undefined")

// Result holds the timing of one setup.  Times are in seconds.
type Result struct {
	CycleTime     float64 `json:"cycleTime"`
	ExposureTime  float64 `json:"exposureTime"`
	DeadTime      float64 `json:"deadTime"`
	FrameTransfer float64 `json:"frameTransfer"`
	Readout       float64 `json:"readout"`

	// FrameRate in Hz
	FrameRate float64 `json:"frameRate"`

	// DutyCycle in percent
	DutyCycle float64 `json:"dutyCycle"`

	// PipeShift in rows, drift modes only
	PipeShift *int `json:"pipeShift,omitempty"`

	// NumStorageWindows is the number of windows held in the storage area, drift modes only
	NumStorageWindows *int `json:"numStorageWindows,omitempty"`
}

// micro holds intermediate values, microseconds
type micro struct {
	cycle, frameTransfer, readout float64

	// exposure is already in seconds when fixed is true
	exposure float64
	fixed    bool

	pshift, nwins int
	drift         bool
}

// Compute returns the timing of a setup.  exposeTenths is the exposure
// delay in units of 0.1 ms.  An invalid geometry gives ErrUndefined wrapping
// the *ccd.GeometryError.  An unknown mode is a programming error and
// terminates the program.
func Compute(mode ccd.Mode, ws ccd.WindowSet, exposeTenths int, prof ccd.SpeedProfile) (Result, error) {
	if !mode.Known() {
		log.Fatalf("timing: application mode %d is unrecognised, programming error", int(mode))
	}
	if err := ccd.Validate(mode, ws); err != nil {
		return Result{}, &UndefinedError{Err: err}
	}
	if exposeTenths < 0 {
		return Result{}, &UndefinedError{Err: fmt.Errorf("exposure delay %d < 0", exposeTenths)}
	}
	video := prof.CDSTime + SwitchTime
	expose := float64(exposeTenths)
	bin := ws.Bin

	var m micro
	switch mode {
	case ccd.FullframeClear, ccd.FullframeNoClear:
		m = fullFrame(expose, bin, video, mode.Clears())
	case ccd.FullframeOverscanClear, ccd.FullframeOverscanNoClear:
		m = overscan(expose, bin, video, mode.Clears())
	case ccd.Windows2, ccd.Windows4, ccd.Windows6, ccd.Windows2Clear:
		m = windowed(expose, ws.Enabled(mode), bin, video, mode.Clears())
	case ccd.DriftMode:
		m = drift(expose, ws.Pairs[0], bin, video, false)
	case ccd.TimingTest:
		m = drift(expose, ws.Pairs[0], bin, video, true)
	default:
		log.Fatalf("timing: application mode %s has no timing model, programming error", mode)
	}
	return m.result(), nil
}

// UndefinedError is returned by Compute for setups with no timing.  It
// matches ErrUndefined and unwraps to the cause.
type UndefinedError struct {
	Err error
}

func (e *UndefinedError) Error() string { return ErrUndefined.Error() + ": " + e.Err.Error() }

// Unwrap returns the cause
func (e *UndefinedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUndefined
func (e *UndefinedError) Is(target error) bool { return target == ErrUndefined }

func (m micro) result() Result {
	var r Result
	r.CycleTime = m.cycle / 1e6
	if m.fixed {
		r.ExposureTime = m.exposure
	} else {
		r.ExposureTime = (m.cycle - m.frameTransfer) / 1e6
	}
	r.FrameTransfer = m.frameTransfer / 1e6
	r.Readout = m.readout / 1e6
	r.DeadTime = r.CycleTime - r.ExposureTime
	r.FrameRate = 1 / r.CycleTime
	r.DutyCycle = 100 * r.ExposureTime / r.CycleTime
	if m.drift {
		ps, nw := m.pshift, m.nwins
		r.PipeShift = &ps
		r.NumStorageWindows = &nw
	}
	return r
}

func fullFrame(expose float64, bin ccd.Binning, video float64, clear bool) micro {
	var m micro
	m.frameTransfer = ccd.FrameRows * VClockFrame
	m.readout = (VClockStorage*float64(bin.Y) + fullFrameHClocks*HClock +
		(float64(ccd.HalfWidth)/float64(bin.X)+2)*video) * (float64(ccd.Height) / float64(bin.Y))
	m.cycle = InversionDelay + 100*expose + m.frameTransfer + m.readout
	if clear {
		m.cycle += clearRows * VClockFrame
		m.exposure = expose / 10000
		m.fixed = true
	}
	return m
}

func overscan(expose float64, bin ccd.Binning, video float64, clear bool) micro {
	var m micro
	m.frameTransfer = ccd.FrameRows * VClockFrame
	// the row count is integer: partial binned rows are not read
	rows := float64(ccd.OverscanHeight / bin.Y)
	m.readout = (VClockStorage*float64(bin.Y) + ccd.OverscanWidth*HClock +
		(float64(ccd.OverscanWidth)/float64(bin.X)+2)*video) * rows
	m.cycle = InversionDelay + 100*expose + m.frameTransfer + m.readout
	if clear {
		m.cycle += overscanClearRows * VClockFrame
		m.exposure = expose / 10000
		m.fixed = true
	}
	return m
}

// HClocks is the number of horizontal clocks per line to read a pair.  Both
// windows dump through a shared serial register, so the window nearer its
// edge is shifted by the difference in margins and the smaller margin is
// dumped.
func HClocks(p ccd.WindowPair) int {
	left, right := p.LeftMargin(), p.RightMargin()
	diffShift := left - right
	if diffShift < 0 {
		diffShift = -diffShift
	}
	if left > right {
		return p.NX + diffShift + right + dumpGateClocks
	}
	return p.NX + diffShift + left + dumpGateClocks
}

// readPair is the time to read all rows of a pair once it is next to the
// serial registers
func readPair(p ccd.WindowPair, bin ccd.Binning, video float64) float64 {
	line := VClockStorage*float64(bin.Y) + float64(HClocks(p))*HClock + float64(p.NX/bin.X+2)*video
	return float64(p.NY/bin.Y) * line
}

func windowed(expose float64, pairs []ccd.WindowPair, bin ccd.Binning, video float64, clear bool) micro {
	var m micro
	m.frameTransfer = ccd.FrameRows * VClockFrame
	m.cycle = InversionDelay + 100*expose + m.frameTransfer
	if clear {
		m.cycle += clearRows * VClockFrame
	}
	for i, p := range pairs {
		// rows to shift the pair down to the serial register
		var yShift float64
		if i == 0 {
			yShift = float64(p.YStart-1) * VClockStorage
		} else {
			prev := pairs[i-1]
			yShift = float64(p.YStart-prev.YStart-prev.NY) * VClockStorage
		}
		read := readPair(p, bin, video)
		m.cycle += yShift + read
		m.readout += yShift + read
	}
	if clear {
		m.exposure = expose / 10000
		m.fixed = true
	}
	return m
}

// StorageWindows returns the number of windows of height ny that fit in the
// storage area, and the pipe shift in rows needed to keep them apart
func StorageWindows(ny int) (nwins, pshift int) {
	nwins = int((float64(ccd.FrameRows)/float64(ny) + 1) / 2)
	pshift = int(float64(ccd.FrameRows) - float64(2*nwins-1)*float64(ny))
	return nwins, pshift
}

func drift(expose float64, p ccd.WindowPair, bin ccd.Binning, video float64, amortise bool) micro {
	var m micro
	m.drift = true
	m.nwins, m.pshift = StorageWindows(p.NY)
	m.frameTransfer = float64(p.NY+p.YStart-1) * VClockFrame
	shift := float64(m.pshift) * VClockStorage
	if amortise {
		// one pipe shift every nwins frames
		shift /= float64(m.nwins)
	}
	read := readPair(p, bin, video)
	m.cycle = InversionDelay + shift + 100*expose + m.frameTransfer + read
	m.readout = read + shift
	return m
}

// Row is a line of the detailed timing table
type Row struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Unit  string `json:"unit"`
}

// Table formats the result as rows of label, value and unit with the
// values rounded for display
func (r Result) Table() []Row {
	f := func(x, unit float64, prec int) string {
		return fmt.Sprintf("%.*f", prec, mathx.Round(x, unit))
	}
	undef := func(p *int) string {
		if p == nil {
			return "UNDEFINED"
		}
		return fmt.Sprint(*p)
	}
	return []Row{
		{"Frame rate", f(r.FrameRate, 0.001, 3), "Hz"},
		{"Cycle time", f(r.CycleTime, 0.0001, 4), "sec"},
		{"Exposure time", f(r.ExposureTime, 0.0001, 4), "sec"},
		{"Dead time", f(r.DeadTime, 0.0001, 4), "sec"},
		{"Readout time", f(r.Readout, 0.0001, 4), "sec"},
		{"Frame transfer", f(r.FrameTransfer, 0.0001, 4), "sec"},
		{"Duty cycle", f(r.DutyCycle, 0.01, 2), "%"},
		{"Pipe shift", undef(r.PipeShift), "pixels"},
		{"nwin", undef(r.NumStorageWindows), "windows"},
	}
}
