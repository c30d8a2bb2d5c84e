// Package datavol estimates the data volume written by the data server.
package datavol

import (
	"time"

	"github.com/StuartLittlefair/udriver/ccd"
)

const (
	// HeaderBytes is the size of the per-frame header
	HeaderBytes = 24

	// BytesPerPixel is the storage cost of one binned pixel
	BytesPerPixel = 12

	// Unknown is returned by BytesPerFrame when the geometry is not usable
	Unknown = 1

	// WarnMB is the disk usage above which to warn the observer
	WarnMB = 1500

	// DangerMB is the disk usage above which the run should be stopped
	DangerMB = 1800
)

// BytesPerFrame returns the size of one frame for the setup.  It returns
// Unknown for invalid geometries.
func BytesPerFrame(mode ccd.Mode, ws ccd.WindowSet) int {
	if !mode.Known() || ccd.Validate(mode, ws) != nil {
		return Unknown
	}
	bin := ws.Bin
	if mode.FullFrame() {
		if mode.Overscan() {
			return HeaderBytes + BytesPerPixel*(ccd.OverscanWidth/bin.X)*(ccd.OverscanHeight/bin.Y)
		}
		return HeaderBytes + BytesPerPixel*(ccd.HalfWidth/bin.X)*(ccd.Height/bin.Y)
	}
	n := HeaderBytes
	for _, p := range ws.Enabled(mode) {
		n += BytesPerPixel * (p.NX / bin.X) * (p.NY / bin.Y)
	}
	return n
}

// MegabytesUsed estimates the disk space used after elapsed at one frame per
// cycle (seconds), rounded to the nearest megabyte
func MegabytesUsed(elapsed time.Duration, cycle float64, bytesPerFrame int) int {
	if cycle <= 0 {
		return 0
	}
	frames := elapsed.Seconds() / cycle
	return int(frames*float64(bytesPerFrame)/1024/1024 + 0.5)
}

// Level grades disk usage
type Level int

const (
	// OK is at or below WarnMB
	OK Level = iota
	// Warn is above WarnMB
	Warn
	// Danger is above DangerMB
	Danger
)

func (l Level) String() string {
	switch l {
	case Warn:
		return "warn"
	case Danger:
		return "danger"
	}
	return "ok"
}

// MarshalText encodes the level by name
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// DiskLevel grades a disk usage in megabytes
func DiskLevel(mb int) Level {
	switch {
	case mb > DangerMB:
		return Danger
	case mb > WarnMB:
		return Warn
	}
	return OK
}
