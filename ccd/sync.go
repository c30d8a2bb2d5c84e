package ccd

import (
	"fmt"
	"math"
)

// syncRef is the last column (row) before the chip centre; binned pixels end
// here when synchronised
const syncRef = Centre - 1

// SyncStart returns the start coordinate nearest to start for which
// ref+1-newStart is a multiple of bin, so that no binned pixel straddles ref.
// A result below min (above max) is moved up (down) by one bin.  Only one
// step is taken, so for starts far outside [min,max] the result can still be
// out of range.
func SyncStart(start, bin, min, max, ref int) int {
	n := int(math.Round(float64(ref+1-start) / float64(bin)))
	start = ref + 1 - bin*n
	if start < min {
		start += bin
	}
	if start > max {
		start -= bin
	}
	return start
}

// EdgeSynchronised returns true if a window edge at start is in phase with
// the chip centre for the binning
func EdgeSynchronised(start, bin int) bool {
	return (Centre-start)%bin == 0
}

// IsSynchronised returns true if the geometry has no binned pixel straddling
// the chip centre.  For full frame modes that requires the binning to divide
// the readout area; for windowed modes every edge of every pair read by the
// mode is checked.
func IsSynchronised(mode Mode, ws WindowSet) bool {
	bin := ws.Bin
	if bin.X < 1 || bin.Y < 1 {
		return false
	}
	if mode.FullFrame() {
		if mode.Overscan() {
			return OverscanWidth%bin.X == 0 && OverscanHeight%bin.Y == 0
		}
		return HalfWidth%bin.X == 0 && Height%bin.Y == 0
	}
	for _, p := range ws.Enabled(mode) {
		if !EdgeSynchronised(p.YStart, bin.Y) ||
			!EdgeSynchronised(p.XLeft, bin.X) ||
			!EdgeSynchronised(p.XRight, bin.X) {
			return false
		}
	}
	return true
}

// Synchronise returns a copy of ws with every window edge moved to the
// nearest synchronised position.  Full frame geometries cannot be moved, so
// an error is returned when their binning does not divide the readout area.
func Synchronise(mode Mode, ws WindowSet) (WindowSet, error) {
	if err := Validate(mode, ws); err != nil {
		return ws, err
	}
	bin := ws.Bin
	if mode.FullFrame() {
		if mode.Overscan() {
			if OverscanWidth%bin.X != 0 || OverscanHeight%bin.Y != 0 {
				return ws, fmt.Errorf("cannot synchronise %s with binning %s, xbin must divide into %d, ybin must divide into %d",
					mode, bin.HxV(), OverscanWidth, OverscanHeight)
			}
			return ws, nil
		}
		if HalfWidth%bin.X != 0 || Height%bin.Y != 0 {
			return ws, fmt.Errorf("cannot synchronise %s with binning %s, xbin must divide into %d, ybin must divide into %d",
				mode, bin.HxV(), HalfWidth, Height)
		}
		return ws, nil
	}
	out := ws.Clone()
	for i, p := range out.Pairs {
		p.YStart = SyncStart(p.YStart, bin.Y, 1, Height, syncRef)
		p.XLeft = SyncStart(p.XLeft, bin.X, 1, HalfWidth, syncRef)
		p.XRight = SyncStart(p.XRight, bin.X, Centre, Width, syncRef)
		out.Pairs[i] = p
	}
	return out, nil
}
