package ccd

// WindowPair is a pair of windows, one on each half of the chip, which
// share rows.  All quantities are unbinned pixels and 1-based.
type WindowPair struct {
	// YStart is the first row of both windows
	YStart int `json:"ystart" yaml:"ystart" koanf:"ystart"`

	// XLeft is the first column of the left window
	XLeft int `json:"xleft" yaml:"xleft" koanf:"xleft"`

	// XRight is the first column of the right window
	XRight int `json:"xright" yaml:"xright" koanf:"xright"`

	// NX is the width of each window
	NX int `json:"nx" yaml:"nx" koanf:"nx"`

	// NY is the height of each window
	NY int `json:"ny" yaml:"ny" koanf:"ny"`
}

// LeftMargin is the number of columns between the left window and the left
// edge of the chip
func (p WindowPair) LeftMargin() int {
	return p.XLeft - 1
}

// RightMargin is the number of columns between the right window and the
// right edge of the chip
func (p WindowPair) RightMargin() int {
	return Width - p.XRight - p.NX + 1
}

// YEnd is one past the last row of the pair
func (p WindowPair) YEnd() int {
	return p.YStart + p.NY
}

// WindowSet is a snapshot of the window geometry: the binning and up to
// MaxPairs window pairs in order of increasing YStart.  It is treated as a
// value: the With methods return modified copies and never alter the
// receiver's pairs.
type WindowSet struct {
	Bin   Binning      `json:"binning" yaml:"binning" koanf:"binning"`
	Pairs []WindowPair `json:"pairs" yaml:"pairs" koanf:"pairs"`
}

// NewWindowSet copies pairs into a new WindowSet
func NewWindowSet(bin Binning, pairs ...WindowPair) WindowSet {
	return WindowSet{Bin: bin, Pairs: append([]WindowPair(nil), pairs...)}
}

// Clone returns a deep copy of the set
func (ws WindowSet) Clone() WindowSet {
	return NewWindowSet(ws.Bin, ws.Pairs...)
}

// WithBinning returns a copy with different binning factors
func (ws WindowSet) WithBinning(bin Binning) WindowSet {
	out := ws.Clone()
	out.Bin = bin
	return out
}

// WithPair returns a copy with pair i replaced, appending if i == len(Pairs)
func (ws WindowSet) WithPair(i int, p WindowPair) WindowSet {
	out := ws.Clone()
	if i == len(out.Pairs) {
		out.Pairs = append(out.Pairs, p)
		return out
	}
	out.Pairs[i] = p
	return out
}

// Enabled returns the pairs the mode reads, at most len(Pairs)
func (ws WindowSet) Enabled(mode Mode) []WindowPair {
	n := mode.NumPairs()
	if n > len(ws.Pairs) {
		n = len(ws.Pairs)
	}
	return ws.Pairs[:n]
}

// DefaultWindows returns a reasonable starting geometry for the mode:
// pairs of 100x100 windows stacked up the chip
func DefaultWindows(mode Mode) WindowSet {
	ws := WindowSet{Bin: Binning{X: 1, Y: 1}}
	for i := 0; i < mode.NumPairs(); i++ {
		ws.Pairs = append(ws.Pairs, WindowPair{
			YStart: 1 + 200*i,
			XLeft:  101,
			XRight: 825,
			NX:     100,
			NY:     100,
		})
	}
	return ws
}
