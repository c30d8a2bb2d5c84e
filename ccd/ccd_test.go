package ccd_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/StuartLittlefair/udriver/ccd"
)

func ExampleSyncStart() {
	s := ccd.SyncStart(10, 4, 1, 512, 512)
	fmt.Println(s, (513-s)%4)
	// Output: 9 0
}

func ExampleMode_NumPairs() {
	for _, m := range []ccd.Mode{ccd.FullframeClear, ccd.Windows4, ccd.Windows6, ccd.DriftMode} {
		fmt.Printf("%s: %d\n", m, m.NumPairs())
	}
	// Output:
	// Fullframe + clear: 0
	// 4 windows: 2
	// 6 windows: 3
	// Drift mode: 1
}

func TestParseModeRoundTrip(t *testing.T) {
	for _, m := range ccd.Modes() {
		got, err := ccd.ParseMode(m.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != m {
			t.Errorf("expected %v got %v", m, got)
		}
	}
	if _, err := ccd.ParseMode("8 windows"); err == nil {
		t.Error("expected error parsing unknown mode, got nil")
	}
}

func TestSpeedCodes(t *testing.T) {
	cases := []struct {
		code  string
		speed ccd.Speed
	}{
		{"0xcdd", ccd.Slow},
		{"0xfbb", ccd.Fast},
		{"0xfdd", ccd.Turbo},
		{"turbo", ccd.Turbo},
	}
	for _, c := range cases {
		s, err := ccd.ParseSpeed(c.code)
		if err != nil {
			t.Fatal(err)
		}
		if s != c.speed {
			t.Errorf("%s: expected %v got %v", c.code, c.speed, s)
		}
	}
	if got := ccd.Fast.MustProfile().CodeString(); got != "0xfbb" {
		t.Errorf("expected 0xfbb got %s", got)
	}
	if _, err := ccd.ParseSpeed("0x123"); err == nil {
		t.Error("expected error for unknown code, got nil")
	}
}

func TestNoiseBucket(t *testing.T) {
	expected := map[int]int{1: 0, 2: 1, 3: 1, 4: 2, 5: 2, 6: 2, 7: 3, 8: 3}
	for b, want := range expected {
		if got := ccd.NoiseBucket(ccd.Binning{X: 1, Y: b}); got != want {
			t.Errorf("bin %d: expected bucket %d got %d", b, want, got)
		}
	}
	if n := ccd.Fast.MustProfile().ReadNoiseFor(ccd.Binning{X: 8, Y: 1}); n != 6.4 {
		t.Errorf("expected 6.4 counts read noise got %f", n)
	}
}

func TestWithPairDoesNotAlias(t *testing.T) {
	ws := ccd.DefaultWindows(ccd.Windows4)
	mod := ws.WithPair(0, ccd.WindowPair{YStart: 5, XLeft: 1, XRight: 600, NX: 10, NY: 10})
	if ws.Pairs[0].YStart != 1 {
		t.Errorf("original set was modified, ystart = %d", ws.Pairs[0].YStart)
	}
	if mod.Pairs[0].YStart != 5 {
		t.Errorf("expected ystart 5 got %d", mod.Pairs[0].YStart)
	}
}

func TestDefaultWindowsAreValid(t *testing.T) {
	for _, m := range ccd.Modes() {
		if err := ccd.Validate(m, ccd.DefaultWindows(m)); err != nil {
			t.Errorf("%s: %v", m, err)
		}
	}
}

func TestValidateFullFrameIgnoresWindows(t *testing.T) {
	ws := ccd.WindowSet{Bin: ccd.Binning{X: 3, Y: 5}, Pairs: []ccd.WindowPair{{YStart: -4}}}
	if err := ccd.Validate(ccd.FullframeNoClear, ws); err != nil {
		t.Errorf("expected full frame to be valid, got %v", err)
	}
	ws.Bin.X = 9
	if err := ccd.Validate(ccd.FullframeNoClear, ws); err == nil {
		t.Error("expected binning error, got nil")
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	ws := ccd.WindowSet{
		Bin: ccd.Binning{X: 2, Y: 2},
		Pairs: []ccd.WindowPair{
			{YStart: 1, XLeft: 1, XRight: 100, NX: 101, NY: 100},   // overlap, odd nx
			{YStart: 50, XLeft: 1, XRight: 1000, NX: 100, NY: 100}, // off the chip, out of order
		},
	}
	err := ccd.Validate(ccd.Windows4, ws)
	var gerr *ccd.GeometryError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected a *GeometryError, got %v", err)
	}
	for _, want := range []error{ccd.ErrOverlap, ccd.ErrBinMultiple, ccd.ErrBounds, ccd.ErrOrder} {
		if !gerr.Has(want) {
			t.Errorf("expected problem %q in %v", want, gerr)
		}
	}
	if len(gerr.Problems) != 4 {
		t.Errorf("expected 4 problems, got %d: %v", len(gerr.Problems), gerr.Strings())
	}
}

func TestValidatePairCount(t *testing.T) {
	ws := ccd.DefaultWindows(ccd.Windows2)
	err := ccd.Validate(ccd.Windows6, ws)
	var gerr *ccd.GeometryError
	if !errors.As(err, &gerr) || !gerr.Has(ccd.ErrPairCount) {
		t.Errorf("expected pair count error, got %v", err)
	}
}

func TestValidateAbuttingPairs(t *testing.T) {
	ws := ccd.DefaultWindows(ccd.Windows4)
	p := ws.Pairs[1]
	p.YStart = ws.Pairs[0].YEnd()
	ws = ws.WithPair(1, p)
	if err := ccd.Validate(ccd.Windows4, ws); err != nil {
		t.Errorf("expected abutting pairs to be valid, got %v", err)
	}
}

func TestValidateRejectsSpecialNYInDrift(t *testing.T) {
	for _, ny := range ccd.SpecialNY {
		ws := ccd.NewWindowSet(ccd.Binning{X: 1, Y: 1}, ccd.WindowPair{YStart: 1, XLeft: 1, XRight: 600, NX: 50, NY: ny})
		for _, m := range []ccd.Mode{ccd.DriftMode, ccd.TimingTest} {
			err := ccd.Validate(m, ws)
			var gerr *ccd.GeometryError
			if !errors.As(err, &gerr) || !gerr.Has(ccd.ErrSpecialNY) {
				t.Errorf("%s ny=%d: expected special ny error, got %v", m, ny, err)
			}
		}
		if err := ccd.Validate(ccd.Windows2, ws); err != nil {
			t.Errorf("ny=%d should be fine outside drift mode, got %v", ny, err)
		}
	}
}

func TestIsValidQuiet(t *testing.T) {
	if ccd.IsValid(ccd.Windows2, ccd.WindowSet{Bin: ccd.Binning{X: 1, Y: 1}}, false) {
		t.Error("expected invalid for missing pair")
	}
}

func TestSyncStartFixedPoint(t *testing.T) {
	edges := []struct{ min, max int }{{1, 1024}, {1, 512}, {513, 1024}}
	for bin := 1; bin <= ccd.MaxBin; bin++ {
		for _, e := range edges {
			for start := e.min; start <= e.max; start++ {
				s := ccd.SyncStart(start, bin, e.min, e.max, 512)
				if !ccd.EdgeSynchronised(s, bin) {
					t.Fatalf("SyncStart(%d, %d, %d, %d, 512) = %d is not synchronised", start, bin, e.min, e.max, s)
				}
				if s < e.min || s > e.max {
					t.Fatalf("SyncStart(%d, %d, %d, %d, 512) = %d out of range", start, bin, e.min, e.max, s)
				}
			}
		}
	}
}

// a start far past max is only pulled back one bin, so it stays out of range
func TestSyncStartSingleStepBoundary(t *testing.T) {
	s := ccd.SyncStart(2000, 4, 1, 512, 512)
	if s != 1997 {
		t.Errorf("expected 1997 got %d", s)
	}
	if s <= 512 {
		t.Errorf("single step correction unexpectedly landed in range: %d", s)
	}
}

func TestSynchronise(t *testing.T) {
	ws := ccd.NewWindowSet(ccd.Binning{X: 4, Y: 4}, ccd.WindowPair{YStart: 10, XLeft: 10, XRight: 830, NX: 100, NY: 100})
	if ccd.IsSynchronised(ccd.Windows2, ws) {
		t.Fatal("expected unsynchronised windows")
	}
	out, err := ccd.Synchronise(ccd.Windows2, ws)
	if err != nil {
		t.Fatal(err)
	}
	p := out.Pairs[0]
	if p.YStart != 9 || p.XLeft != 9 || p.XRight != 829 {
		t.Errorf("expected 9, 9, 829 got %d, %d, %d", p.YStart, p.XLeft, p.XRight)
	}
	if !ccd.IsSynchronised(ccd.Windows2, out) {
		t.Error("expected synchronised windows after Synchronise")
	}
	if ws.Pairs[0].XLeft != 10 {
		t.Error("Synchronise modified its input")
	}
}

func TestSynchroniseFullFrame(t *testing.T) {
	ws := ccd.WindowSet{Bin: ccd.Binning{X: 3, Y: 3}}
	if ccd.IsSynchronised(ccd.FullframeClear, ws) {
		t.Error("xbin 3 does not divide 512")
	}
	if !ccd.IsSynchronised(ccd.FullframeOverscanClear, ws) {
		t.Error("xbin 3 divides 540 and ybin 3 divides 1032")
	}
	if _, err := ccd.Synchronise(ccd.FullframeClear, ws); err == nil {
		t.Error("expected error synchronising full frame with xbin 3")
	}
}
