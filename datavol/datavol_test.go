package datavol_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/StuartLittlefair/udriver/ccd"
	"github.com/StuartLittlefair/udriver/datavol"
)

func ExampleBytesPerFrame() {
	ws := ccd.WindowSet{Bin: ccd.Binning{X: 2, Y: 2}}
	fmt.Println(datavol.BytesPerFrame(ccd.FullframeClear, ws))
	// Output: 1572888
}

func TestBytesPerFrame(t *testing.T) {
	pair := ccd.WindowPair{YStart: 1, XLeft: 101, XRight: 825, NX: 100, NY: 100}
	cases := []struct {
		name string
		mode ccd.Mode
		ws   ccd.WindowSet
		want int
	}{
		{"overscan 1x1", ccd.FullframeOverscanNoClear, ccd.WindowSet{Bin: ccd.Binning{X: 1, Y: 1}}, 24 + 12*540*1032},
		{"full frame 3x3", ccd.FullframeNoClear, ccd.WindowSet{Bin: ccd.Binning{X: 3, Y: 3}}, 24 + 12*170*341},
		{"one pair 2x4", ccd.Windows2, ccd.NewWindowSet(ccd.Binning{X: 2, Y: 4}, pair), 24 + 12*50*25},
		{"drift", ccd.DriftMode, ccd.NewWindowSet(ccd.Binning{X: 1, Y: 1}, pair), 24 + 12*100*100},
		{"invalid", ccd.Windows4, ccd.NewWindowSet(ccd.Binning{X: 1, Y: 1}, pair), datavol.Unknown},
		{"bad binning", ccd.FullframeClear, ccd.WindowSet{}, datavol.Unknown},
	}
	for _, c := range cases {
		if got := datavol.BytesPerFrame(c.mode, c.ws); got != c.want {
			t.Errorf("%s: expected %d bytes got %d", c.name, c.want, got)
		}
	}
}

func TestMegabytesUsed(t *testing.T) {
	// 1 MiB frames every 2 seconds for a minute
	if mb := datavol.MegabytesUsed(time.Minute, 2, 1024*1024); mb != 30 {
		t.Errorf("expected 30 MB got %d", mb)
	}
	if mb := datavol.MegabytesUsed(time.Minute, 0, 1024*1024); mb != 0 {
		t.Errorf("expected 0 MB for zero cycle time got %d", mb)
	}
}

func TestDiskLevel(t *testing.T) {
	cases := map[int]datavol.Level{
		0:    datavol.OK,
		1500: datavol.OK,
		1501: datavol.Warn,
		1800: datavol.Warn,
		1801: datavol.Danger,
	}
	for mb, want := range cases {
		if got := datavol.DiskLevel(mb); got != want {
			t.Errorf("%d MB: expected %v got %v", mb, want, got)
		}
	}
}
