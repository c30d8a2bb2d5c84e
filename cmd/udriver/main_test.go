package main

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/knadh/koanf"

	"github.com/StuartLittlefair/udriver/appdesc"
	"github.com/StuartLittlefair/udriver/ccd"
	"github.com/StuartLittlefair/udriver/photometry"
)

// useConfig points the program at a config file in a temporary folder and
// starts from an empty koanf instance
func useConfig(t *testing.T, contents string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "udriver.yml")
	if contents != "" {
		if err := ioutil.WriteFile(fn, []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}
	}
	oldName, oldK := ConfigFileName, k
	t.Cleanup(func() { ConfigFileName, k = oldName, oldK })
	ConfigFileName = fn
	k = koanf.New(".")
	return fn
}

func TestDefaultsWithoutFile(t *testing.T) {
	useConfig(t, "")
	setupconfig()
	got := loadconfig()
	if diff := cmp.Diff(defaults(), got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("config without a file differs from the defaults (-want +got):\n%s", diff)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	useConfig(t, `
Addr: ":9000"
State:
  setup:
    mode: 2 windows
    speed: Fast
    windows:
      binning:
        xbin: 2
        ybin: 2
      pairs:
        - {ystart: 1, xleft: 101, xright: 613, nx: 100, ny: 100}
    exposure:
      exposeTenths: 1234
      numExposures: 7
  target:
    band: "r'"
    moon: grey
  run:
    type: bias
    target: M31
`)
	setupconfig()
	c := loadconfig()
	s := c.State.Setup
	if c.Addr != ":9000" {
		t.Errorf("Addr: %q", c.Addr)
	}
	if s.Exposure.ExposeTenths != 1234 || s.Exposure.NumExposures != 7 {
		t.Errorf("exposure not read from the file: %+v", s.Exposure)
	}
	if s.Exposure.NBlue != 1 {
		t.Errorf("nblue should keep its default, got %d", s.Exposure.NBlue)
	}
	if s.Mode != ccd.Windows2 {
		t.Errorf("mode: expected %v got %v", ccd.Windows2, s.Mode)
	}
	if s.Speed != ccd.Fast {
		t.Errorf("speed: %v", s.Speed)
	}
	want := ccd.NewWindowSet(ccd.Binning{X: 2, Y: 2}, ccd.WindowPair{YStart: 1, XLeft: 101, XRight: 613, NX: 100, NY: 100})
	if diff := cmp.Diff(want, s.Windows); diff != "" {
		t.Errorf("windows (-want +got):\n%s", diff)
	}
	if c.State.Run.Type != appdesc.Bias || c.State.Run.Target != "M31" {
		t.Errorf("run info not read from the file: %+v", c.State.Run)
	}
	if c.State.Target.Band != photometry.R || c.State.Target.Moon != photometry.Grey {
		t.Errorf("target: %+v", c.State.Target)
	}
	if c.State.Target.Magnitude != 18 {
		t.Errorf("magnitude should keep its default, got %v", c.State.Target.Magnitude)
	}
}

func TestMkconfRoundTrip(t *testing.T) {
	fn := useConfig(t, "")
	setupconfig()
	mkconf()
	b, err := ioutil.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "exposeTenths:") {
		t.Errorf("mkconf output lacks the exposure keys:\n%s", b)
	}

	// edit the written file as a user would
	edited := strings.Replace(string(b), "target: \"\"", "target: NGC 6397", 1)
	if err := ioutil.WriteFile(fn, []byte(edited), 0644); err != nil {
		t.Fatal(err)
	}
	k = koanf.New(".")
	setupconfig()
	got := loadconfig()

	want := defaults()
	want.State.Run.Target = "NGC 6397"
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip through mkconf (-want +got):\n%s", diff)
	}
}

func TestReportOfDefaultSetup(t *testing.T) {
	var buf bytes.Buffer
	if code := report(&buf, defaults()); code != 0 {
		t.Fatalf("expected exit status 0 got %d:\n%s", code, buf.String())
	}
	out := buf.String()
	for _, label := range []string{"Fullframe + clear", "Frame rate", "Cycle time", "Duty cycle", "S/N", "Disk per hour"} {
		if !strings.Contains(out, label) {
			t.Errorf("report lacks %q:\n%s", label, out)
		}
	}
}

func TestReportOfInvalidSetup(t *testing.T) {
	cfg := defaults()
	cfg.State.Setup.Mode = ccd.Windows2
	cfg.State.Setup.Windows = ccd.NewWindowSet(ccd.Binning{X: 1, Y: 1},
		ccd.WindowPair{YStart: 1, XLeft: 500, XRight: 520, NX: 100, NY: 100})
	var buf bytes.Buffer
	if code := report(&buf, cfg); code != 1 {
		t.Errorf("expected exit status 1 got %d", code)
	}
	if !strings.Contains(buf.String(), "invalid") {
		t.Errorf("expected the problems to be listed:\n%s", buf.String())
	}
}
