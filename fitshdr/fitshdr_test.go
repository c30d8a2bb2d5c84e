package fitshdr_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/StuartLittlefair/udriver/ccd"
	"github.com/StuartLittlefair/udriver/fitshdr"
	"github.com/StuartLittlefair/udriver/timing"
)

func TestCardsFullFrame(t *testing.T) {
	s := ccd.DefaultSetup()
	s.Mode = ccd.FullframeClear
	cards := fitshdr.Cards(s, timing.Result{CycleTime: 5.8})
	for _, c := range cards {
		if len(c.Name) > 8 {
			t.Errorf("card name %q longer than 8 characters", c.Name)
		}
		if strings.HasPrefix(c.Name, "W1") {
			t.Errorf("full frame setup has window card %s", c.Name)
		}
		if c.Name == "CYCTIME" && c.Value.(float64) != 5.8 {
			t.Errorf("expected CYCTIME 5.8, got %v", c.Value)
		}
	}
}

func TestCardsWindows(t *testing.T) {
	s := ccd.DefaultSetup()
	s.Mode = ccd.Windows4
	s.Windows = ccd.DefaultWindows(ccd.Windows4)
	got := map[string]interface{}{}
	for _, c := range fitshdr.Cards(s, timing.Result{}) {
		got[c.Name] = c.Value
	}
	want := map[string]interface{}{
		"MODE": ccd.Windows4.String(),
		"W1XL": 101,
		"W2YS": 201,
		"W2XR": 825,
		"XBIN": 1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %v got %v", k, v, got[k])
		}
	}
	if _, ok := got["W3YS"]; ok {
		t.Error("card for a pair the mode does not use")
	}
}

func TestWrite(t *testing.T) {
	s := ccd.DefaultSetup()
	var buf bytes.Buffer
	if err := fitshdr.Write(&buf, fitshdr.Cards(s, timing.Result{})); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 || buf.Len()%2880 != 0 {
		t.Errorf("expected whole FITS blocks, got %d bytes", buf.Len())
	}
	out := buf.String()
	for _, want := range []string{"SIMPLE", "HDRVER", "UDRIVER-1", "NBLUE"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in header", want)
		}
	}
}
