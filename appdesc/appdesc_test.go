package appdesc_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/StuartLittlefair/udriver/appdesc"
	"github.com/StuartLittlefair/udriver/ccd"
)

const twoWindows = `<?xml version="1.0"?>
<configure xmlns:xlink="http://www.w3.org/1999/xlink">
  <executablecode xlink:href="ccd_2win_app"/>
  <configure_camera>
    <set_parameter ref="X_BIN_FAC" value="1"/>
    <set_parameter ref="Y_BIN_FAC" value="1"/>
    <set_parameter ref="NBLUE" value="1"/>
    <set_parameter ref="GAIN_SPEED" value="0xcdd"/>
    <set_parameter ref="EXPOSE_TIME" value="5"/>
    <set_parameter ref="NO_EXPOSURES" value="-1"/>
    <set_parameter ref="Y1_START" value="1"/>
    <set_parameter ref="X1L_START" value="1"/>
    <set_parameter ref="X1R_START" value="513"/>
    <set_parameter ref="X1_SIZE" value="10"/>
    <set_parameter ref="Y1_SIZE" value='10'></set_parameter>
    <set_parameter ref="LEAVE_ME" value="42"/>
  </configure_camera>
</configure>
`

func tpl(t *testing.T) appdesc.Template {
	tp, err := appdesc.DefaultTemplates().ForMode(ccd.Windows2)
	if err != nil {
		t.Fatal(err)
	}
	return tp
}

func setup() ccd.Setup {
	return ccd.Setup{
		Mode:     ccd.Windows2,
		Windows:  ccd.NewWindowSet(ccd.Binning{X: 2, Y: 4}, ccd.WindowPair{YStart: 33, XLeft: 101, XRight: 611, NX: 200, NY: 400}),
		Speed:    ccd.Turbo,
		Exposure: ccd.Exposure{ExposeTenths: 1234, NumExposures: 100, NBlue: 3},
	}
}

func ExamplePairFields() {
	fmt.Println(appdesc.PairFields(2))
	// Output: [Y2_START X2L_START X2R_START X2_SIZE Y2_SIZE]
}

func TestDefaultTemplatesAreConsistent(t *testing.T) {
	if err := appdesc.DefaultTemplates().Check(); err != nil {
		t.Fatal(err)
	}
	bad := appdesc.Templates{{Label: "4 windows", Pairs: 1, App: "a.xml", ID: "a"}}
	if err := bad.Check(); err == nil {
		t.Error("expected an error for a pair count that disagrees with the mode")
	}
}

func TestApplyThenRead(t *testing.T) {
	s := setup()
	user := appdesc.RunInfo{
		Type:      appdesc.Data,
		Target:    "SS Cyg & friends",
		Filters:   [3]string{"u'", "g'", "r'"},
		ProgID:    "P1",
		PI:        "Smith",
		Observers: "A, B",
	}.User()

	var buf bytes.Buffer
	if err := appdesc.Apply(&buf, strings.NewReader(twoWindows), tpl(t), s, &user); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `<set_parameter ref="LEAVE_ME" value="42"/>`) {
		t.Error("unrelated parameter was not copied unchanged")
	}
	if !strings.Contains(out, `<set_parameter ref="GAIN_SPEED" value="0xfdd"/>`) {
		t.Errorf("GAIN_SPEED not rewritten:\n%s", out)
	}

	d, err := appdesc.Read(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if d.App != "ccd_2win_app" {
		t.Errorf("expected app ccd_2win_app got %q", d.App)
	}
	got, err := d.Setup(appdesc.DefaultTemplates())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("setup did not survive the round trip (-want +got):\n%s", diff)
	}
	if d.User == nil {
		t.Fatal("user element missing")
	}
	if diff := cmp.Diff(user, *d.User); diff != "" {
		t.Errorf("user mismatch (-want +got):\n%s", diff)
	}
	if ri := d.User.RunInfo(); ri.Type != appdesc.Data || ri.Filters[2] != "r'" {
		t.Errorf("unexpected run info %+v", ri)
	}
}

func TestReadReportsEveryMissingField(t *testing.T) {
	doc := strings.Replace(twoWindows, `<set_parameter ref="NBLUE" value="1"/>`, "", 1)
	doc = strings.Replace(doc, `<set_parameter ref="X1_SIZE" value="10"/>`, "", 1)
	d, err := appdesc.Read(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Setup(appdesc.DefaultTemplates())
	var merr *appdesc.MissingError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *MissingError got %v", err)
	}
	if diff := cmp.Diff([]string{"NBLUE", "X1_SIZE"}, merr.Fields); diff != "" {
		t.Errorf("missing fields (-want +got):\n%s", diff)
	}
}

func TestApplyMissingField(t *testing.T) {
	doc := strings.Replace(twoWindows, `<set_parameter ref="Y1_START" value="1"/>`, "", 1)
	err := appdesc.Apply(&bytes.Buffer{}, strings.NewReader(doc), tpl(t), setup(), nil)
	var merr *appdesc.MissingError
	if !errors.As(err, &merr) || merr.Fields[0] != "Y1_START" {
		t.Errorf("expected Y1_START to be missing, got %v", err)
	}
}

func TestApplyWrongApplication(t *testing.T) {
	doc := strings.Replace(twoWindows, "ccd_2win_app", "ccd_drift_app", 1)
	if err := appdesc.Apply(&bytes.Buffer{}, strings.NewReader(doc), tpl(t), setup(), nil); err == nil {
		t.Error("expected error applying to the wrong application")
	}
}

func TestApplyInvalidSetup(t *testing.T) {
	s := setup()
	s.Exposure.NBlue = 0
	if err := appdesc.Apply(&bytes.Buffer{}, strings.NewReader(twoWindows), tpl(t), s, nil); err == nil {
		t.Error("expected error for nblue = 0")
	}
}

func TestCalibrationUser(t *testing.T) {
	u := appdesc.RunInfo{Type: appdesc.Bias, Target: "ignored", PI: "ignored", Acquisition: true}.User()
	if u.Target != "Bias" || u.ID != "Calib" || u.PI != "Calib" {
		t.Errorf("unexpected calibration user %+v", u)
	}
	if u.Flags != "bias caution" {
		t.Errorf("expected flags 'bias caution' got %q", u.Flags)
	}
}

func TestReadWithoutApplication(t *testing.T) {
	if _, err := appdesc.Read(strings.NewReader("<configure/>")); err == nil {
		t.Error("expected error for a descriptor with no executablecode")
	}
}
