package appdesc

import (
	"fmt"
	"log"
	"strings"

	"github.com/StuartLittlefair/udriver/ccd"
)

// Template links a readout mode to the application on the servers
type Template struct {
	// Label is the mode label, e.g. "2 windows"
	Label string `yaml:"label" koanf:"label" json:"label"`

	// Pairs is the number of window pairs the application reads
	Pairs int `yaml:"pairs" koanf:"pairs" json:"pairs"`

	// App is the file name of the application template
	App string `yaml:"app" koanf:"app" json:"app"`

	// ID is the value of xlink:href identifying the application
	ID string `yaml:"id" koanf:"id" json:"id"`
}

// Mode returns the readout mode of the template
func (t Template) Mode() (ccd.Mode, error) {
	return ccd.ParseMode(t.Label)
}

// Templates is the list of applications known to the program
type Templates []Template

// DefaultTemplates are the standard applications of the camera
func DefaultTemplates() Templates {
	return Templates{
		{Label: "Fullframe + clear", Pairs: 0, App: "ccd_fullframe_clear_app.xml", ID: "ccd_fullframe_clear_app"},
		{Label: "Fullframe, no clear", Pairs: 0, App: "ccd_fullframe_app.xml", ID: "ccd_fullframe_app"},
		{Label: "Fullframe with overscan", Pairs: 0, App: "ccd_overscan_clear_app.xml", ID: "ccd_overscan_clear_app"},
		{Label: "Fullframe, overscan, no clear", Pairs: 0, App: "ccd_overscan_app.xml", ID: "ccd_overscan_app"},
		{Label: "2 windows", Pairs: 1, App: "ccd_2win_app.xml", ID: "ccd_2win_app"},
		{Label: "4 windows", Pairs: 2, App: "ccd_4win_app.xml", ID: "ccd_4win_app"},
		{Label: "6 windows", Pairs: 3, App: "ccd_6win_app.xml", ID: "ccd_6win_app"},
		{Label: "2 windows + clear", Pairs: 1, App: "ccd_2win_clear_app.xml", ID: "ccd_2win_clear_app"},
		{Label: "Drift mode", Pairs: 1, App: "ccd_drift_app.xml", ID: "ccd_drift_app"},
		{Label: "Timing test", Pairs: 1, App: "ccd_timing_app.xml", ID: "ccd_timing_app"},
	}
}

// Check verifies every template names a known mode with the right number of
// window pairs, returning the first inconsistency
func (ts Templates) Check() error {
	if len(ts) == 0 {
		return fmt.Errorf("no application templates configured")
	}
	for _, t := range ts {
		m, err := t.Mode()
		if err != nil {
			return fmt.Errorf("template %q: %w", t.App, err)
		}
		if m.NumPairs() != t.Pairs {
			return fmt.Errorf("template %q has %d window pairs but %s reads %d", t.Label, t.Pairs, m, m.NumPairs())
		}
		if t.App == "" || t.ID == "" {
			return fmt.Errorf("template %q needs both an application file and an ID", t.Label)
		}
	}
	return nil
}

// MustCheck calls Check and terminates the program if the templates are
// inconsistent, since any timing computed from them would be meaningless
func (ts Templates) MustCheck() {
	if err := ts.Check(); err != nil {
		log.Fatalf("application templates are inconsistent: %v", err)
	}
}

// ForMode returns the template of a mode
func (ts Templates) ForMode(m ccd.Mode) (Template, error) {
	for _, t := range ts {
		if strings.EqualFold(t.Label, m.String()) {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("no application template for %s", m)
}

// ForID returns the first template with an application ID
func (ts Templates) ForID(id string) (Template, error) {
	for _, t := range ts {
		if t.ID == id {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("application %q was not recognised", id)
}
