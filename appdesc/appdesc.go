// Package appdesc reads and writes the XML application descriptors posted
// to the camera and data servers.
//
// A descriptor names its application in the xlink:href attribute of an
// executablecode element and carries its parameters as
//
//	<set_parameter ref="X_BIN_FAC" value="2"/>
//
// elements.  Descriptors written by this package also hold a user element
// describing the run.
package appdesc

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/StuartLittlefair/udriver/ccd"
)

// parameter names
const (
	XBin         = "X_BIN_FAC"
	YBin         = "Y_BIN_FAC"
	NBlue        = "NBLUE"
	GainSpeed    = "GAIN_SPEED"
	ExposeTime   = "EXPOSE_TIME"
	NumExposures = "NO_EXPOSURES"
)

// PairFields returns the parameter names of pair n (1-based): ystart,
// xleft, xright, nx and ny
func PairFields(n int) [5]string {
	return [5]string{
		fmt.Sprintf("Y%d_START", n),
		fmt.Sprintf("X%dL_START", n),
		fmt.Sprintf("X%dR_START", n),
		fmt.Sprintf("X%d_SIZE", n),
		fmt.Sprintf("Y%d_SIZE", n),
	}
}

// Fields lists every parameter a descriptor for the mode must carry
func Fields(m ccd.Mode) []string {
	out := []string{XBin, YBin, NBlue, GainSpeed, ExposeTime, NumExposures}
	for n := 1; n <= m.NumPairs(); n++ {
		f := PairFields(n)
		out = append(out, f[:]...)
	}
	return out
}

// Values encodes a setup as parameter values
func Values(s ccd.Setup) (map[string]string, error) {
	prof, ok := s.Speed.Profile()
	if !ok {
		return nil, errors.Errorf("unknown readout speed %d", int(s.Speed))
	}
	ws := s.Windows
	v := map[string]string{
		XBin:         strconv.Itoa(ws.Bin.X),
		YBin:         strconv.Itoa(ws.Bin.Y),
		NBlue:        strconv.Itoa(s.Exposure.NBlue),
		GainSpeed:    prof.CodeString(),
		ExposeTime:   strconv.Itoa(s.Exposure.ExposeTenths),
		NumExposures: strconv.Itoa(s.Exposure.NumExposures),
	}
	pairs := ws.Enabled(s.Mode)
	if len(pairs) != s.Mode.NumPairs() {
		return nil, errors.Errorf("%s needs %d window pairs, have %d", s.Mode, s.Mode.NumPairs(), len(pairs))
	}
	for i, p := range pairs {
		f := PairFields(i + 1)
		for j, x := range [5]int{p.YStart, p.XLeft, p.XRight, p.NX, p.NY} {
			v[f[j]] = strconv.Itoa(x)
		}
	}
	return v, nil
}

// MissingError lists parameters absent from a descriptor
type MissingError struct {
	App    string
	Fields []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("application %q: failed to find %s", e.App, strings.Join(e.Fields, ", "))
}

// User describes the run.  It is written into the user element of a
// descriptor and read by the data server into the run's log.
type User struct {
	Target    string `xml:"target" json:"target"`
	Filters   string `xml:"filters" json:"filters"`
	ID        string `xml:"ID" json:"id"`
	PI        string `xml:"PI" json:"pi"`
	Observers string `xml:"Observers" json:"observers"`
	Flags     string `xml:"flags" json:"flags"`
	Revision  string `xml:"revision,omitempty" json:"revision,omitempty"`
}

// RunType classifies a run
type RunType string

// run types
const (
	Data      RunType = "data"
	Bias      RunType = "bias"
	Flat      RunType = "flat"
	Dark      RunType = "dark"
	Technical RunType = "technical"
)

// RunInfo is the observer's description of a run
type RunInfo struct {
	Type        RunType   `json:"type" yaml:"type" koanf:"type"`
	Acquisition bool      `json:"acquisition" yaml:"acquisition" koanf:"acquisition"`
	Target      string    `json:"target" yaml:"target" koanf:"target"`
	Filters     [3]string `json:"filters" yaml:"filters" koanf:"filters"`
	ProgID      string    `json:"progid" yaml:"progid" koanf:"progid"`
	PI          string    `json:"pi" yaml:"pi" koanf:"pi"`
	Observers   string    `json:"observers" yaml:"observers" koanf:"observers"`
}

// User converts the run description into the user element.  Calibration
// runs are labelled by their type and attributed to "Calib".
func (ri RunInfo) User() User {
	u := User{
		Filters:   strings.Join(ri.Filters[:], " "),
		Observers: ri.Observers,
		Flags:     string(ri.Type),
	}
	switch ri.Type {
	case Data, Technical:
		u.Target, u.ID, u.PI = ri.Target, ri.ProgID, ri.PI
	default:
		if t := string(ri.Type); t != "" {
			u.Target = strings.ToUpper(t[:1]) + t[1:]
		}
		u.ID, u.PI = "Calib", "Calib"
	}
	if ri.Acquisition {
		u.Flags += " caution"
	}
	return u
}

// RunInfo recovers the run description from a user element
func (u User) RunInfo() RunInfo {
	ri := RunInfo{
		Target:      u.Target,
		ProgID:      u.ID,
		PI:          u.PI,
		Observers:   u.Observers,
		Acquisition: strings.Contains(u.Flags, "caution"),
	}
	for _, t := range []RunType{Data, Bias, Flat, Dark, Technical} {
		if strings.Contains(u.Flags, string(t)) {
			ri.Type = t
		}
	}
	if ri.Acquisition && ri.Type == "" {
		ri.Type = Data
	}
	if f := strings.Fields(u.Filters); len(f) == 3 {
		copy(ri.Filters[:], f)
	}
	return ri
}

// Descriptor is the content of an application descriptor
type Descriptor struct {
	// App is the application ID
	App string

	// Params maps parameter names to values
	Params map[string]string

	// User is nil if the descriptor has no user element
	User *User
}

// Read parses a descriptor
func Read(r io.Reader) (*Descriptor, error) {
	d := &Descriptor{Params: map[string]string{}}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "parsing application descriptor")
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "executablecode":
			if href, ok := attr(se, "href"); ok {
				d.App = href
			}
		case "set_parameter":
			ref, okr := attr(se, "ref")
			val, okv := attr(se, "value")
			if okr && okv {
				d.Params[ref] = val
			}
		case "user":
			u := &User{}
			if err := dec.DecodeElement(u, &se); err != nil {
				return nil, errors.Wrap(err, "parsing user element")
			}
			d.User = u
		}
	}
	if d.App == "" {
		return nil, errors.New("failed to locate application name")
	}
	return d, nil
}

func attr(se xml.StartElement, local string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Missing returns the parameters of fields absent from the descriptor, sorted
func (d *Descriptor) Missing(fields []string) []string {
	var out []string
	for _, f := range fields {
		if _, ok := d.Params[f]; !ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Setup decodes the descriptor into a setup.  The mode is found from the
// application ID among tpls.  Every parameter the mode needs must be
// present; a *MissingError names those that are not.
func (d *Descriptor) Setup(tpls Templates) (ccd.Setup, error) {
	var s ccd.Setup
	tpl, err := tpls.ForID(d.App)
	if err != nil {
		return s, err
	}
	mode, err := tpl.Mode()
	if err != nil {
		return s, err
	}
	if miss := d.Missing(Fields(mode)); len(miss) > 0 {
		return s, &MissingError{App: d.App, Fields: miss}
	}
	s.Mode = mode

	ints := map[string]int{}
	for _, f := range Fields(mode) {
		if f == GainSpeed {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(d.Params[f]))
		if err != nil {
			return s, errors.Wrapf(err, "parameter %s", f)
		}
		ints[f] = v
	}
	s.Speed, err = ccd.ParseSpeed(d.Params[GainSpeed])
	if err != nil {
		return s, errors.Wrap(err, "parameter "+GainSpeed)
	}
	s.Exposure = ccd.Exposure{
		ExposeTenths: ints[ExposeTime],
		NumExposures: ints[NumExposures],
		NBlue:        ints[NBlue],
	}
	s.Windows.Bin = ccd.Binning{X: ints[XBin], Y: ints[YBin]}
	for n := 1; n <= mode.NumPairs(); n++ {
		f := PairFields(n)
		s.Windows.Pairs = append(s.Windows.Pairs, ccd.WindowPair{
			YStart: ints[f[0]],
			XLeft:  ints[f[1]],
			XRight: ints[f[2]],
			NX:     ints[f[3]],
			NY:     ints[f[4]],
		})
	}
	return s, nil
}
