// Package rtplot publishes the current window geometry to the rtplot
// display tool, over HTTP or as a windows file.
//
// The wire format is plain text.  The first line holds xbin, ybin and the
// number of window lines which follow, each of "llx lly nx ny".  Every line
// ends in CRLF.
package rtplot

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/StuartLittlefair/udriver/ccd"
)

// NoData is sent in place of the windows when the geometry is invalid
const NoData = "No valid data available\r\n"

// DefaultAddr is where rtplot expects to find the server
const DefaultAddr = ":5100"

// Encode writes the windows of the setup in rtplot's format.  If the
// geometry is invalid NoData is written and the validation error returned.
// Full frame modes are sent as one window per half of the chip.
func Encode(w io.Writer, mode ccd.Mode, ws ccd.WindowSet) error {
	if err := ccd.Validate(mode, ws); err != nil {
		_, werr := io.WriteString(w, NoData)
		if werr != nil {
			return werr
		}
		return err
	}
	var lines []string
	switch {
	case mode.Overscan():
		lines = []string{"1   1 520 1032", "513 1 520 1032"}
	case mode.FullFrame():
		lines = []string{"1   1 512 1024", "513 1 512 1024"}
	default:
		for _, p := range ws.Enabled(mode) {
			lines = append(lines,
				fmt.Sprintf("%d %d %d %d", p.XLeft, p.YStart, p.NX, p.NY),
				fmt.Sprintf("%d %d %d %d", p.XRight, p.YStart, p.NX, p.NY))
		}
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d %d\r\n", ws.Bin.X, ws.Bin.Y, len(lines))
	for _, l := range lines {
		buf.WriteString(l + "\r\n")
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Source supplies a consistent snapshot of the current geometry
type Source interface {
	Geometry() (ccd.Mode, ccd.WindowSet)
}

// SourceFunc adapts a function to a Source
type SourceFunc func() (ccd.Mode, ccd.WindowSet)

// Geometry calls f
func (f SourceFunc) Geometry() (ccd.Mode, ccd.WindowSet) { return f() }

// Handler serves the geometry of src to rtplot
func Handler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode, ws := src.Geometry()
		var buf bytes.Buffer
		if err := Encode(&buf, mode, ws); err != nil {
			log.Printf("rtplot: %v", err)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// WriteFile writes a windows file which rtplot can load.  Invalid
// geometries are not written.
func WriteFile(w io.Writer, mode ccd.Mode, ws ccd.WindowSet) error {
	if err := ccd.Validate(mode, ws); err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("#\n# File written by udriver\n#\n\n")
	fmt.Fprintf(&buf, "# xbin ybin\n%d %d\n", ws.Bin.X, ws.Bin.Y)
	for i, p := range ws.Enabled(mode) {
		fmt.Fprintf(&buf, "\n# Window %d, llx lly nx ny\n%d %d %d %d\n", 2*i+1, p.XLeft, p.YStart, p.NX, p.NY)
		fmt.Fprintf(&buf, "\n# Window %d, llx lly nx ny\n%d %d %d %d\n", 2*i+2, p.XRight, p.YStart, p.NX, p.NY)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
