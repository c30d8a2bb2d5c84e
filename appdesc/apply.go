package appdesc

import (
	"bytes"
	"encoding/xml"
	"io"
	"io/ioutil"
	"regexp"

	"github.com/pkg/errors"

	"github.com/StuartLittlefair/udriver/ccd"
)

var valueAttr = regexp.MustCompile(`\bvalue\s*=\s*("[^"]*"|'[^']*')`)

// Apply copies the template descriptor tpl to w with the parameters of s
// substituted and, if user is not nil, a user element appended to the root.
// The template must be the application of tpl's ID and must carry every
// parameter the mode needs.  Everything else in the template is copied
// unchanged.
func Apply(w io.Writer, src io.Reader, tpl Template, s ccd.Setup, user *User) error {
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "current settings are invalid, application was not edited")
	}
	mode, err := tpl.Mode()
	if err != nil {
		return err
	}
	if mode != s.Mode {
		return errors.Errorf("template %q is for %s, not %s", tpl.App, mode, s.Mode)
	}
	values, err := Values(s)
	if err != nil {
		return err
	}
	raw, err := ioutil.ReadAll(src)
	if err != nil {
		return errors.Wrap(err, "reading template")
	}

	var (
		out     bytes.Buffer
		copied  int64
		depth   int
		app     string
		rootEnd int64 = -1
		found         = map[string]bool{}
	)
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		before := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "parsing template %q", tpl.App)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "executablecode":
				if href, ok := attr(t, "href"); ok {
					app = href
				}
			case "set_parameter":
				ref, _ := attr(t, "ref")
				v, ok := values[ref]
				if !ok {
					break
				}
				after := dec.InputOffset()
				out.Write(raw[copied:before])
				var esc bytes.Buffer
				xml.EscapeText(&esc, []byte(v))
				tag := valueAttr.ReplaceAllLiteral(raw[before:after], []byte(`value="`+esc.String()+`"`))
				out.Write(tag)
				copied = after
				found[ref] = true
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				rootEnd = before
			}
		}
	}
	if app == "" {
		return errors.Errorf("failed to locate application name in %q", tpl.App)
	}
	if app != tpl.ID {
		return errors.Errorf("application name %q does not match the template ID %q", app, tpl.ID)
	}
	var miss []string
	for _, f := range Fields(s.Mode) {
		if !found[f] {
			miss = append(miss, f)
		}
	}
	if len(miss) > 0 {
		return &MissingError{App: app, Fields: miss}
	}
	if user != nil {
		if rootEnd < copied {
			return errors.Errorf("template %q has no root element", tpl.App)
		}
		out.Write(raw[copied:rootEnd])
		if err := writeUser(&out, user); err != nil {
			return err
		}
		copied = rootEnd
	}
	out.Write(raw[copied:])
	_, err = w.Write(out.Bytes())
	return err
}

func writeUser(buf *bytes.Buffer, u *User) error {
	items := []struct{ name, value string }{
		{"target", u.Target},
		{"filters", u.Filters},
		{"ID", u.ID},
		{"PI", u.PI},
		{"Observers", u.Observers},
		{"flags", u.Flags},
	}
	if u.Revision != "" {
		items = append(items, struct{ name, value string }{"revision", u.Revision})
	}
	buf.WriteString("<user>")
	for _, it := range items {
		buf.WriteString("\n\n    <" + it.name + ">")
		if err := xml.EscapeText(buf, []byte(it.value)); err != nil {
			return err
		}
		buf.WriteString("</" + it.name + ">")
	}
	buf.WriteString("\n\n</user>\n")
	return nil
}
