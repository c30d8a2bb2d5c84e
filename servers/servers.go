// Package servers talks to the camera and data servers which run the
// detector.
//
// Both servers speak XML over HTTP.  Applications are posted to, or named
// in a query against, the configuration path; commands such as GO and ST are
// sent to the execution path of the camera server.  Every reply carries a
// source element naming the server and a status element whose attributes
// say whether the request succeeded, see CheckResponse.
package servers

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	// CameraSource is the source of replies from the camera server
	CameraSource = "Camera server"

	// DataSource is the source of replies from the data server
	DataSource = "Filesave data handler"

	// GenericApp is loaded after the telescope application during setup
	GenericApp = "ultracam.xml"

	// VersionCommand reads back the revision of the camera server
	VersionCommand = "RM,X,0x80"
)

// commands understood by the camera server
const (
	Go         = "GO"
	Stop       = "ST"
	ResetTimer = "RCO"
	ResetPCI   = "RST"
)

var (
	// ErrNotOK is returned when a server replies but reports a failure
	ErrNotOK = errors.New("server response was not OK")

	// ErrMalformed is returned when a reply lacks an expected element
	ErrMalformed = errors.New("malformed server response")
)

// Client talks to a camera and data server pair.  A Client is safe for
// concurrent use.
type Client struct {
	// Camera and Data are the base URLs of the servers, including the
	// trailing slash, e.g. http://192.168.1.2:9980/
	Camera, Data string

	// PathConfig, PathExec and PathGet are appended to the base URLs
	PathConfig, PathExec, PathGet string

	// SearchAttr is the query key used to fetch a template by name
	SearchAttr string

	// HTTP is the client used for every request
	HTTP *http.Client

	// Limiter paces requests; nil does not limit
	Limiter *rate.Limiter
}

// NewClient returns a client with the usual paths, a five second timeout
// and at most ten requests per second
func NewClient(camera, data string) *Client {
	return &Client{
		Camera:     camera,
		Data:       data,
		PathConfig: "config",
		PathExec:   "exec",
		PathGet:    "get",
		SearchAttr: "name",
		HTTP:       &http.Client{Timeout: 5 * time.Second},
		Limiter:    rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}, ctx)
}

// do performs a request and returns the body of the reply.  Only
// idempotent requests are retried; the camera server aborts a run when it
// receives a repeated command.
func (c *Client) do(ctx context.Context, method, addr, ctype string, body []byte, retry bool) ([]byte, error) {
	var out []byte
	op := func() error {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, addr, rdr)
		if err != nil {
			return backoff.Permanent(err)
		}
		if ctype != "" {
			req.Header.Set("Content-Type", ctype)
		}
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return errors.Errorf("%s %s: %s", method, addr, resp.Status)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(errors.Errorf("%s %s: %s", method, addr, resp.Status))
		}
		out = b
		return nil
	}
	var err error
	if retry {
		err = backoff.RetryNotify(op, c.newBackoff(ctx), func(err error, d time.Duration) {
			log.Printf("retrying in %v: %v", d, err)
		})
	} else {
		err = op()
		if perm, ok := err.(*backoff.PermanentError); ok {
			err = perm.Err
		}
	}
	return out, err
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) get(ctx context.Context, addr string, retry bool) ([]byte, error) {
	return c.do(ctx, http.MethodGet, addr, "", nil, retry)
}

// PostApplication posts a descriptor to the camera server and then the
// data server.  The data server is not contacted if the camera server
// rejects the descriptor.
func (c *Client) PostApplication(ctx context.Context, doc []byte) error {
	for _, base := range []string{c.Camera, c.Data} {
		reply, err := c.do(ctx, http.MethodPost, base+c.PathConfig, "text/xml", doc, false)
		if err != nil {
			return errors.Wrap(err, "posting application")
		}
		if err := CheckResponse(reply); err != nil {
			return errors.Wrapf(err, "posting application to %s", base)
		}
	}
	return nil
}

// ExecApplication loads an application already known to the servers,
// on the camera server and then the data server
func (c *Client) ExecApplication(ctx context.Context, app string) error {
	for _, base := range []string{c.Camera, c.Data} {
		if err := c.initServer(ctx, base, app); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) initServer(ctx context.Context, base, app string) error {
	reply, err := c.get(ctx, base+c.PathConfig+"?"+app, false)
	if err != nil {
		return errors.Wrapf(err, "executing %s", app)
	}
	return errors.Wrapf(CheckResponse(reply), "response of %s to %s", base, app)
}

// Exec sends a command to the camera server
func (c *Client) Exec(ctx context.Context, cmd string) error {
	reply, err := c.get(ctx, c.Camera+c.PathExec+"?"+cmd, false)
	if err != nil {
		return errors.Wrapf(err, "command %s", cmd)
	}
	return errors.Wrapf(CheckResponse(reply), "command %s", cmd)
}

// Setup initialises both servers for a telescope: each is sent the
// telescope's application and then the generic one
func (c *Client) Setup(ctx context.Context, telescopeApp string) error {
	for _, base := range []string{c.Camera, c.Data} {
		for _, app := range []string{telescopeApp, GenericApp} {
			if err := c.initServer(ctx, base, app); err != nil {
				return errors.Wrap(err, "setting up servers")
			}
		}
	}
	return nil
}

// PowerOn loads the power on application and starts it
func (c *Client) PowerOn(ctx context.Context, app string) error {
	return c.start(ctx, app)
}

// PowerOff loads the power off application and starts it
func (c *Client) PowerOff(ctx context.Context, app string) error {
	return c.start(ctx, app)
}

func (c *Client) start(ctx context.Context, app string) error {
	if err := c.ExecApplication(ctx, app); err != nil {
		return err
	}
	return c.Exec(ctx, Go)
}

// FetchTemplate returns the template descriptor of the given name
func (c *Client) FetchTemplate(ctx context.Context, name string) ([]byte, error) {
	u := c.Camera + c.PathGet + "?" + url.Values{c.SearchAttr: {name}}.Encode()
	b, err := c.get(ctx, u, true)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", name)
	}
	var doc struct{}
	if err := xml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrapf(err, "template %s is not XML", name)
	}
	return b, nil
}

// RunActive asks the data server whether a run is in progress.  The error
// is non-nil if the answer could not be found, in which case active is true
// so callers err on the side of not disturbing a run.
func (c *Client) RunActive(ctx context.Context) (active bool, err error) {
	b, err := c.get(ctx, c.Data+"status", true)
	if err != nil {
		return true, errors.Wrap(err, "polling run status")
	}
	els, err := scan(b)
	if err != nil {
		return true, err
	}
	st, ok := els["state"]
	if !ok {
		return true, errors.Wrap(ErrMalformed, "no state element")
	}
	switch v := st.attrs["server"]; v {
	case "IDLE":
		return false, nil
	case "BUSY":
		return true, nil
	case "":
		return true, errors.Wrap(ErrMalformed, "state has no server attribute")
	default:
		return true, errors.Wrapf(ErrMalformed, "unknown server state %q", v)
	}
}

// RunNumber returns the number of the last run written by the data server,
// the trailing three digits of its path
func (c *Client) RunNumber(ctx context.Context) (int, error) {
	b, err := c.get(ctx, c.Data+"fstatus", true)
	if err != nil {
		return 0, errors.Wrap(err, "polling file status")
	}
	els, err := scan(b)
	if err != nil {
		return 0, err
	}
	lf, ok := els["lastfile"]
	if !ok {
		return 0, errors.Wrap(ErrMalformed, "no lastfile element")
	}
	path, ok := lf.attrs["path"]
	if !ok {
		return 0, errors.Wrap(ErrMalformed, "lastfile has no path attribute")
	}
	path = strings.TrimSpace(path)
	if len(path) < 3 {
		return 0, errors.Wrapf(ErrMalformed, "path %q too short for a run number", path)
	}
	n, err := strconv.Atoi(path[len(path)-3:])
	if err != nil {
		return 0, errors.Wrapf(err, "run number of %q", path)
	}
	return n, nil
}

// ReadbackVersion asks the camera server for its revision.  The camera
// server stops a run when sent a command, so this must not be called while
// one is active.
func (c *Client) ReadbackVersion(ctx context.Context) (int, error) {
	b, err := c.get(ctx, c.Camera+c.PathExec+"?"+VersionCommand, false)
	if err != nil {
		return 0, errors.Wrap(err, "reading back version")
	}
	els, err := scan(b)
	if err != nil {
		return 0, err
	}
	rb := els["command_status"].attrs["readback"]
	if rb == "" {
		return 0, errors.Wrap(ErrMalformed, "no readback in command_status")
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(rb), "0x"), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "readback %q", rb)
	}
	return int(v), nil
}

type element struct {
	attrs map[string]string
	text  string
}

// scan returns the first occurrence of each element in doc, by local name
func scan(doc []byte) (map[string]element, error) {
	out := map[string]element{}
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var open string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "parsing server response")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			open = ""
			if _, seen := out[t.Name.Local]; seen {
				continue
			}
			el := element{attrs: map[string]string{}}
			for _, a := range t.Attr {
				el.attrs[a.Name.Local] = a.Value
			}
			out[t.Name.Local] = el
			open = t.Name.Local
		case xml.CharData:
			if open != "" {
				el := out[open]
				el.text += string(t)
				out[open] = el
			}
		case xml.EndElement:
			open = ""
		}
	}
	return out, nil
}

// CheckResponse returns nil if a reply reports success.  The status
// element must have software="OK"; replies from the camera server must also
// have camera="OK".
func CheckResponse(reply []byte) error {
	els, err := scan(reply)
	if err != nil {
		return err
	}
	src, ok := els["source"]
	if !ok {
		return errors.Wrap(ErrMalformed, "no source element")
	}
	source := strings.TrimSpace(src.text)
	if source == "" {
		return errors.Wrap(ErrMalformed, "empty source element")
	}
	st, ok := els["status"]
	if !ok {
		return errors.Wrapf(ErrMalformed, "no status element from %s", source)
	}
	if err := checkAttr(st, "software", source); err != nil {
		return err
	}
	switch source {
	case CameraSource:
		return checkAttr(st, "camera", source)
	case DataSource:
		return nil
	default:
		return errors.Wrapf(ErrMalformed, "source %q not recognised", source)
	}
}

func checkAttr(st element, name, source string) error {
	v, ok := st.attrs[name]
	if !ok {
		return errors.Wrapf(ErrMalformed, "status from %s has no %s attribute", source, name)
	}
	if v != "OK" {
		return errors.Wrapf(ErrNotOK, "%s=%q from %s", name, v, source)
	}
	return nil
}
