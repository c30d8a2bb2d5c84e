package servers_test

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/StuartLittlefair/udriver/servers"
)

const (
	cameraOK = `<response><source>Camera server</source><status software="OK" camera="OK"/></response>`
	dataOK   = `<response><source>Filesave data handler</source><status software="OK"/></response>`
)

// fake records the requests made of it and answers like a server of the
// given source
type fake struct {
	mu    sync.Mutex
	reqs  []string
	reply string
	fail  int // number of leading requests answered with a 503
}

func (f *fake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := r.Method + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		line += "?" + r.URL.RawQuery
	}
	if r.Method == http.MethodPost {
		b, _ := ioutil.ReadAll(r.Body)
		line += " " + r.Header.Get("Content-Type") + " " + string(b)
	}
	f.reqs = append(f.reqs, line)
	if f.fail > 0 {
		f.fail--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	switch r.URL.Path {
	case "/status":
		fmt.Fprint(w, `<status><state server="BUSY"/></status>`)
	case "/fstatus":
		fmt.Fprint(w, `<fstatus><lastfile path="/data/2024-01-01/run042"/></fstatus>`)
	case "/get":
		fmt.Fprint(w, `<configure><executablecode href="x"/></configure>`)
	default:
		fmt.Fprint(w, f.reply)
	}
}

func (f *fake) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reqs...)
}

func pair(t *testing.T) (*servers.Client, *fake, *fake) {
	cam := &fake{reply: cameraOK}
	dat := &fake{reply: dataOK}
	cs := httptest.NewServer(cam)
	ds := httptest.NewServer(dat)
	t.Cleanup(cs.Close)
	t.Cleanup(ds.Close)
	c := servers.NewClient(cs.URL+"/", ds.URL+"/")
	c.Limiter = nil
	return c, cam, dat
}

func TestCheckResponse(t *testing.T) {
	cases := []struct {
		reply string
		want  error
	}{
		{cameraOK, nil},
		{dataOK, nil},
		{`<r><source>Camera server</source><status software="OK" camera="ERROR"/></r>`, servers.ErrNotOK},
		{`<r><source>Camera server</source><status software="OK"/></r>`, servers.ErrMalformed},
		{`<r><source>Filesave data handler</source><status software="NO"/></r>`, servers.ErrNotOK},
		{`<r><status software="OK"/></r>`, servers.ErrMalformed},
		{`<r><source>Toaster</source><status software="OK"/></r>`, servers.ErrMalformed},
	}
	for i, c := range cases {
		err := servers.CheckResponse([]byte(c.reply))
		if c.want == nil {
			if err != nil {
				t.Errorf("case %d: expected success, got %v", i, err)
			}
			continue
		}
		if !errors.Is(err, c.want) {
			t.Errorf("case %d: expected %v, got %v", i, c.want, err)
		}
	}
	if err := servers.CheckResponse([]byte("<r><source>")); err == nil {
		t.Error("expected error for truncated XML")
	}
}

func TestSetupOrder(t *testing.T) {
	c, cam, dat := pair(t)
	if err := c.Setup(context.Background(), "ccd_wht.xml"); err != nil {
		t.Fatal(err)
	}
	want := []string{"GET /config?ccd_wht.xml", "GET /config?ultracam.xml"}
	if diff := cmp.Diff(want, cam.requests()); diff != "" {
		t.Errorf("camera requests (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, dat.requests()); diff != "" {
		t.Errorf("data requests (-want +got):\n%s", diff)
	}
}

func TestPostStopsOnCameraFailure(t *testing.T) {
	c, cam, dat := pair(t)
	cam.reply = `<r><source>Camera server</source><status software="OK" camera="ERROR"/></r>`
	err := c.PostApplication(context.Background(), []byte("<configure/>"))
	if !errors.Is(err, servers.ErrNotOK) {
		t.Errorf("expected ErrNotOK, got %v", err)
	}
	if n := len(dat.requests()); n != 0 {
		t.Errorf("data server contacted %d times after camera failure", n)
	}
	if got := cam.requests(); len(got) != 1 || got[0] != "POST /config text/xml <configure/>" {
		t.Errorf("unexpected camera requests %q", got)
	}
}

func TestRunActiveAndNumber(t *testing.T) {
	c, _, _ := pair(t)
	ctx := context.Background()
	active, err := c.RunActive(ctx)
	if err != nil || !active {
		t.Errorf("expected an active run, got %v %v", active, err)
	}
	n, err := c.RunNumber(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Errorf("expected run 42, got %d", n)
	}
}

func TestRunActiveAssumesBusyOnError(t *testing.T) {
	c := servers.NewClient("http://127.0.0.1:1/", "http://127.0.0.1:1/")
	c.Limiter = nil
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	active, err := c.RunActive(ctx)
	if err == nil || !active {
		t.Errorf("expected an error and an assumed active run, got %v %v", active, err)
	}
}

func TestIdempotentRequestsRetry(t *testing.T) {
	c, _, dat := pair(t)
	dat.fail = 2
	if _, err := c.RunNumber(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if n := len(dat.requests()); n != 3 {
		t.Errorf("expected 3 requests, got %d", n)
	}
}

func TestCommandsDoNotRetry(t *testing.T) {
	c, cam, _ := pair(t)
	cam.fail = 1
	if err := c.Exec(context.Background(), servers.Go); err == nil {
		t.Error("expected error from a failed command")
	}
	if got := cam.requests(); len(got) != 1 || !strings.HasSuffix(got[0], "?GO") {
		t.Errorf("expected a single GO, got %q", got)
	}
}

func TestReadbackVersion(t *testing.T) {
	c, cam, _ := pair(t)
	cam.reply = `<response><command_status readback="0x1f"/></response>`
	v, err := c.ReadbackVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 31 {
		t.Errorf("expected 31, got %d", v)
	}
	if got := cam.requests(); got[0] != "GET /exec?RM,X,0x80" {
		t.Errorf("unexpected request %q", got[0])
	}
}

func TestFetchTemplate(t *testing.T) {
	c, cam, _ := pair(t)
	b, err := c.FetchTemplate(context.Background(), "ccd_2win_app.xml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "executablecode") {
		t.Errorf("unexpected template %s", b)
	}
	if got := cam.requests(); got[0] != "GET /get?name=ccd_2win_app.xml" {
		t.Errorf("unexpected request %q", got[0])
	}
}

func TestFetchTemplateEscapesName(t *testing.T) {
	c, cam, _ := pair(t)
	if _, err := c.FetchTemplate(context.Background(), "run 1&x=2.xml"); err != nil {
		t.Fatal(err)
	}
	if got := cam.requests(); got[0] != "GET /get?name=run+1%26x%3D2.xml" {
		t.Errorf("name not escaped in the query: %q", got[0])
	}
}
