package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/StuartLittlefair/udriver/server"
	"github.com/StuartLittlefair/udriver/server/middleware/locker"
)

type table server.RouteTable

func (t table) RT() server.RouteTable { return server.RouteTable(t) }

func TestCheck(t *testing.T) {
	l := locker.New()
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	rt := table{
		{Method: http.MethodGet, Path: "/setup"}:  ok,
		{Method: http.MethodPost, Path: "/setup"}: ok,
	}
	locker.Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	server.Bind(r, rt.RT())

	code := func(method, path, body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w.Code
	}
	if c := code(http.MethodPost, "/setup", ""); c != http.StatusOK {
		t.Errorf("unlocked POST: expected 200 got %d", c)
	}
	if c := code(http.MethodPost, "/lock", `{"bool":true}`); c != http.StatusOK || !l.Locked() {
		t.Fatalf("locking: code %d locked %v", c, l.Locked())
	}
	if c := code(http.MethodPost, "/setup", ""); c != http.StatusLocked {
		t.Errorf("locked POST: expected 423 got %d", c)
	}
	if c := code(http.MethodGet, "/setup", ""); c != http.StatusOK {
		t.Errorf("locked GET: expected 200 got %d", c)
	}
	if c := code(http.MethodPost, "/lock", `{"bool":false}`); c != http.StatusOK || l.Locked() {
		t.Errorf("unlocking: code %d locked %v", c, l.Locked())
	}
}
