package kidde

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testSessionCookie = "session=19c91454133cedbe39915d0027745e4d79999007; Path=/; Max-Age=63072000"
	testSessionValue  = "19c91454133cedbe39915d0027745e4d79999007"
)

const testDeviceJSON = `{
	"id": 779836,
	"label": "Kitchen",
	"model": "wifiiaqdetector",
	"serial_number": "CE3550A039",
	"location_id": 123456,
	"smoke_alarm": false,
	"co_alarm": false,
	"humidity": {"Unit": "%RH", "status": "Good", "value": 33.56},
	"iaq": {"status": "Bad", "value": 204.66},
	"iaq_temperature": {"Unit": "F", "value": 70},
	"tvoc": {"Unit": "ppb", "value": 2772.55},
	"co2": {"Unit": "PPM", "value": 2880.24},
	"battery_state": "ok",
	"cap_sensor": ["Smoke", "IAQ", "CO"],
	"capabilities": ["smoke", "temperature", "co"],
	"ap_rssi": -50,
	"smoke_level": 0,
	"co_level": 1,
	"offline": false,
	"last_seen": "2025-03-25T16:01:56.683414469Z"
}`

const testEventsJSON = `{"events":[{"id":188668997,"event_type":"member_added","location_id":123456}],"page_size":100,"update_key":"a1b2c3"}`

const testMembersJSON = `[{"geo_enabled":true,"id":123456,"name":"John Doe","role":"owner"}]`

// fakeAPI serves a HomeSafe API over httptest. Responses are mutable between
// cycles.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	locations string
	devices   map[string]string
	events    map[string]string
	members   string
	status    map[string]int
	delay     map[string]chan struct{}
	forbidden bool
	logins    int
	cookies   []string
	requests  []string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		t:         t,
		locations: `[{"id":123456,"label":"12 Street St"}]`,
		devices:   map[string]string{"123456": "[" + testDeviceJSON + "]"},
		events:    map[string]string{"123456": testEventsJSON},
		members:   testMembersJSON,
		status:    make(map[string]int),
		delay:     make(map[string]chan struct{}),
	}
	api.server = httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) config() Config {
	return Config{
		BaseURL:        a.server.URL,
		Email:          "john.doe@github.com",
		Password:       "123456",
		PollInterval:   time.Hour,
		RequestTimeout: 5 * time.Second,
		FetchEvents:    true,
	}
}

func (a *fakeAPI) set(fn func(a *fakeAPI)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

func (a *fakeAPI) requestLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.requests...)
}

func (a *fakeAPI) loginCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logins
}

func (a *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	a.mu.Lock()
	a.requests = append(a.requests, r.Method+" "+path)
	a.cookies = append(a.cookies, r.Header.Get("Cookie"))
	gate := a.delay[path]
	a.mu.Unlock()

	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if code, ok := a.status[path]; ok {
		w.WriteHeader(code)
		return
	}

	if path == "auth/login" {
		if r.Method != http.MethodPost {
			a.t.Errorf("expected POST login, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		var creds map[string]string
		if err := json.Unmarshal(body, &creds); err != nil {
			a.t.Errorf("decode login body: %v", err)
		}
		if creds["email"] != "john.doe@github.com" || creds["password"] != "123456" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		a.logins++
		a.forbidden = false
		w.Header().Add("Set-Cookie", testSessionCookie)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"id":1}`)
		return
	}

	if a.forbidden {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	parts := strings.Split(path, "/")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case path == "location":
		_, _ = io.WriteString(w, a.locations)
	case len(parts) == 3 && parts[0] == "location" && parts[2] == "device":
		_, _ = io.WriteString(w, orEmptyList(a.devices[parts[1]]))
	case len(parts) == 3 && parts[0] == "location" && parts[2] == "event":
		body, ok := a.events[parts[1]]
		if !ok {
			body = `{"events":[]}`
		}
		_, _ = io.WriteString(w, body)
	case len(parts) == 3 && parts[0] == "location" && parts[2] == "member":
		_, _ = io.WriteString(w, a.members)
	case len(parts) == 5 && parts[0] == "location" && parts[2] == "device" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusNoContent)
	default:
		a.t.Errorf("unexpected request %s %s", r.Method, path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func orEmptyList(body string) string {
	if body == "" {
		return "[]"
	}
	return body
}
