package kidde

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshp123/homesafe/internal/poll"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func newTestSynchronizer(t *testing.T, api *fakeAPI, slot *poll.Slot, opts Options) *Synchronizer {
	t.Helper()
	client, err := NewClient(api.config(), Session{"session": testSessionValue})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	opts.Logger = zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewSynchronizer(ctx, client, slot, opts)
}

func countRequests(log []string, prefix string) int {
	n := 0
	for _, line := range log {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestGetDataPopulatesDataset(t *testing.T) {
	api := newFakeAPI(t)
	s := newTestSynchronizer(t, api, nil, Options{})

	data, err := s.GetData(context.Background(), DefaultFetch)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if label, _ := data.Locations[123456].String("label"); label != "12 Street St" {
		t.Fatalf("unexpected locations %v", data.Locations)
	}
	if model, _ := data.Devices[779836].String("model"); model != "wifiiaqdetector" {
		t.Fatalf("unexpected devices %v", data.Devices)
	}
	if kind, _ := data.Events[188668997].String("event_type"); kind != "member_added" {
		t.Fatalf("unexpected events %v", data.Events)
	}
	if s.LastRefresh().IsZero() {
		t.Fatalf("expected last refresh to be recorded")
	}
}

func TestGetDataSkipsEventsWhenNotRequested(t *testing.T) {
	api := newFakeAPI(t)
	s := newTestSynchronizer(t, api, nil, Options{})

	if _, err := s.GetData(context.Background(), FetchOptions{Devices: true}); err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if n := countRequests(api.requestLog(), "GET location/123456/event"); n != 0 {
		t.Fatalf("expected no event requests, got %d", n)
	}
	if s.Events() != nil {
		t.Fatalf("expected events to stay unset")
	}
}

func TestObserverSeesPreviousAndCurrent(t *testing.T) {
	api := newFakeAPI(t)
	s := newTestSynchronizer(t, api, nil, Options{})

	type call struct {
		previous, current, stored IdentityMap
	}
	var calls []call
	s.RegisterCallback(func(previous, current IdentityMap) {
		calls = append(calls, call{previous: previous, current: current, stored: s.Devices()})
	})

	ctx := context.Background()
	if _, err := s.GetData(ctx, DefaultFetch); err != nil {
		t.Fatalf("first GetData: %v", err)
	}
	api.set(func(a *fakeAPI) {
		a.devices["123456"] = "[" + strings.Replace(testDeviceJSON, `"smoke_alarm": false`, `"smoke_alarm": true`, 1) + "]"
	})
	if _, err := s.GetData(ctx, DefaultFetch); err != nil {
		t.Fatalf("second GetData: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("expected 2 observer calls, got %d", len(calls))
	}
	if calls[0].previous != nil {
		t.Fatalf("expected nil previous on first cycle")
	}
	if calls[0].stored != nil {
		t.Fatalf("expected observer to run before devices are replaced")
	}

	prev := calls[1].previous[779836]
	cur := calls[1].current[779836]
	if v, _ := prev.Bool("smoke_alarm"); v {
		t.Fatalf("expected previous smoke_alarm false")
	}
	if v, _ := cur.Bool("smoke_alarm"); !v {
		t.Fatalf("expected current smoke_alarm true")
	}
	fields := ChangedFields(prev, cur)
	if len(fields) != 1 || fields[0] != "smoke_alarm" {
		t.Fatalf("expected co_alarm and humidity unchanged, got %v", fields)
	}
	if v, _ := calls[1].stored[779836].Bool("smoke_alarm"); v {
		t.Fatalf("expected Devices() to still hold the old map inside the observer")
	}
	if v, _ := s.Devices()[779836].Bool("smoke_alarm"); !v {
		t.Fatalf("expected new map after cycle")
	}
}

func TestRegisterCallbackLastWins(t *testing.T) {
	api := newFakeAPI(t)
	s := newTestSynchronizer(t, api, nil, Options{})

	var first, second int
	s.RegisterCallback(func(_, _ IdentityMap) { first++ })
	s.RegisterCallback(func(_, _ IdentityMap) { second++ })
	if _, err := s.GetData(context.Background(), DefaultFetch); err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if first != 0 || second != 1 {
		t.Fatalf("expected only the last observer to run, got %d %d", first, second)
	}
}

func TestFanOutFollowsLocationOrder(t *testing.T) {
	api := newFakeAPI(t)
	api.set(func(a *fakeAPI) {
		a.locations = `[{"id":2},{"id":1}]`
		a.devices = map[string]string{"1": `[{"id":10}]`, "2": `[{"id":20}]`}
	})
	s := newTestSynchronizer(t, api, nil, Options{})

	if _, err := s.GetData(context.Background(), FetchOptions{Devices: true}); err != nil {
		t.Fatalf("GetData: %v", err)
	}
	log := api.requestLog()
	want := []string{"GET location", "GET location/2/device", "GET location/1/device"}
	if len(log) != len(want) {
		t.Fatalf("unexpected requests %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("unexpected request order %v", log)
		}
	}
	if len(s.Devices()) != 2 {
		t.Fatalf("expected devices from both locations")
	}
}

func TestFailedFanOutKeepsPreviousDevices(t *testing.T) {
	api := newFakeAPI(t)
	s := newTestSynchronizer(t, api, nil, Options{})
	var notified int
	s.RegisterCallback(func(_, _ IdentityMap) { notified++ })

	ctx := context.Background()
	if _, err := s.GetData(ctx, DefaultFetch); err != nil {
		t.Fatalf("GetData: %v", err)
	}

	api.set(func(a *fakeAPI) {
		a.locations = `[{"id":123456,"label":"12 Street St"},{"id":654321,"label":"Cabin"}]`
		a.status["location/654321/device"] = http.StatusInternalServerError
	})
	if _, err := s.GetData(ctx, DefaultFetch); err == nil {
		t.Fatalf("expected fan-out failure")
	}

	if len(s.Locations()) != 2 {
		t.Fatalf("expected locations to be replaced before fan-out, got %d", len(s.Locations()))
	}
	if _, ok := s.Devices()[779836]; !ok || len(s.Devices()) != 1 {
		t.Fatalf("expected previous devices to be kept, got %v", s.Devices())
	}
	if notified != 1 {
		t.Fatalf("expected no observer call for failed cycle, got %d", notified)
	}
}

func TestDuplicateDeviceAcrossLocationsFails(t *testing.T) {
	api := newFakeAPI(t)
	api.set(func(a *fakeAPI) {
		a.locations = `[{"id":1},{"id":2}]`
		a.devices = map[string]string{"1": `[{"id":10}]`, "2": `[{"id":10}]`}
	})
	s := newTestSynchronizer(t, api, nil, Options{})

	_, err := s.GetData(context.Background(), FetchOptions{Devices: true})
	var dup *DuplicateIDError
	if !errors.As(err, &dup) || dup.ID != 10 {
		t.Fatalf("expected duplicate device error, got %v", err)
	}
}

func TestAuthErrorPropagates(t *testing.T) {
	api := newFakeAPI(t)
	api.set(func(a *fakeAPI) { a.forbidden = true })
	s := newTestSynchronizer(t, api, nil, Options{})

	if _, err := s.GetData(context.Background(), DefaultFetch); !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestTickSkipsWhileCycleInFlight(t *testing.T) {
	api := newFakeAPI(t)
	gate := make(chan struct{})
	api.set(func(a *fakeAPI) { a.delay["location"] = gate })
	s := newTestSynchronizer(t, api, nil, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.GetData(context.Background(), DefaultFetch)
		done <- err
	}()
	waitUntil(t, func() bool { return countRequests(api.requestLog(), "GET location") == 1 })

	before := testutil.ToFloat64(skippedTicks)
	s.tick(context.Background())
	if got := testutil.ToFloat64(skippedTicks); got != before+1 {
		t.Fatalf("expected skipped tick to be counted, got %v -> %v", before, got)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if n := countRequests(api.requestLog(), "GET location"); n != 3 {
		t.Fatalf("expected only the manual cycle to run, got %d location-prefixed requests", n)
	}
}

func TestTickReportsOutcome(t *testing.T) {
	api := newFakeAPI(t)
	var errs []error
	var successes int
	s := newTestSynchronizer(t, api, nil, Options{
		OnError:   func(err error) { errs = append(errs, err) },
		OnSuccess: func(Dataset) { successes++ },
	})

	s.tick(context.Background())
	api.set(func(a *fakeAPI) { a.forbidden = true })
	s.tick(context.Background())

	if successes != 1 {
		t.Fatalf("expected one success, got %d", successes)
	}
	if len(errs) != 1 || !IsAuthError(errs[0]) {
		t.Fatalf("expected one auth error, got %v", errs)
	}
}

func TestTickUsesTickFetch(t *testing.T) {
	api := newFakeAPI(t)
	fetch := FetchOptions{Devices: true}
	s := newTestSynchronizer(t, api, nil, Options{TickFetch: &fetch})

	s.tick(context.Background())
	if n := countRequests(api.requestLog(), "GET location/123456/event"); n != 0 {
		t.Fatalf("expected tick to skip events, got %d", n)
	}
}

func TestNewSynchronizerReplacesSlotHolder(t *testing.T) {
	first := newFakeAPI(t)
	second := newFakeAPI(t)
	var slot poll.Slot
	t.Cleanup(slot.Disarm)

	var firstTicks, secondTicks atomic.Int32
	newTestSynchronizer(t, first, &slot, Options{
		Interval:  10 * time.Millisecond,
		OnSuccess: func(Dataset) { firstTicks.Add(1) },
	})
	waitUntil(t, func() bool { return firstTicks.Load() >= 1 })

	newTestSynchronizer(t, second, &slot, Options{
		Interval:  10 * time.Millisecond,
		OnSuccess: func(Dataset) { secondTicks.Add(1) },
	})

	waitUntil(t, func() bool { return secondTicks.Load() >= 1 })
	stopped := countRequests(first.requestLog(), "GET location")
	waitUntil(t, func() bool { return secondTicks.Load() >= 4 })
	if got := countRequests(first.requestLog(), "GET location"); got != stopped {
		t.Fatalf("replaced synchronizer kept polling: %d -> %d", stopped, got)
	}
}
