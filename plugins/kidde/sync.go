package kidde

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joshp123/homesafe/internal/poll"
	"github.com/rs/zerolog"
)

// DefaultInterval is the recurring refresh period.
const DefaultInterval = 5 * time.Second

// Observer receives the device map about to become stale and the one about
// to become current. previous is nil on the first cycle.
type Observer func(previous, current IdentityMap)

// FetchOptions selects what a refresh cycle fetches beyond locations.
type FetchOptions struct {
	Devices bool
	Events  bool
}

// DefaultFetch fetches devices and events.
var DefaultFetch = FetchOptions{Devices: true, Events: true}

// Options configures a Synchronizer.
type Options struct {
	Interval time.Duration
	// TickFetch selects what timer ticks fetch. Nil means DefaultFetch.
	TickFetch *FetchOptions
	Logger    zerolog.Logger
	// OnError receives errors from timer-driven cycles. Manual GetData
	// errors go to the caller only.
	OnError func(error)
	// OnSuccess receives the dataset after each successful timer cycle.
	OnSuccess func(Dataset)
}

// Synchronizer polls the API and keeps the latest dataset.
type Synchronizer struct {
	client *Client
	opts   Options
	log    zerolog.Logger

	// cycleMu serializes refresh cycles.
	cycleMu sync.Mutex

	mu          sync.RWMutex
	observer    Observer
	locations   IdentityMap
	devices     IdentityMap
	events      IdentityMap
	lastRefresh time.Time
}

// NewSynchronizer arms the recurring refresh on slot right away, replacing
// whatever the slot held. A nil slot leaves refreshes to GetData.
func NewSynchronizer(ctx context.Context, client *Client, slot *poll.Slot, opts Options) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	s := &Synchronizer{
		client: client,
		opts:   opts,
		log:    opts.Logger,
	}
	if slot != nil {
		slot.Arm(ctx, opts.Interval, s.tick)
	}
	return s
}

// RegisterCallback sets the observer. The last registration wins.
func (s *Synchronizer) RegisterCallback(observer Observer) {
	s.mu.Lock()
	s.observer = observer
	s.mu.Unlock()
}

// GetData runs one refresh cycle, waiting for any cycle in flight.
func (s *Synchronizer) GetData(ctx context.Context, fetch FetchOptions) (Dataset, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.refresh(ctx, fetch, "manual")
}

// DeviceCommand sends cmd to one device.
func (s *Synchronizer) DeviceCommand(ctx context.Context, locationID, deviceID int64, cmd Command) error {
	return s.client.DeviceCommand(ctx, locationID, deviceID, cmd)
}

// Client returns the underlying API client.
func (s *Synchronizer) Client() *Client {
	return s.client
}

// Session returns a copy of the session for external persistence.
func (s *Synchronizer) Session() Session {
	return s.client.Session()
}

func (s *Synchronizer) Locations() IdentityMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locations
}

func (s *Synchronizer) Devices() IdentityMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices
}

func (s *Synchronizer) Events() IdentityMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events
}

// Snapshot returns the current maps. The maps are never mutated after
// publication, so callers may read them without copying.
func (s *Synchronizer) Snapshot() Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Dataset{Locations: s.locations, Devices: s.devices, Events: s.events}
}

// LastRefresh is the completion time of the last successful cycle.
func (s *Synchronizer) LastRefresh() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefresh
}

func (s *Synchronizer) tick(ctx context.Context) {
	if !s.cycleMu.TryLock() {
		skippedTicks.Inc()
		s.log.Warn().Msg("refresh still in flight; skipping tick")
		return
	}
	defer s.cycleMu.Unlock()

	fetch := DefaultFetch
	if s.opts.TickFetch != nil {
		fetch = *s.opts.TickFetch
	}
	data, err := s.refresh(ctx, fetch, "timer")
	if err != nil {
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		return
	}
	if s.opts.OnSuccess != nil {
		s.opts.OnSuccess(data)
	}
}

// refresh must be called with cycleMu held.
func (s *Synchronizer) refresh(ctx context.Context, fetch FetchOptions, trigger string) (Dataset, error) {
	start := time.Now()
	log := s.log.With().Str("cycle", uuid.NewString()).Str("trigger", trigger).Logger()

	err := s.runCycle(ctx, fetch, log)
	refreshDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	if err != nil {
		refreshTotal.WithLabelValues(trigger, "error").Inc()
		log.Error().Err(err).Msg("refresh failed")
		return Dataset{}, err
	}

	now := time.Now()
	s.mu.Lock()
	s.lastRefresh = now
	s.mu.Unlock()
	refreshTotal.WithLabelValues(trigger, "ok").Inc()
	lastSuccess.Set(float64(now.Unix()))
	log.Debug().Dur("took", time.Since(start)).Msg("refresh complete")
	return s.Snapshot(), nil
}

func (s *Synchronizer) runCycle(ctx context.Context, fetch FetchOptions, log zerolog.Logger) error {
	locationList, err := s.client.Locations(ctx)
	if err != nil {
		return err
	}
	locations, err := BuildIdentityMap(locationList)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.locations = locations
	s.mu.Unlock()

	// Fan out in the order the API listed locations.
	locationIDs := make([]int64, 0, len(locationList))
	for _, location := range locationList {
		id, _ := location.ID()
		locationIDs = append(locationIDs, id)
	}

	if fetch.Devices {
		var deviceList []Record
		for _, id := range locationIDs {
			records, err := s.client.Devices(ctx, id)
			if err != nil {
				return err
			}
			deviceList = append(deviceList, records...)
		}
		devices, err := BuildIdentityMap(deviceList)
		if err != nil {
			return err
		}

		s.mu.RLock()
		previous := s.devices
		observer := s.observer
		s.mu.RUnlock()

		if observer != nil {
			observer(previous, devices)
			observerNotifications.Inc()
		}

		s.mu.Lock()
		s.devices = devices
		s.mu.Unlock()
		log.Debug().Int("devices", len(devices)).Msg("devices refreshed")
	}

	if fetch.Events {
		var eventList []Record
		for _, id := range locationIDs {
			records, err := s.client.Events(ctx, id)
			if err != nil {
				return err
			}
			eventList = append(eventList, records...)
		}
		events, err := BuildIdentityMap(eventList)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.events = events
		s.mu.Unlock()
	}
	return nil
}
