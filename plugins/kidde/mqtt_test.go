package kidde

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type publishedMessage struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]func(string, []byte)
	closed    bool
}

func (b *fakeBroker) Publish(topic string, _ byte, retained bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{topic: topic, retained: retained, payload: payload})
	return nil
}

func (b *fakeBroker) Subscribe(filter string, _ byte, cb func(string, []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string]func(string, []byte))
	}
	b.handlers[filter] = cb
	return nil
}

func (b *fakeBroker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *fakeBroker) deliver(filter, topic, payload string) {
	b.mu.Lock()
	cb := b.handlers[filter]
	b.mu.Unlock()
	cb(topic, []byte(payload))
}

func (b *fakeBroker) last(topic string) (publishedMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].topic == topic {
			return b.published[i], true
		}
	}
	return publishedMessage{}, false
}

func (b *fakeBroker) count(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, msg := range b.published {
		if strings.HasPrefix(msg.topic, prefix) {
			n++
		}
	}
	return n
}

type recordedCommand struct {
	locationID, deviceID int64
	cmd                  Command
}

type fakeSink struct {
	commands []recordedCommand
}

func (s *fakeSink) DeviceCommand(_ context.Context, locationID, deviceID int64, cmd Command) error {
	s.commands = append(s.commands, recordedCommand{locationID, deviceID, cmd})
	return nil
}

func newTestPublisher(t *testing.T) (*StatePublisher, *fakeBroker, *fakeSink) {
	t.Helper()
	broker := &fakeBroker{}
	sink := &fakeSink{}
	p := NewStatePublisher(broker, PublisherConfig{TopicPrefix: "homesafe/", DiscoveryPrefix: "homeassistant"}, sink, zerolog.Nop())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p, broker, sink
}

func TestPublisherStartAndClose(t *testing.T) {
	p, broker, _ := newTestPublisher(t)

	msg, ok := broker.last("homesafe/bridge/status")
	if !ok || string(msg.payload) != "online" || !msg.retained {
		t.Fatalf("expected retained online status, got %+v", msg)
	}
	p.Close()
	msg, _ = broker.last("homesafe/bridge/status")
	if string(msg.payload) != "offline" || !broker.closed {
		t.Fatalf("expected offline status and closed broker")
	}
}

func TestPublisherObservePublishesState(t *testing.T) {
	p, broker, _ := newTestPublisher(t)
	device := decodeRecord(t, testDeviceJSON)

	p.Observe(nil, IdentityMap{779836: device})

	msg, ok := broker.last("homesafe/123456/779836/state")
	if !ok || !msg.retained {
		t.Fatalf("expected retained state message")
	}
	var readings Readings
	if err := json.Unmarshal(msg.payload, &readings); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if readings.Key != "kidde-123456-779836" || readings.AirQuality != AirQualityInferior {
		t.Fatalf("unexpected readings %+v", readings)
	}

	discovery, ok := broker.last("homeassistant/binary_sensor/kidde-123456-779836/smoke/config")
	if !ok {
		t.Fatalf("expected smoke discovery config")
	}
	var cfg map[string]any
	if err := json.Unmarshal(discovery.payload, &cfg); err != nil {
		t.Fatalf("decode discovery: %v", err)
	}
	if cfg["state_topic"] != "homesafe/123456/779836/state" || cfg["availability_topic"] != "homesafe/bridge/status" {
		t.Fatalf("unexpected discovery config %v", cfg)
	}
	if _, ok := broker.last("homeassistant/sensor/kidde-123456-779836/humidity/config"); !ok {
		t.Fatalf("expected humidity discovery config")
	}
	discoveries := broker.count("homeassistant/")

	// Unchanged devices are not republished; discovery is sent once.
	p.Observe(IdentityMap{779836: device}, IdentityMap{779836: device})
	if got := broker.count("homesafe/123456/"); got != 1 {
		t.Fatalf("expected one state publish, got %d", got)
	}

	changed := decodeRecord(t, strings.Replace(testDeviceJSON, `"co_alarm": false`, `"co_alarm": true`, 1))
	p.Observe(IdentityMap{779836: device}, IdentityMap{779836: changed})
	if got := broker.count("homesafe/123456/"); got != 2 {
		t.Fatalf("expected republish on change, got %d", got)
	}
	if got := broker.count("homeassistant/"); got != discoveries {
		t.Fatalf("expected discovery once, got %d -> %d", discoveries, got)
	}
}

func TestPublisherClearsRemovedDevice(t *testing.T) {
	p, broker, _ := newTestPublisher(t)
	device := decodeRecord(t, testDeviceJSON)

	p.Observe(IdentityMap{779836: device}, IdentityMap{})
	msg, ok := broker.last("homesafe/123456/779836/state")
	if !ok || len(msg.payload) != 0 || !msg.retained {
		t.Fatalf("expected retained empty payload for removed device, got %+v", msg)
	}
}

func TestPublisherCommands(t *testing.T) {
	_, broker, sink := newTestPublisher(t)

	broker.deliver("homesafe/+/+/command", "homesafe/123456/779836/command", "hush")
	broker.deliver("homesafe/+/+/command", "homesafe/123456/779836/command", "explode")
	broker.deliver("homesafe/+/+/command", "homesafe/abc/779836/command", "TEST")

	if len(sink.commands) != 1 {
		t.Fatalf("expected one accepted command, got %+v", sink.commands)
	}
	got := sink.commands[0]
	if got.locationID != 123456 || got.deviceID != 779836 || got.cmd != CommandHush {
		t.Fatalf("unexpected command %+v", got)
	}
}

func TestParseCommandTopic(t *testing.T) {
	loc, dev, err := parseCommandTopic("homesafe", "homesafe/1/2/command")
	if err != nil || loc != 1 || dev != 2 {
		t.Fatalf("parseCommandTopic: %d %d %v", loc, dev, err)
	}
	for _, topic := range []string{"other/1/2/command", "homesafe/1/2/state", "homesafe/1/command"} {
		if _, _, err := parseCommandTopic("homesafe", topic); err == nil {
			t.Fatalf("expected error for %s", topic)
		}
	}
}

func closedPortAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestDialBrokerUnreachableReturns(t *testing.T) {
	addr := closedPortAddr(t)
	done := make(chan error, 1)
	go func() {
		broker, err := DialBroker(BrokerConfig{Broker: "tcp://" + addr, ConnectTimeout: time.Second})
		if broker != nil {
			broker.Close()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected dial error for %s", addr)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("DialBroker still blocked against %s", addr)
	}
}

type stuckToken struct{}

func (stuckToken) Wait() bool { select {} }
func (stuckToken) WaitTimeout(d time.Duration) bool {
	time.Sleep(d)
	return false
}
func (stuckToken) Done() <-chan struct{} { return make(chan struct{}) }
func (stuckToken) Error() error { return nil }

type failedToken struct{ err error }

func (f failedToken) Wait() bool { return true }
func (f failedToken) WaitTimeout(time.Duration) bool { return true }
func (f failedToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (f failedToken) Error() error { return f.err }

func TestWaitTokenBounded(t *testing.T) {
	start := time.Now()
	err := waitToken(stuckToken{}, 20*time.Millisecond, "publish a/b")
	if !errors.Is(err, ErrBrokerTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("waitToken did not honour its timeout")
	}

	refused := errors.New("not connected")
	if err := waitToken(failedToken{err: refused}, time.Second, "subscribe x"); !errors.Is(err, refused) {
		t.Fatalf("expected token error, got %v", err)
	}
	if err := waitToken(failedToken{}, time.Second, "publish"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
