package kidde

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Broker is the subset of an MQTT connection the publisher needs.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(filter string, qos byte, cb func(topic string, payload []byte)) error
	Close()
}

// BrokerConfig describes the MQTT connection.
type BrokerConfig struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	WillTopic   string
	WillPayload string
	QoS         byte
	// ConnectTimeout bounds the initial dial. WriteTimeout bounds each
	// publish and subscribe. Both default to 10s.
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

const defaultBrokerTimeout = 10 * time.Second

// ErrBrokerTimeout is returned when the broker does not acknowledge in time.
var ErrBrokerTimeout = errors.New("mqtt broker timeout")

type mqttClient struct {
	client  mqtt.Client
	timeout time.Duration
	mu      sync.Mutex
	subs    map[string]mqttSub
}

type mqttSub struct {
	qos byte
	cb  func(topic string, payload []byte)
}

// DialBroker connects to an MQTT broker, re-subscribing after reconnects.
func DialBroker(cfg BrokerConfig) (Broker, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "homesafe-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)
	connectTimeout := orDefault(cfg.ConnectTimeout, defaultBrokerTimeout)
	// Reconnects after the first successful connect only. The initial dial
	// fails fast so an absent broker cannot hold up polling.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWriteTimeout(orDefault(cfg.WriteTimeout, defaultBrokerTimeout))
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, cfg.WillPayload, cfg.QoS, true)
	}

	mc := &mqttClient{
		timeout: orDefault(cfg.WriteTimeout, defaultBrokerTimeout),
		subs:    make(map[string]mqttSub),
	}
	opts.OnConnect = func(client mqtt.Client) {
		mc.resubscribeAll(client)
	}
	client := mqtt.NewClient(opts)
	if err := waitToken(client.Connect(), connectTimeout, "connect"); err != nil {
		client.Disconnect(0)
		return nil, err
	}
	mc.client = client
	return mc, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// waitToken waits for token up to timeout.
func waitToken(token mqtt.Token, timeout time.Duration, op string) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%s: %w after %s", op, ErrBrokerTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *mqttClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return waitToken(c.client.Publish(topic, qos, retained, payload), c.timeout, "publish "+topic)
}

func (c *mqttClient) Subscribe(filter string, qos byte, cb func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[filter] = mqttSub{qos: qos, cb: cb}
	c.mu.Unlock()
	return waitToken(c.client.Subscribe(filter, qos, c.handler(cb)), c.timeout, "subscribe "+filter)
}

func (c *mqttClient) Close() {
	c.client.Disconnect(250)
}

func (c *mqttClient) handler(cb func(string, []byte)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		cb(msg.Topic(), msg.Payload())
	}
}

func (c *mqttClient) resubscribeAll(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]mqttSub, len(c.subs))
	for filter, sub := range c.subs {
		subs[filter] = sub
	}
	c.mu.Unlock()
	for filter, sub := range subs {
		_ = client.Subscribe(filter, sub.qos, c.handler(sub.cb)).WaitTimeout(c.timeout)
	}
}

// CommandSink executes device commands received over MQTT.
type CommandSink interface {
	DeviceCommand(ctx context.Context, locationID, deviceID int64, cmd Command) error
}

// PublisherConfig controls topic layout.
type PublisherConfig struct {
	TopicPrefix     string
	DiscoveryPrefix string
	QoS             byte
	CommandTimeout  time.Duration
}

// StatePublisher mirrors device readings to MQTT and accepts commands.
type StatePublisher struct {
	broker Broker
	cfg    PublisherConfig
	sink   CommandSink
	log    zerolog.Logger

	mu        sync.Mutex
	announced map[int64]bool
}

func NewStatePublisher(broker Broker, cfg PublisherConfig, sink CommandSink, log zerolog.Logger) *StatePublisher {
	cfg.TopicPrefix = strings.Trim(cfg.TopicPrefix, "/")
	cfg.DiscoveryPrefix = strings.Trim(cfg.DiscoveryPrefix, "/")
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}
	return &StatePublisher{
		broker:    broker,
		cfg:       cfg,
		sink:      sink,
		log:       log,
		announced: make(map[int64]bool),
	}
}

// StatusTopic carries "online" or "offline"; offline doubles as the will.
func StatusTopic(prefix string) string {
	return strings.Trim(prefix, "/") + "/bridge/status"
}

func (p *StatePublisher) stateTopic(locationID, deviceID int64) string {
	return fmt.Sprintf("%s/%d/%d/state", p.cfg.TopicPrefix, locationID, deviceID)
}

// Start announces the bridge and subscribes to command topics.
func (p *StatePublisher) Start(ctx context.Context) error {
	if err := p.broker.Publish(StatusTopic(p.cfg.TopicPrefix), p.cfg.QoS, true, []byte("online")); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	filter := p.cfg.TopicPrefix + "/+/+/command"
	if err := p.broker.Subscribe(filter, p.cfg.QoS, func(topic string, payload []byte) {
		p.handleCommand(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return nil
}

// Close marks the bridge offline and disconnects.
func (p *StatePublisher) Close() {
	_ = p.broker.Publish(StatusTopic(p.cfg.TopicPrefix), p.cfg.QoS, true, []byte("offline"))
	p.broker.Close()
}

// Observe publishes readings for new or changed devices. On the first
// cycle every device is published.
func (p *StatePublisher) Observe(previous, current IdentityMap) {
	for _, change := range Diff(previous, current) {
		switch change.Kind {
		case ChangeAdded, ChangeUpdated:
			readings := ReadingsFromRecord(change.Current)
			if err := p.announce(readings); err != nil {
				p.log.Warn().Err(err).Int64("device_id", change.ID).Msg("mqtt discovery failed")
			}
			if err := p.publishState(readings); err != nil {
				p.log.Warn().Err(err).Int64("device_id", change.ID).Msg("mqtt state publish failed")
			}
		case ChangeRemoved:
			locationID, _ := change.Previous.Int("location_id")
			_ = p.broker.Publish(p.stateTopic(locationID, change.ID), p.cfg.QoS, true, nil)
			p.mu.Lock()
			delete(p.announced, change.ID)
			p.mu.Unlock()
		}
	}
}

func (p *StatePublisher) publishState(r Readings) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return p.broker.Publish(p.stateTopic(r.LocationID, r.DeviceID), p.cfg.QoS, true, payload)
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name,omitempty"`
	Model        string   `json:"model,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	Manufacturer string   `json:"manufacturer"`
}

type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	ValueTemplate     string          `json:"value_template"`
	DeviceClass       string          `json:"device_class,omitempty"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	PayloadOn         any             `json:"payload_on,omitempty"`
	PayloadOff        any             `json:"payload_off,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`
}

type discoveryEntity struct {
	component string
	object    string
	cfg       discoveryConfig
}

func (p *StatePublisher) discoveryEntities(r Readings) []discoveryEntity {
	base := func(name, object, template string) discoveryConfig {
		return discoveryConfig{
			Name:              name,
			UniqueID:          r.Key + "-" + object,
			StateTopic:        p.stateTopic(r.LocationID, r.DeviceID),
			ValueTemplate:     template,
			AvailabilityTopic: StatusTopic(p.cfg.TopicPrefix),
			Device: discoveryDevice{
				Identifiers:  []string{r.Key},
				Name:         r.Label,
				Model:        r.Model,
				SerialNumber: r.Serial,
				Manufacturer: "Kidde",
			},
		}
	}
	binary := func(name, object, field, class string) discoveryEntity {
		cfg := base(name, object, "{{ value_json."+field+" }}")
		cfg.DeviceClass = class
		cfg.PayloadOn = true
		cfg.PayloadOff = false
		return discoveryEntity{component: "binary_sensor", object: object, cfg: cfg}
	}
	sensor := func(name, object, field, class, unit string) discoveryEntity {
		cfg := base(name, object, "{{ value_json."+field+" }}")
		cfg.DeviceClass = class
		cfg.UnitOfMeasurement = unit
		return discoveryEntity{component: "sensor", object: object, cfg: cfg}
	}

	entities := []discoveryEntity{
		binary("Battery", "battery", "low_battery", "battery"),
	}
	if r.HasSmoke {
		entities = append(entities, binary("Smoke", "smoke", "smoke_detected", "smoke"))
	}
	if r.HasCO {
		entities = append(entities, binary("Carbon monoxide", "co", "co_detected", "carbon_monoxide"))
	}
	if r.HasIAQ {
		entities = append(entities,
			sensor("Air quality", "air_quality", "air_quality", "", ""),
			sensor("VOC density", "voc", "voc_density", "volatile_organic_compounds", "µg/m³"),
		)
	}
	if r.HasTemperature {
		entities = append(entities, sensor("Temperature", "temperature", "temperature_celsius", "temperature", "°C"))
	}
	if r.Humidity != nil {
		entities = append(entities, sensor("Humidity", "humidity", "humidity", "humidity", "%"))
	}
	return entities
}

func (p *StatePublisher) announce(r Readings) error {
	p.mu.Lock()
	done := p.announced[r.DeviceID]
	p.mu.Unlock()
	if done || p.cfg.DiscoveryPrefix == "" {
		return nil
	}

	for _, entity := range p.discoveryEntities(r) {
		payload, err := json.Marshal(entity.cfg)
		if err != nil {
			return err
		}
		topic := fmt.Sprintf("%s/%s/%s/%s/config", p.cfg.DiscoveryPrefix, entity.component, r.Key, entity.object)
		if err := p.broker.Publish(topic, p.cfg.QoS, true, payload); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.announced[r.DeviceID] = true
	p.mu.Unlock()
	return nil
}

func (p *StatePublisher) handleCommand(ctx context.Context, topic string, payload []byte) {
	locationID, deviceID, err := parseCommandTopic(p.cfg.TopicPrefix, topic)
	if err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("ignoring mqtt command")
		return
	}
	cmd, err := ParseCommand(string(payload))
	if err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("ignoring mqtt command")
		return
	}
	if p.sink == nil {
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, p.cfg.CommandTimeout)
	defer cancel()
	if err := p.sink.DeviceCommand(cmdCtx, locationID, deviceID, cmd); err != nil {
		p.log.Error().Err(err).Int64("device_id", deviceID).Str("command", string(cmd)).Msg("device command failed")
		return
	}
	p.log.Info().Int64("device_id", deviceID).Str("command", string(cmd)).Msg("device command sent")
}

func parseCommandTopic(prefix, topic string) (int64, int64, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return 0, 0, fmt.Errorf("topic outside prefix")
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "command" {
		return 0, 0, fmt.Errorf("unexpected command topic")
	}
	locationID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse location id: %w", err)
	}
	deviceID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse device id: %w", err)
	}
	return locationID, deviceID, nil
}
