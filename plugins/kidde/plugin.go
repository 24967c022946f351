package kidde

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joshp123/homesafe/internal/config"
	"github.com/joshp123/homesafe/internal/core"
	"github.com/joshp123/homesafe/internal/logging"
	"github.com/joshp123/homesafe/internal/poll"
	"github.com/joshp123/homesafe/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

const pluginID = "kidde"

// reauthBackoff is the minimum gap between failed re-logins.
const reauthBackoff = 5 * time.Minute

//go:embed dashboard.json
var dashboardJSON []byte

// Plugin implements the homesafe plugin contract for Kidde HomeSafe.
type Plugin struct {
	cfg   Config
	slot  *poll.Slot
	store *session.Store
	mqtt  *config.MQTTConfig
	dial  func(BrokerConfig) (Broker, error)
	log   zerolog.Logger
	now   func() time.Time
	// disabled is set when the plugin could not be configured.
	disabled bool

	mu             sync.RWMutex
	ctx            context.Context
	syncer         *Synchronizer
	publisher      *StatePublisher
	health         core.HealthStatus
	healthMessage  string
	reauthInFlight bool
	reauthDone     chan struct{}
	// reauthHold suppresses re-login until it passes. Set after a failed
	// attempt, cleared on success.
	reauthHold time.Time
}

// NewPlugin builds the plugin from config. It reports false when the kidde
// section is absent. Config problems surface as ERROR health.
func NewPlugin(cfg *config.Config, slot *poll.Slot) (*Plugin, bool) {
	if cfg == nil || cfg.Kidde == nil {
		return nil, false
	}
	log := logging.With().Str("component", pluginID).Logger()

	kcfg, err := ConfigFromCore(cfg.Kidde)
	if err != nil {
		return errorPlugin(log, err), true
	}

	var blob session.BlobStore
	if cfg.SessionBlob != nil {
		s3, err := session.NewS3Store(cfg.SessionBlob)
		if err != nil {
			return errorPlugin(log, err), true
		}
		blob = s3
	}
	store, err := session.NewStore(pluginID, kcfg.StatePath, blob)
	if err != nil {
		return errorPlugin(log, err), true
	}

	kcfg.HTTPClient = kcfg.httpClient()
	return newPlugin(kcfg, slot, store, cfg.MQTT, DialBroker, log), true
}

func newPlugin(cfg Config, slot *poll.Slot, store *session.Store, mqttCfg *config.MQTTConfig, dial func(BrokerConfig) (Broker, error), log zerolog.Logger) *Plugin {
	return &Plugin{
		cfg:    cfg,
		slot:   slot,
		store:  store,
		mqtt:   mqttCfg,
		dial:   dial,
		log:    log,
		now:    time.Now,
		health: core.HealthDegraded,
	}
}

func errorPlugin(log zerolog.Logger, err error) *Plugin {
	log.Error().Err(err).Msg("kidde plugin disabled")
	return &Plugin{log: log, disabled: true, health: core.HealthError, healthMessage: err.Error()}
}

func (p *Plugin) ID() string {
	return pluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    pluginID,
		DisplayName: "Kidde HomeSafe",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "kidde-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) error {
	return RegisterKiddeServiceServer(server, NewService(p.Synchronizer))
}

func (p *Plugin) Collectors() []prometheus.Collector {
	return append([]prometheus.Collector{NewMetricsCollector(p)}, SyncCollectors()...)
}

func (p *Plugin) Health() core.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthMessage
}

// Synchronizer returns the active synchronizer, or nil before the first
// session is established.
func (p *Plugin) Synchronizer() *Synchronizer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.syncer
}

// Devices serves the metrics collector.
func (p *Plugin) Devices() IdentityMap {
	if s := p.Synchronizer(); s != nil {
		return s.Devices()
	}
	return nil
}

// DeviceCommand serves MQTT command topics.
func (p *Plugin) DeviceCommand(ctx context.Context, locationID, deviceID int64, cmd Command) error {
	s := p.Synchronizer()
	if s == nil {
		return fmt.Errorf("kidde session not ready")
	}
	err := s.DeviceCommand(ctx, locationID, deviceID, cmd)
	if IsAuthError(err) {
		p.handleCycleError(err)
	}
	return err
}

// Start resolves a session, arms polling, and runs the first refresh.
// Refresh failures are reported through health rather than returned.
func (p *Plugin) Start(ctx context.Context) error {
	if p.disabled {
		return nil
	}
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	if p.mqtt != nil {
		if err := p.startPublisher(ctx); err != nil {
			p.log.Error().Err(err).Msg("mqtt publisher unavailable")
		}
	}

	sess, source, err := p.resolveSession(ctx)
	if err != nil {
		p.setHealth(core.HealthError, err.Error())
		return nil
	}
	p.log.Info().Str("source", source).Msg("kidde session resolved")

	syncer, err := p.install(ctx, sess)
	if err != nil {
		p.setHealth(core.HealthError, err.Error())
		return nil
	}
	if _, err := syncer.GetData(ctx, p.fetchOptions()); err != nil {
		p.handleCycleError(err)
		return nil
	}
	p.setHealth(core.HealthHealthy, "")
	return nil
}

// Close marks the MQTT bridge offline.
func (p *Plugin) Close() {
	p.mu.RLock()
	publisher := p.publisher
	p.mu.RUnlock()
	if publisher != nil {
		publisher.Close()
	}
}

func (p *Plugin) fetchOptions() FetchOptions {
	return FetchOptions{Devices: true, Events: p.cfg.FetchEvents}
}

// resolveSession prefers configured cookies, then the persisted session,
// then a fresh login.
func (p *Plugin) resolveSession(ctx context.Context) (Session, string, error) {
	if len(p.cfg.Cookies) > 0 {
		return p.cfg.Cookies, "config", nil
	}
	if p.store != nil {
		cookies, err := p.store.Load(ctx)
		if err == nil {
			return Session(cookies), "persisted", nil
		}
		if !errors.Is(err, session.ErrSessionNotFound) {
			p.log.Warn().Err(err).Msg("ignoring persisted session")
		}
	}
	sess, err := p.login(ctx)
	if err != nil {
		return nil, "", err
	}
	return sess, "login", nil
}

func (p *Plugin) login(ctx context.Context) (Session, error) {
	if !p.cfg.HasCredentials() {
		return nil, fmt.Errorf("kidde credentials are not configured")
	}
	sess, err := Login(ctx, p.cfg, p.cfg.Email, p.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if p.store != nil {
		if err := p.store.Save(ctx, sess); err != nil {
			p.log.Warn().Err(err).Msg("persist session failed")
		}
	}
	return sess, nil
}

// install builds a synchronizer for sess. It takes over the slot, so the
// previous synchronizer stops ticking.
func (p *Plugin) install(ctx context.Context, sess Session) (*Synchronizer, error) {
	client, err := NewClient(p.cfg, sess)
	if err != nil {
		return nil, err
	}
	fetch := p.fetchOptions()
	syncer := NewSynchronizer(ctx, client, p.slot, Options{
		Interval:  p.cfg.PollInterval,
		TickFetch: &fetch,
		Logger:    p.log,
		OnError:   p.handleCycleError,
		OnSuccess: func(Dataset) { p.setHealth(core.HealthHealthy, "") },
	})

	observers := []Observer{ChangeLogger(syncer)}
	p.mu.Lock()
	if p.publisher != nil {
		observers = append(observers, p.publisher.Observe)
	}
	p.syncer = syncer
	p.mu.Unlock()
	syncer.RegisterCallback(Observers(observers...))
	return syncer, nil
}

func (p *Plugin) handleCycleError(err error) {
	if !IsAuthError(err) {
		p.setHealth(core.HealthDegraded, err.Error())
		return
	}
	p.setHealth(core.HealthError, err.Error())
	p.triggerReauth()
}

// triggerReauth logs in again in the background. At most one attempt runs
// at a time, and a failed attempt holds off the next for reauthBackoff.
func (p *Plugin) triggerReauth() {
	if !p.cfg.HasCredentials() {
		p.log.Error().Msg("kidde session rejected and no credentials to log in again")
		return
	}

	p.mu.Lock()
	if p.reauthInFlight || p.ctx == nil {
		p.mu.Unlock()
		return
	}
	if hold := p.reauthHold; p.now().Before(hold) {
		p.mu.Unlock()
		p.log.Debug().Time("retry_after", hold).Msg("kidde re-authentication on hold")
		return
	}
	p.reauthInFlight = true
	done := make(chan struct{})
	p.reauthDone = done
	ctx := p.ctx
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.reauthInFlight = false
			p.mu.Unlock()
			close(done)
		}()
		if err := p.reauth(ctx); err != nil {
			reauthTotal.WithLabelValues("error").Inc()
			p.mu.Lock()
			p.reauthHold = p.now().Add(reauthBackoff)
			p.mu.Unlock()
			p.log.Error().Err(err).Dur("backoff", reauthBackoff).Msg("kidde re-authentication failed")
			p.setHealth(core.HealthError, err.Error())
			return
		}
		p.mu.Lock()
		p.reauthHold = time.Time{}
		p.mu.Unlock()
		reauthTotal.WithLabelValues("ok").Inc()
		p.log.Info().Msg("kidde re-authenticated")
	}()
}

func (p *Plugin) reauth(ctx context.Context) error {
	sess, err := p.login(ctx)
	if err != nil {
		return err
	}
	syncer, err := p.install(ctx, sess)
	if err != nil {
		return err
	}
	if _, err := syncer.GetData(ctx, p.fetchOptions()); err != nil {
		return err
	}
	p.setHealth(core.HealthHealthy, "")
	return nil
}

func (p *Plugin) startPublisher(ctx context.Context) error {
	password := ""
	if p.mqtt.PasswordFile != "" {
		secret, err := config.ReadSecretFile(p.mqtt.PasswordFile)
		if err != nil {
			return err
		}
		password = secret
	}
	broker, err := p.dial(BrokerConfig{
		Broker:      p.mqtt.Broker,
		Username:    p.mqtt.Username,
		Password:    password,
		ClientID:    p.mqtt.ClientID,
		WillTopic:   StatusTopic(p.mqtt.TopicPrefix),
		WillPayload: "offline",
		QoS:         p.mqtt.QoS,

		ConnectTimeout: p.cfg.RequestTimeout,
		WriteTimeout:   p.cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}

	publisher := NewStatePublisher(broker, PublisherConfig{
		TopicPrefix:     p.mqtt.TopicPrefix,
		DiscoveryPrefix: p.mqtt.DiscoveryPrefix,
		QoS:             p.mqtt.QoS,
		CommandTimeout:  p.cfg.RequestTimeout,
	}, p, p.log)
	if err := publisher.Start(ctx); err != nil {
		broker.Close()
		return err
	}

	p.mu.Lock()
	p.publisher = publisher
	p.mu.Unlock()
	return nil
}

func (p *Plugin) setHealth(status core.HealthStatus, message string) {
	p.mu.Lock()
	p.health = status
	p.healthMessage = message
	p.mu.Unlock()
}

// waitReauth blocks until the in-flight re-authentication, if any, finishes.
func (p *Plugin) waitReauth() {
	p.mu.RLock()
	done := p.reauthDone
	p.mu.RUnlock()
	if done != nil {
		<-done
	}
}
