package kidde

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_kidde_refresh_total",
			Help: "Refresh cycles by trigger and result",
		},
		[]string{"trigger", "result"},
	)
	refreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homesafe_kidde_refresh_duration_seconds",
			Help:    "Refresh cycle duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)
	skippedTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homesafe_kidde_refresh_skipped_total",
		Help: "Timer ticks skipped because a cycle was still running",
	})
	observerNotifications = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homesafe_kidde_observer_notifications_total",
		Help: "Observer notifications delivered",
	})
	changedDevices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_kidde_device_changes_total",
			Help: "Device changes seen between cycles",
		},
		[]string{"kind"},
	)
	lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "homesafe_kidde_last_success_timestamp_seconds",
		Help: "Last successful refresh timestamp (epoch seconds)",
	})
	reauthTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_kidde_reauth_total",
			Help: "Re-authentication attempts by result",
		},
		[]string{"result"},
	)
)

// SyncCollectors returns the package-level sync collectors.
func SyncCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshTotal,
		refreshDuration,
		skippedTicks,
		observerNotifications,
		changedDevices,
		lastSuccess,
		reauthTotal,
	}
}

// DeviceSource exposes the current device map.
type DeviceSource interface {
	Devices() IdentityMap
}

// MetricsCollector exports per-device gauges from the last refresh.
type MetricsCollector struct {
	source DeviceSource
	mu     sync.Mutex

	info        *prometheus.GaugeVec
	smokeAlarm  *prometheus.GaugeVec
	coAlarm     *prometheus.GaugeVec
	lowBattery  *prometheus.GaugeVec
	offline     *prometheus.GaugeVec
	tempCelsius *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	tvoc        *prometheus.GaugeVec
	co2         *prometheus.GaugeVec
	iaq         *prometheus.GaugeVec
	airQuality  *prometheus.GaugeVec
	smokeLevel  *prometheus.GaugeVec
	coLevel     *prometheus.GaugeVec
	apRSSI      *prometheus.GaugeVec
	lastSeen    *prometheus.GaugeVec
}

func NewMetricsCollector(source DeviceSource) *MetricsCollector {
	labels := []string{"location_id", "device_id", "label"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	}
	return &MetricsCollector{
		source: source,
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homesafe_kidde_device_info",
			Help: "Kidde device info",
		}, []string{"location_id", "device_id", "label", "model", "serial"}),
		smokeAlarm:  gauge("homesafe_kidde_smoke_alarm", "Smoke alarm active (1=alarm)"),
		coAlarm:     gauge("homesafe_kidde_co_alarm", "CO alarm active (1=alarm)"),
		lowBattery:  gauge("homesafe_kidde_low_battery", "Battery state not ok (1=low)"),
		offline:     gauge("homesafe_kidde_offline", "Device reported offline (1=offline)"),
		tempCelsius: gauge("homesafe_kidde_temperature_celsius", "IAQ temperature (celsius)"),
		humidity:    gauge("homesafe_kidde_humidity_percent", "Relative humidity (%)"),
		tvoc:        gauge("homesafe_kidde_tvoc_ppb", "Total VOC (ppb)"),
		co2:         gauge("homesafe_kidde_co2_ppm", "CO2 concentration (ppm)"),
		iaq:         gauge("homesafe_kidde_iaq", "Indoor air quality index"),
		airQuality:  gauge("homesafe_kidde_air_quality_level", "Air quality level (1=excellent .. 5=poor, 0=unknown)"),
		smokeLevel:  gauge("homesafe_kidde_smoke_level", "Reported smoke level"),
		coLevel:     gauge("homesafe_kidde_co_level", "Reported CO level"),
		apRSSI:      gauge("homesafe_kidde_ap_rssi_dbm", "WiFi signal strength (dBm)"),
		lastSeen:    gauge("homesafe_kidde_last_seen_timestamp_seconds", "Last time the cloud saw the device (epoch seconds)"),
	}
}

func (c *MetricsCollector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.info, c.smokeAlarm, c.coAlarm, c.lowBattery, c.offline,
		c.tempCelsius, c.humidity, c.tvoc, c.co2, c.iaq, c.airQuality,
		c.smokeLevel, c.coLevel, c.apRSSI, c.lastSeen,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, vec := range c.vecs() {
		vec.Describe(ch)
	}
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, vec := range c.vecs() {
		vec.Reset()
	}

	var devices IdentityMap
	if c.source != nil {
		devices = c.source.Devices()
	}
	for _, id := range devices.IDs() {
		r := ReadingsFromRecord(devices[id])
		labels := prometheus.Labels{
			"location_id": strconv.FormatInt(r.LocationID, 10),
			"device_id":   strconv.FormatInt(r.DeviceID, 10),
			"label":       r.Label,
		}
		c.info.With(prometheus.Labels{
			"location_id": labels["location_id"],
			"device_id":   labels["device_id"],
			"label":       r.Label,
			"model":       r.Model,
			"serial":      r.Serial,
		}).Set(1)

		c.offline.With(labels).Set(boolFloat(r.Offline))
		c.lowBattery.With(labels).Set(boolFloat(r.LowBattery))
		if r.HasSmoke {
			c.smokeAlarm.With(labels).Set(boolFloat(r.SmokeDetected))
		}
		if r.HasCO {
			c.coAlarm.With(labels).Set(boolFloat(r.CODetected))
		}
		if r.HasIAQ {
			c.airQuality.With(labels).Set(float64(r.AirQuality))
		}
		setGaugeVec(c.tempCelsius, labels, r.TemperatureCelsius)
		setGaugeVec(c.humidity, labels, r.Humidity)
		setGaugeVec(c.tvoc, labels, r.TVOC)
		setGaugeVec(c.co2, labels, r.CO2)
		setGaugeVec(c.iaq, labels, r.IAQ)
		setGaugeVec(c.smokeLevel, labels, r.SmokeLevel)
		setGaugeVec(c.coLevel, labels, r.COLevel)
		setGaugeVec(c.apRSSI, labels, r.APRSSI)
		if !r.LastSeen.IsZero() {
			c.lastSeen.With(labels).Set(float64(r.LastSeen.Unix()))
		}
	}

	for _, vec := range c.vecs() {
		vec.Collect(ch)
	}
}

func setGaugeVec(vec *prometheus.GaugeVec, labels prometheus.Labels, value *float64) {
	if value == nil {
		return
	}
	vec.With(labels).Set(*value)
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
