package kidde

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joshp123/homesafe/internal/config"
	"github.com/joshp123/homesafe/internal/rate"
)

const (
	defaultBaseURL        = config.DefaultKiddeBaseURL
	defaultRequestTimeout = config.DefaultRequestTimeout
)

// Config holds client and poller settings.
type Config struct {
	BaseURL           string
	Email             string
	Password          string
	Cookies           Session
	PollInterval      time.Duration
	RequestTimeout    time.Duration
	FetchEvents       bool
	RequestsPerMinute int
	StatePath         string

	// HTTPClient overrides the rate-limited default. Share one across
	// clients so logins and re-logins draw from the same budget.
	HTTPClient *http.Client
}

// ConfigFromCore resolves the kidde section, including file-backed secrets.
func ConfigFromCore(cfg *config.KiddeConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("kidde config is required")
	}

	out := Config{
		BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		Email:          strings.TrimSpace(cfg.Email),
		Cookies:        Session(cfg.Cookies).Clone(),
		PollInterval:   cfg.PollInterval,
		RequestTimeout: cfg.RequestTimeout,
		FetchEvents:    cfg.FetchEvents == nil || *cfg.FetchEvents,
		StatePath:      cfg.StatePath,
	}
	if cfg.RequestsPerMinute != nil {
		out.RequestsPerMinute = *cfg.RequestsPerMinute
	}
	if out.Email != "" {
		password, err := cfg.ResolvePassword()
		if err != nil {
			return Config{}, err
		}
		out.Password = password
	}
	return out, nil
}

// HasCredentials reports whether the config can log in from scratch.
func (c Config) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

func (c Config) baseURL() string {
	if c.BaseURL == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	decl := rate.Provider(pluginID).MaxRequestsPerMinute(c.RequestsPerMinute)
	return rate.WrapHTTP(decl, &http.Client{Timeout: timeout})
}
