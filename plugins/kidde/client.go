package kidde

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client talks to the Kidde HomeSafe REST API with a fixed session.
type Client struct {
	baseURL    string
	session    Session
	httpClient *http.Client
}

// AuthError is returned when the API answers 403. The session is invalid or
// the credentials were rejected; callers must log in again.
type AuthError struct {
	Path string
}

func (e *AuthError) Error() string {
	if e.Path == "" {
		return "kidde authentication error"
	}
	return fmt.Sprintf("kidde authentication error on %s", e.Path)
}

// HTTPStatusError is any other non-2xx response.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("kidde api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// IsAuthError reports whether err carries an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Login exchanges credentials for a session. Nothing is persisted here.
func Login(ctx context.Context, cfg Config, email, password string) (Session, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encode login: %w", err)
	}

	endpoint := cfg.baseURL() + "/auth/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := cfg.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "auth/login"); err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	session := ParseSetCookies(resp.Header.Values("Set-Cookie"))
	if len(session) == 0 {
		return nil, fmt.Errorf("login response carried no session cookie")
	}
	return session, nil
}

// NewClientFromLogin logs in and returns a client bound to the new session.
func NewClientFromLogin(ctx context.Context, cfg Config, email, password string) (*Client, error) {
	session, err := Login(ctx, cfg, email, password)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, session)
}

// NewClient uses session as-is without contacting the API.
func NewClient(cfg Config, session Session) (*Client, error) {
	baseURL := cfg.baseURL()
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Client{
		baseURL:    baseURL,
		session:    session.Clone(),
		httpClient: cfg.httpClient(),
	}, nil
}

// Session returns a copy of the session for external persistence.
func (c *Client) Session() Session {
	return c.session.Clone()
}

func (c *Client) Locations(ctx context.Context) ([]Record, error) {
	return c.getRecords(ctx, "location")
}

func (c *Client) Devices(ctx context.Context, locationID int64) ([]Record, error) {
	return c.getRecords(ctx, fmt.Sprintf("location/%d/device", locationID))
}

// Events reads the per-location event page. The records sit under "events".
func (c *Client) Events(ctx context.Context, locationID int64) ([]Record, error) {
	path := fmt.Sprintf("location/%d/event", locationID)
	var resp struct {
		Events *[]Record `json:"events"`
	}
	found, err := c.do(ctx, http.MethodGet, path, &resp)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if resp.Events == nil {
		return nil, fmt.Errorf("%s: response has no events field", path)
	}
	return *resp.Events, nil
}

func (c *Client) Members(ctx context.Context, locationID int64) ([]Record, error) {
	return c.getRecords(ctx, fmt.Sprintf("location/%d/member", locationID))
}

// DeviceCommand sends cmd to one device. Success carries no payload.
func (c *Client) DeviceCommand(ctx context.Context, locationID, deviceID int64, cmd Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, string(cmd))
	}
	path := fmt.Sprintf("location/%d/device/%d/%s", locationID, deviceID, cmd)
	_, err := c.do(ctx, http.MethodPost, path, nil)
	return err
}

func (c *Client) getRecords(ctx context.Context, path string) ([]Record, error) {
	var records []Record
	if _, err := c.do(ctx, http.MethodGet, path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// do performs one request. found is false on 204 No Content, in which case
// out is left untouched.
func (c *Client) do(ctx context.Context, method, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cookie := c.session.CookieHeader(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, path); err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode == http.StatusForbidden {
		return &AuthError{Path: path}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}
