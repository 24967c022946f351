package kidde

import (
	"sort"
	"strings"
)

// Session is the cookie credential attached to every request after login.
type Session map[string]string

// ParseSetCookies turns Set-Cookie header values into a session. Only the
// text before the first ';' of each value is read; it is split on its first
// '=' and the remainder is kept verbatim as the cookie value.
func ParseSetCookies(values []string) Session {
	session := make(Session, len(values))
	for _, value := range values {
		pair, _, _ := strings.Cut(value, ";")
		name, val, _ := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		session[name] = val
	}
	return session
}

// Clone returns an independent copy.
func (s Session) Clone() Session {
	if s == nil {
		return nil
	}
	out := make(Session, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// CookieHeader renders the session as a Cookie header value with names sorted.
func (s Session) CookieHeader() string {
	if len(s) == 0 {
		return ""
	}
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+s[name])
	}
	return strings.Join(parts, "; ")
}
