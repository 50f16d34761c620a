// Package zdburl parses the bit-compatible connection URL described in the
// core's external interface: protocol://[user[:password]@][host][:port][/path][?k=v&k=v...].
package zdburl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/icgo-zdb/zdb/zdberr"
)

// URL is an immutable, parsed connection descriptor. Build one with Parse;
// zero values are never valid on their own. URL is cheaply copyable (it
// holds no pointers into shared mutable state) and has no equality
// operator — compare fields individually if needed.
type URL struct {
	protocol string
	user     string
	password string
	host     string
	port     int // -1 if absent
	path     string
	rawQuery string

	paramNames  []string
	paramValues map[string]string

	raw string
}

// Parse parses s into a URL or fails with a *zdberr.Error of kind SQL if the
// protocol is absent or the URL is otherwise malformed.
//
// Percent-decoding (RFC 2396) is applied to credentials, path, and
// parameter values only; parameter names are taken verbatim.
func Parse(s string) (*URL, error) {
	protocol, rest, ok := strings.Cut(s, "://")
	if !ok || protocol == "" {
		return nil, invalidURL(s, "missing protocol")
	}

	u := &URL{
		protocol:    protocol,
		port:        -1,
		paramValues: make(map[string]string),
		raw:         s,
	}

	// Split off the query string first; everything else is authority+path.
	authorityAndPath := rest
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		authorityAndPath = rest[:i]
		u.rawQuery = rest[i+1:]
	}

	authority := authorityAndPath
	if i := strings.IndexByte(authorityAndPath, '/'); i >= 0 {
		authority = authorityAndPath[:i]
		path, err := url.PathUnescape(authorityAndPath[i+1:])
		if err != nil {
			return nil, invalidURL(s, "malformed path: %v", err)
		}
		u.path = path
	}

	if i := strings.LastIndexByte(authority, '@'); i >= 0 {
		userinfo := authority[:i]
		authority = authority[i+1:]

		user := userinfo
		if j := strings.IndexByte(userinfo, ':'); j >= 0 {
			user = userinfo[:j]
			pass, err := url.QueryUnescape(userinfo[j+1:])
			if err != nil {
				return nil, invalidURL(s, "malformed password: %v", err)
			}
			u.password = pass
		}
		decodedUser, err := url.QueryUnescape(user)
		if err != nil {
			return nil, invalidURL(s, "malformed user: %v", err)
		}
		u.user = decodedUser
	}

	host, port, err := splitHostPort(authority)
	if err != nil {
		return nil, invalidURL(s, "malformed host/port: %v", err)
	}
	u.host = host
	u.port = port

	if u.rawQuery != "" {
		names, values, err := parseQuery(u.rawQuery)
		if err != nil {
			return nil, invalidURL(s, "malformed query: %v", err)
		}
		u.paramNames = names
		u.paramValues = values

		// Auth-part credentials win over query parameters of the same name.
		if u.user == "" {
			if v, ok := values["user"]; ok {
				u.user = v
			}
		}
		if u.password == "" {
			if v, ok := values["password"]; ok {
				u.password = v
			}
		}
	}

	return u, nil
}

// splitHostPort splits "host:port", "[ipv6]:port", "[ipv6]", or "host" forms.
// Port defaults to -1 (absent) and is never validated against a backend's
// well-known default here — that is the caller's concern.
func splitHostPort(authority string) (host string, port int, err error) {
	if authority == "" {
		return "", -1, nil
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", -1, fmt.Errorf("unterminated IPv6 literal")
		}
		host = authority[:end+1]
		rest := authority[end+1:]
		if rest == "" {
			return host, -1, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", -1, fmt.Errorf("unexpected characters after IPv6 literal")
		}
		p, err := strconv.Atoi(rest[1:])
		if err != nil {
			return "", -1, fmt.Errorf("invalid port: %w", err)
		}
		return host, p, nil
	}

	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		p, err := strconv.Atoi(authority[i+1:])
		if err != nil {
			return "", -1, fmt.Errorf("invalid port: %w", err)
		}
		return authority[:i], p, nil
	}

	return authority, -1, nil
}

// parseQuery parses a raw query string preserving insertion order and
// first-occurrence-wins semantics for duplicate keys (spec.md §3/§4.1).
// Keys are compared byte-for-byte and are not percent-decoded; values are.
func parseQuery(raw string) (names []string, values map[string]string, err error) {
	values = make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key := pair
		val := ""
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
			val = pair[i+1:]
		}
		if _, exists := values[key]; exists {
			continue // first occurrence wins
		}
		decoded, err := url.QueryUnescape(val)
		if err != nil {
			return nil, nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		names = append(names, key)
		values[key] = decoded
	}
	return names, values, nil
}

// Protocol returns the scheme, e.g. "mysql", "pgsql", "sqlite".
func (u *URL) Protocol() string { return u.protocol }

// User returns the decoded username, or "" if absent.
func (u *URL) User() string { return u.user }

// Password returns the decoded password, or "" if absent.
func (u *URL) Password() string { return u.password }

// Host returns the host part, bracketed if it is an IPv6 literal.
func (u *URL) Host() string { return u.host }

// Port returns the port, or -1 if absent.
func (u *URL) Port() int { return u.port }

// Path returns the decoded path (without the leading '/').
func (u *URL) Path() string { return u.path }

// Parameter returns the first value bound to name, and whether it was present.
func (u *URL) Parameter(name string) (string, bool) {
	v, ok := u.paramValues[name]
	return v, ok
}

// ParameterNames returns parameter keys in first-occurrence insertion order.
func (u *URL) ParameterNames() []string {
	out := make([]string, len(u.paramNames))
	copy(out, u.paramNames)
	return out
}

// String returns the original, un-decoded URL string passed to Parse.
func (u *URL) String() string { return u.raw }

// Redacted returns the original URL string with the password returned by
// Password() replaced by "***" where its url.QueryEscape form appears as
// the auth-part password or as a password= query value. A query-string
// password that differs from Password() (because the auth part supplied
// one), or one written with a different escaping, is left as is.
func (u *URL) Redacted() string {
	if u.password == "" {
		return u.raw
	}
	// Mask the auth-part occurrence, then the password= query occurrence.
	encoded := url.QueryEscape(u.password)
	redacted := strings.ReplaceAll(u.raw, ":"+encoded+"@", ":***@")
	redacted = strings.ReplaceAll(redacted, "password="+encoded, "password=***")
	return redacted
}

// Clone returns a deep copy of u.
func (u *URL) Clone() *URL {
	c := *u
	c.paramNames = append([]string(nil), u.paramNames...)
	c.paramValues = make(map[string]string, len(u.paramValues))
	for k, v := range u.paramValues {
		c.paramValues[k] = v
	}
	return &c
}

func invalidURL(raw, format string, args ...interface{}) error {
	return zdberr.New("invalid URL %q: %s", raw, fmt.Sprintf(format, args...))
}
