package botapi

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is the base address of a bot API server.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

func DefaultEndpoint() Endpoint {
	return Endpoint{
		Scheme: "https",
		Host:   "api.telegram.org",
		Port:   443,
	}
}

// ParseEndpoint accepts "scheme://host[:port]"; a missing port follows the scheme.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultEndpoint(), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	ep := Endpoint{Scheme: u.Scheme, Host: u.Hostname()}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Endpoint{}, fmt.Errorf("%w: invalid port %q", ErrInvalidEndpoint, p)
		}
		ep.Port = port
	}
	return ep.WithDefaults(), nil
}

func (e Endpoint) WithDefaults() Endpoint {
	def := DefaultEndpoint()
	if strings.TrimSpace(e.Scheme) == "" {
		e.Scheme = def.Scheme
	}
	if strings.TrimSpace(e.Host) == "" {
		e.Host = def.Host
	}
	if e.Port <= 0 {
		if e.Scheme == "http" {
			e.Port = 80
		} else {
			e.Port = 443
		}
	}
	return e
}

// MethodURL builds {scheme}://{host}:{port}/bot{token}/{method}.
func (e Endpoint) MethodURL(token, method string) string {
	e = e.WithDefaults()
	u := url.URL{
		Scheme: e.Scheme,
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:   "/bot" + token + "/" + method,
	}
	return u.String()
}

func (e Endpoint) String() string {
	e = e.WithDefaults()
	return e.Scheme + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// MaskToken keeps the bot id prefix of a "<id>:<secret>" token and hides the rest.
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if i := strings.IndexByte(token, ':'); i > 0 {
		return token[:i] + ":***"
	}
	if len(token) <= 4 {
		return "***"
	}
	return token[:4] + "***"
}
