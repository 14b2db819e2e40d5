package botapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

const maxResponseBytes = 16 << 20

// Request is one outbound call; Body is already encoded.
type Request struct {
	Endpoint Endpoint
	Token    string
	Method   string
	Body     []byte
}

// Response carries the raw status and body; status is judged by Client.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport executes a single request/response exchange. Connectivity
// problems are reported wrapped in ErrTransport.
type Transport interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

type HTTPTransportConfig struct {
	// Timeout bounds the whole exchange and must exceed the long-poll timeout.
	Timeout             time.Duration
	ProxyURL            string
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DisableHTTP2        bool
	// CAFile trusts a private CA, e.g. for a self-hosted bot API server.
	CAFile string
	// CertFile and KeyFile present a client certificate when both are set.
	CertFile string
	KeyFile  string
}

func DefaultHTTPTransportConfig() HTTPTransportConfig {
	return HTTPTransportConfig{
		Timeout:             75 * time.Second,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
}

// LongPollMargin is how much longer than the long-poll timeout the HTTP
// client waits before giving up on a getUpdates call.
const LongPollMargin = 25 * time.Second

// ForLongPoll raises Timeout so a long poll of d can finish.
func (c HTTPTransportConfig) ForLongPoll(d time.Duration) HTTPTransportConfig {
	if floor := d + LongPollMargin; c.Timeout < floor {
		c.Timeout = floor
	}
	return c
}

func (c HTTPTransportConfig) WithDefaults() HTTPTransportConfig {
	def := DefaultHTTPTransportConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = def.IdleConnTimeout
	}
	return c
}

// HTTPTransport posts JSON over a pooled net/http client with HTTP/2 enabled.
type HTTPTransport struct {
	client *http.Client
	base   *http.Transport
}

var _ Transport = (*HTTPTransport)(nil)

func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	cfg = cfg.WithDefaults()
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if raw := strings.TrimSpace(cfg.ProxyURL); raw != "" {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("botapi: parse proxy url: %w", err)
		}
		base.Proxy = http.ProxyURL(proxyURL)
	}
	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}
	base.TLSClientConfig = tlsCfg
	if !cfg.DisableHTTP2 {
		if err := http2.ConfigureTransport(base); err != nil {
			return nil, fmt.Errorf("botapi: configure http2: %w", err)
		}
	}
	return &HTTPTransport{
		client: &http.Client{Transport: base, Timeout: cfg.Timeout},
		base:   base,
	}, nil
}

func (c HTTPTransportConfig) tlsConfig() (*tls.Config, error) {
	if c.CAFile == "" && c.CertFile == "" && c.KeyFile == "" {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("botapi: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("botapi: no certificates in %s", c.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return nil, fmt.Errorf("botapi: cert_file and key_file must be set together")
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("botapi: load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func (t *HTTPTransport) Execute(ctx context.Context, req Request) (Response, error) {
	target := req.Endpoint.MethodURL(req.Token, req.Method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s: %s", ErrTransport, req.Method, redact(err, req.Token))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s: %s", ErrTransport, req.Method, redact(err, req.Token))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s: read body: %s", ErrTransport, req.Method, redact(err, req.Token))
	}
	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// CloseIdleConnections releases pooled connections once the owning session is gone.
// Timeout is the client timeout applied to each exchange.
func (t *HTTPTransport) Timeout() time.Duration {
	return t.client.Timeout
}

func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

// redact keeps tokens out of url.Error strings, which embed the full URL.
func redact(err error, token string) string {
	msg := err.Error()
	if token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, token, MaskToken(token))
}
