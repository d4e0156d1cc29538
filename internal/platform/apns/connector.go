package apns

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sideshow/apns2"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
	"golang.org/x/net/http2"
)

// DefaultPort is the APNs HTTP/2 port.
const DefaultPort = 443

// Conn is a reusable, authenticated connection to APNs for one variant.
type Conn interface {
	Push(ctx context.Context, n *apns2.Notification) (*apns2.Response, error)
	Close()
}

// Connection wraps an apns2 client bound to a single certificate.
type Connection struct {
	client   *apns2.Client
	endpoint string
	route    ProxyMode
}

func (c *Connection) Push(ctx context.Context, n *apns2.Notification) (*apns2.Response, error) {
	return c.client.PushWithContext(ctx, n)
}

// Close drops idle HTTP/2 connections. In-flight requests finish normally.
func (c *Connection) Close() {
	c.client.HTTPClient.CloseIdleConnections()
}

func (c *Connection) Endpoint() string { return c.endpoint }

func (c *Connection) Route() ProxyMode { return c.route }

// HostOverride replaces the production/sandbox host selection when Host is set.
type HostOverride struct {
	Host string
	Port int
}

// ResolveEndpoint returns the base URL APNs requests are sent to. The
// override host may carry an https scheme and a port; Port, when set, wins
// over a port in Host and is ignored without Host.
func ResolveEndpoint(production bool, override HostOverride) string {
	host := apns2.HostDevelopment
	if production {
		host = apns2.HostProduction
	}
	if override.Host == "" {
		return host
	}

	bare := override.Host
	if _, rest, ok := strings.Cut(bare, "://"); ok {
		bare = rest
	}
	bare = strings.TrimSuffix(bare, "/")

	port := strconv.Itoa(DefaultPort)
	if h, p, err := net.SplitHostPort(bare); err == nil {
		bare, port = h, p
	}
	if override.Port > 0 {
		port = strconv.Itoa(override.Port)
	}
	return "https://" + net.JoinHostPort(bare, port)
}

// ConnectorConfig tunes how connections are built.
type ConnectorConfig struct {
	Override        HostOverride
	Proxy           ProxySource
	DialTimeout     time.Duration
	KeepAlive       time.Duration
	ReadIdleTimeout time.Duration
	RequestTimeout  time.Duration
}

func (c *ConnectorConfig) setDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 20 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 15 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 15 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
}

// Connector builds certificate-authenticated APNs connections.
type Connector struct {
	cfg    ConnectorConfig
	logger *slog.Logger
}

func NewConnector(cfg ConnectorConfig, logger *slog.Logger) *Connector {
	cfg.setDefaults()
	return &Connector{
		cfg:    cfg,
		logger: logger.With("component", "APNSConnector"),
	}
}

// Connect prepares a client for the variant. The TLS handshake happens on the
// first push; certificate and proxy problems are reported here.
func (c *Connector) Connect(_ context.Context, variant dispatch.Variant) (Conn, error) {
	if len(variant.Certificate) == 0 {
		return nil, errors.New("variant has no certificate")
	}

	cert, err := LoadCertificate(variant.Certificate, variant.Passphrase)
	if err != nil {
		return nil, err
	}

	decision := ResolveProxy(c.cfg.Proxy)
	transport, err := newTransport(cert, decision, &net.Dialer{
		Timeout:   c.cfg.DialTimeout,
		KeepAlive: c.cfg.KeepAlive,
	}, c.cfg.ReadIdleTimeout)
	if err != nil {
		return nil, err
	}

	endpoint := ResolveEndpoint(variant.Production, c.cfg.Override)

	client := apns2.NewClient(cert)
	client.Host = endpoint
	client.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   c.cfg.RequestTimeout,
	}

	c.logger.Debug("APNs client prepared",
		"variant_id", variant.ID,
		"endpoint", endpoint,
		"route", decision.Mode.String(),
	)
	return &Connection{client: client, endpoint: endpoint, route: decision.Mode}, nil
}

// newTransport builds an HTTP/2 transport for the proxy decision. HTTP
// proxies go through net/http, which tunnels with CONNECT and sends the URL's
// user info as Proxy-Authorization. SOCKS5 and direct routes dial the TLS
// connection themselves.
func newTransport(cert tls.Certificate, decision ProxyDecision, forward *net.Dialer, readIdle time.Duration) (http.RoundTripper, error) {
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

	if proxyURL := decision.URL(); proxyURL != nil {
		t1 := &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			DialContext:     forward.DialContext,
			TLSClientConfig: tlsConfig,
		}
		t2, err := http2.ConfigureTransports(t1)
		if err != nil {
			return nil, fmt.Errorf("failed to enable http2 through proxy: %w", err)
		}
		t2.ReadIdleTimeout = readIdle
		return t1, nil
	}

	dialer, err := decision.Dialer(forward)
	if err != nil {
		return nil, err
	}
	return &http2.Transport{
		TLSClientConfig: tlsConfig,
		ReadIdleTimeout: readIdle,
		DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
			raw, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			conn := tls.Client(raw, cfg)
			if err := conn.HandshakeContext(ctx); err != nil {
				_ = raw.Close()
				return nil, fmt.Errorf("tls handshake with %s failed: %w", addr, err)
			}
			return conn, nil
		},
	}, nil
}
