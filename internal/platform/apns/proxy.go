package apns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/proxy"
)

// ProxySource exposes the globally configured outbound proxy settings.
type ProxySource interface {
	HasHTTPProxy() bool
	HasBasicAuth() bool
	HTTPProxyAddress() string
	ProxyCredentials() (user, password string)
	HasSocksProxy() bool
	SocksProxyAddress() string
}

// ProxyMode is the kind of outbound route chosen for a connection.
type ProxyMode int

const (
	ProxyDirect ProxyMode = iota
	ProxyHTTP
	ProxyHTTPAuth
	ProxySocks5
)

func (m ProxyMode) String() string {
	switch m {
	case ProxyHTTP:
		return "http"
	case ProxyHTTPAuth:
		return "http-auth"
	case ProxySocks5:
		return "socks5"
	default:
		return "direct"
	}
}

// ProxyDecision is the outcome of ResolveProxy.
type ProxyDecision struct {
	Mode     ProxyMode
	Address  string
	User     string
	Password string
}

// ContextDialer opens raw TCP connections.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// ResolveProxy picks exactly one route. An HTTP proxy wins over SOCKS5.
func ResolveProxy(src ProxySource) ProxyDecision {
	if src == nil {
		return ProxyDecision{Mode: ProxyDirect}
	}
	switch {
	case src.HasHTTPProxy() && src.HasBasicAuth():
		user, pass := src.ProxyCredentials()
		return ProxyDecision{Mode: ProxyHTTPAuth, Address: src.HTTPProxyAddress(), User: user, Password: pass}
	case src.HasHTTPProxy():
		return ProxyDecision{Mode: ProxyHTTP, Address: src.HTTPProxyAddress()}
	case src.HasSocksProxy():
		return ProxyDecision{Mode: ProxySocks5, Address: src.SocksProxyAddress()}
	default:
		return ProxyDecision{Mode: ProxyDirect}
	}
}

// URL returns the proxy URL for the HTTP modes, with credentials as user info
// for ProxyHTTPAuth. It is nil for every other mode.
func (d ProxyDecision) URL() *url.URL {
	switch d.Mode {
	case ProxyHTTP:
		return &url.URL{Scheme: "http", Host: d.Address}
	case ProxyHTTPAuth:
		return &url.URL{Scheme: "http", Host: d.Address, User: url.UserPassword(d.User, d.Password)}
	default:
		return nil
	}
}

// Dialer builds the TCP dialer for the SOCKS5 and direct modes on top of
// forward. HTTP proxies are handled by the transport through URL.
func (d ProxyDecision) Dialer(forward *net.Dialer) (ContextDialer, error) {
	switch d.Mode {
	case ProxySocks5:
		socks, err := proxy.SOCKS5("tcp", d.Address, nil, forward)
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		cd, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support contexts")
		}
		return cd, nil
	case ProxyHTTP, ProxyHTTPAuth:
		return nil, fmt.Errorf("%s proxy is not a raw dialer", d.Mode)
	default:
		return forward, nil
	}
}
