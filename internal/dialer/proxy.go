package dialer

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"

	"github.com/frankli0324/go-asynchttp/internal/http"
	"github.com/frankli0324/go-asynchttp/internal/transport"
)

// ProxyDirect as a request's proxy disables proxying for it.
const ProxyDirect = "direct"

var ErrUnsupportedProxy = errors.New("unsupported proxy scheme")

type ProxyConfig struct {
	TLSConfig      *tls.Config // the [*tls.Config] to use with proxy, if nil, *[CoreDialer.TLSConfig] will be used
	ResolveLocally bool
	ResolveConfig  *ResolveConfig // overrides the resolver config for dialer for proxy
}

func (c *ProxyConfig) Clone() *ProxyConfig {
	if c == nil {
		return nil
	}
	return &ProxyConfig{
		TLSConfig:      c.TLSConfig.Clone(),
		ResolveLocally: c.ResolveLocally,
		ResolveConfig:  c.ResolveConfig.Clone(),
	}
}

var (
	h1Transport = transport.HTTP1{}
)

// ProxyFromEnvironment selects proxies from HTTP_PROXY, HTTPS_PROXY and
// NO_PROXY, read once when it is called.
func ProxyFromEnvironment() func(ctx context.Context, r *http.Request) (string, error) {
	fn := httpproxy.FromEnvironment().ProxyFunc()
	return func(ctx context.Context, r *http.Request) (string, error) {
		u, err := url.Parse(r.URL)
		if err != nil {
			return "", err
		}
		p, err := fn(u)
		if err != nil || p == nil {
			return "", err
		}
		return p.String(), nil
	}
}

func (d *CoreDialer) proxyFor(ctx context.Context, r *http.PreparedRequest) (string, error) {
	if r.Proxy != "" {
		if r.Proxy == ProxyDirect {
			return "", nil
		}
		return r.Proxy, nil
	}
	if d.GetProxy != nil {
		return d.GetProxy(ctx, r.Request)
	}
	return "", nil
}

func (d *CoreDialer) tryDialProxy(ctx context.Context, r *http.PreparedRequest) (net.Conn, error) {
	p, err := d.proxyFor(ctx, r)
	if err != nil || p == "" {
		return nil, err
	}
	proxyU, err := url.Parse(p)
	if err != nil {
		return nil, err
	}
	return d.DialContextOverProxy(ctx, r.U, proxyU)
}

func (d *CoreDialer) proxyConfig() *ProxyConfig {
	if d.ProxyConfig == nil {
		return &ProxyConfig{}
	}
	return d.ProxyConfig
}

// resolveTarget resolves the remote host locally when configured to, so the
// proxy only ever sees an address.
func (d *CoreDialer) resolveTarget(ctx context.Context, addr string) (string, error) {
	pc := d.proxyConfig()
	if !pc.ResolveLocally {
		return addr, nil
	}
	dnsCfg := pc.ResolveConfig.Merge(d.ResolveConfig)
	if dnsCfg != nil {
		if res, ok := dnsCfg.StaticHosts[addr]; ok {
			return res, nil
		}
	}
	if net.ParseIP(addr) != nil {
		return addr, nil
	}
	ips, err := d.lookup(ctx, dnsCfg, addr)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", &net.DNSError{Err: "no such host", Name: addr, IsNotFound: true}
	}
	return ips[rand.Intn(len(ips))].String(), nil
}

// DialContextOverProxy creates a connection over http/socks proxy.
// This part of logic may be reused when wrapping *[CoreDialer] into
// a new custom [Dialer]
func (d *CoreDialer) DialContextOverProxy(ctx context.Context, remote, proxyU *url.URL) (net.Conn, error) {
	switch proxyU.Scheme {
	case "http", "https":
		return d.dialConnect(ctx, remote, proxyU)
	case "socks5", "socks5h":
		return d.dialSOCKS5(ctx, remote, proxyU)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProxy, proxyU.Scheme)
}

func (d *CoreDialer) dialSOCKS5(ctx context.Context, remote, proxyU *url.URL) (net.Conn, error) {
	var auth *proxy.Auth
	if proxyU.User != nil {
		pw, _ := proxyU.User.Password()
		auth = &proxy.Auth{User: proxyU.User.Username(), Password: pw}
	}
	hp := net.JoinHostPort(HostPort(proxyU.Scheme, proxyU.Host))
	socks, err := proxy.SOCKS5("tcp", hp, auth, &zeroDialer)
	if err != nil {
		return nil, err
	}

	addr, port := HostPort(remote.Scheme, remote.Host)
	if proxyU.Scheme == "socks5" {
		// socks5h leaves name resolution to the proxy
		if addr, err = d.resolveTarget(ctx, addr); err != nil {
			return nil, err
		}
	}
	if cd, ok := socks.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", net.JoinHostPort(addr, port))
	}
	return socks.Dial("tcp", net.JoinHostPort(addr, port))
}

func (d *CoreDialer) dialConnect(ctx context.Context, remote, proxyU *url.URL) (net.Conn, error) {
	hp := net.JoinHostPort(HostPort(proxyU.Scheme, proxyU.Host))
	conn, err := zeroDialer.DialContext(ctx, "tcp", hp)
	if err != nil {
		return nil, err
	}

	if proxyU.Scheme == "https" {
		tlsCfg := d.proxyConfig().TLSConfig
		if tlsCfg == nil {
			tlsCfg = d.TLSConfig
		}
		tlsCfg = tlsCfg.Clone()
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		}
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = proxyU.Hostname()
		}
		c := tls.Client(conn, tlsCfg)
		if err := c.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = c
	}

	addr, port := HostPort(remote.Scheme, remote.Host)
	if addr, err = d.resolveTarget(ctx, addr); err != nil {
		conn.Close()
		return nil, err
	}
	target := net.JoinHostPort(addr, port)

	connReq := &http.PreparedRequest{
		Request:    &http.Request{Method: "CONNECT"},
		HeaderHost: target,
		U:          &url.URL{Path: target},
		GetBody:    func() (io.ReadCloser, error) { return nil, nil },
	}
	if proxyU.User != nil {
		pw, _ := proxyU.User.Password()
		auth := proxyU.User.Username() + ":" + pw
		connReq.Header = http.Header{
			"Proxy-Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(auth))},
		}
	}
	if err := h1Transport.Write(ctx, conn, connReq); err != nil {
		conn.Close()
		return nil, err
	}
	resp := &http.Response{}
	// the proxy only answers after the tunnel is up, nothing of the origin's
	// bytes can be buffered past the head
	if err := h1Transport.Read(ctx, conn, connReq, resp); err != nil {
		conn.Close()
		return nil, err
	}
	if resp.StatusCode != 200 {
		s, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		conn.Close()
		return nil, fmt.Errorf("proxy server returned error. status:%d, body:%s", resp.StatusCode, string(s))
	}
	return conn, nil
}
