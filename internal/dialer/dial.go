package dialer

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/frankli0324/go-asynchttp/internal/http"
)

var schemes = map[string]string{
	"http": "80", "https": "443", "socks5": "1080", "socks5h": "1080",
}

var zeroDialer net.Dialer
var customDnsDialer = net.Dialer{
	Resolver: &customServerResolver,
}

// HostPort returns the host:port u connects to, filling in the scheme's
// default port.
func HostPort(scheme, host string) (addr, port string) {
	addr, port = host, schemes[scheme]
	if add, prt, err := net.SplitHostPort(host); err == nil {
		addr, port = add, prt
	}
	return
}

func (d *CoreDialer) Dial(ctx context.Context, r *http.PreparedRequest) (net.Conn, error) {
	addr, port := HostPort(r.U.Scheme, r.U.Host)
	hp := net.JoinHostPort(addr, port)

	conn, err := d.tryDialProxy(ctx, r)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		// as of now net.Dialer could handle current DNS configurations
		network, dialer, dialctx, dst := "tcp", &zeroDialer, ctx, hp

		if cfg := d.ResolveConfig; cfg != nil {
			if cfg.Network == "ip4" {
				network = "tcp4"
			} else if cfg.Network == "ip6" {
				network = "tcp6"
			}
			if static, ok := cfg.StaticHosts[addr]; ok {
				dst = net.JoinHostPort(static, port)
			}
			if dns := cfg.CustomDNSServer; dns != "" {
				dialctx = dnsServerCtx{dialctx, dns}
				dialer = &customDnsDialer
			}
		}

		conn, err = dialer.DialContext(dialctx, network, dst)
		if err != nil {
			return nil, err
		}
	}
	if r.U.Scheme == "https" {
		config := d.TLSConfig.Clone()
		if config == nil {
			config = &tls.Config{}
		}
		config.ServerName = r.U.Hostname()
		config.VerifyConnection = verifier(r.Request, config.VerifyConnection)
		c := tls.Client(conn, config)
		if err := c.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = c
	}
	return conn, nil
}
