package dialer

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankli0324/go-asynchttp/internal/http"
)

func prepare(t *testing.T, r *http.Request) *http.PreparedRequest {
	pr, err := r.Prepare()
	require.NoError(t, err)
	return pr
}

// roundTrip writes a bare GET over conn and returns the status line.
func roundTrip(t *testing.T, conn net.Conn, host string) string {
	defer conn.Close()
	_, err := io.WriteString(conn, "GET / HTTP/1.1\r\nHost: "+host+"\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	line, _, _ := bytesCut(b)
	return line
}

func bytesCut(b []byte) (string, string, bool) {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return string(b[:i]), string(b[i+2:]), true
		}
	}
	return string(b), "", false
}

func origin(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(204)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHostPort(t *testing.T) {
	for _, c := range []struct{ scheme, host, addr, port string }{
		{"http", "example.com", "example.com", "80"},
		{"https", "example.com", "example.com", "443"},
		{"socks5", "proxy", "proxy", "1080"},
		{"http", "example.com:8080", "example.com", "8080"},
		{"https", "[::1]:8443", "::1", "8443"},
	} {
		addr, port := HostPort(c.scheme, c.host)
		assert.Equal(t, c.addr, addr, c.host)
		assert.Equal(t, c.port, port, c.host)
	}
}

func TestResolveConfigMerge(t *testing.T) {
	var nilCfg *ResolveConfig
	assert.Nil(t, nilCfg.Merge(nil))

	base := &ResolveConfig{Network: "ip4", StaticHosts: map[string]string{"a": "1.1.1.1", "b": "2.2.2.2"}}
	over := &ResolveConfig{CustomDNSServer: "9.9.9.9:53", StaticHosts: map[string]string{"a": "3.3.3.3"}}
	m := over.Merge(base)
	assert.Equal(t, "9.9.9.9:53", m.CustomDNSServer)
	assert.Equal(t, "ip4", m.Network)
	assert.Equal(t, map[string]string{"a": "3.3.3.3", "b": "2.2.2.2"}, m.StaticHosts)
	assert.Len(t, over.StaticHosts, 1, "merge leaves its receiver alone")

	assert.Equal(t, base.StaticHosts, nilCfg.Merge(base).StaticHosts)
}

func TestDialStaticHost(t *testing.T) {
	srv := origin(t)
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())

	d := NewCoreDialer()
	d.GetProxy = nil
	d.ResolveConfig = &ResolveConfig{StaticHosts: map[string]string{"service.test": "127.0.0.1"}}
	conn, err := d.Dial(context.Background(), prepare(t, &http.Request{URL: "http://service.test:" + port}))
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 204 No Content", roundTrip(t, conn, "service.test"))
}

// connectProxy tunnels CONNECT requests and counts them.
func connectProxy(t *testing.T, auth string) (*httptest.Server, *atomic.Int32) {
	var tunnels atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != "CONNECT" {
			w.WriteHeader(405)
			return
		}
		if auth != "" && r.Header.Get("Proxy-Authorization") != auth {
			w.WriteHeader(407)
			io.WriteString(w, "who are you")
			return
		}
		upstream, err := net.Dial("tcp", r.Host)
		if err != nil {
			w.WriteHeader(502)
			return
		}
		conn, brw, err := w.(nethttp.Hijacker).Hijack()
		if err != nil {
			upstream.Close()
			return
		}
		tunnels.Add(1)
		io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
		go func() {
			io.Copy(upstream, brw)
			upstream.Close()
		}()
		io.Copy(conn, upstream)
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv, &tunnels
}

func TestDialConnectProxy(t *testing.T) {
	srv := origin(t)
	proxy, tunnels := connectProxy(t, "Basic dXNlcjpwYXNz")

	d := NewCoreDialer()
	d.GetProxy = func(ctx context.Context, r *http.Request) (string, error) {
		return "http://user:pass@" + proxy.Listener.Addr().String(), nil
	}
	conn, err := d.Dial(context.Background(), prepare(t, &http.Request{URL: srv.URL}))
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 204 No Content", roundTrip(t, conn, "origin"))
	assert.Equal(t, int32(1), tunnels.Load())
}

func TestDialConnectProxyRejected(t *testing.T) {
	srv := origin(t)
	proxy, _ := connectProxy(t, "Basic nope")

	d := NewCoreDialer()
	_, err := d.Dial(context.Background(), prepare(t, &http.Request{
		URL: srv.URL, Proxy: "http://" + proxy.Listener.Addr().String(),
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status:407")
	assert.Contains(t, err.Error(), "who are you")
}

func TestRequestProxyOverrides(t *testing.T) {
	srv := origin(t)
	d := NewCoreDialer()
	d.GetProxy = func(ctx context.Context, r *http.Request) (string, error) {
		return "", errors.New("should not be asked")
	}
	conn, err := d.Dial(context.Background(), prepare(t, &http.Request{URL: srv.URL, Proxy: ProxyDirect}))
	require.NoError(t, err)
	conn.Close()

	_, err = d.Dial(context.Background(), prepare(t, &http.Request{URL: srv.URL, Proxy: "ftp://proxy"}))
	assert.ErrorIs(t, err, ErrUnsupportedProxy)
}

// socks5Server implements the no-auth CONNECT subset of RFC 1928.
func socks5Server(t *testing.T) (addr string, targets chan string) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	targets = make(chan string, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				hdr := make([]byte, 2)
				if _, err := io.ReadFull(c, hdr); err != nil {
					return
				}
				io.ReadFull(c, make([]byte, hdr[1]))
				c.Write([]byte{5, 0})

				req := make([]byte, 4)
				if _, err := io.ReadFull(c, req); err != nil {
					return
				}
				var host string
				switch req[3] {
				case 1:
					ip := make([]byte, 4)
					io.ReadFull(c, ip)
					host = net.IP(ip).String()
				case 3:
					l := make([]byte, 1)
					io.ReadFull(c, l)
					name := make([]byte, l[0])
					io.ReadFull(c, name)
					host = string(name)
				default:
					return
				}
				p := make([]byte, 2)
				io.ReadFull(c, p)
				target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(p))))
				targets <- target

				up, err := net.Dial("tcp", target)
				if err != nil {
					c.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
					return
				}
				defer up.Close()
				c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})
				go io.Copy(up, c)
				io.Copy(c, up)
			}(c)
		}
	}()
	return ln.Addr().String(), targets
}

func TestDialSOCKS5(t *testing.T) {
	srv := origin(t)
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
	proxy, targets := socks5Server(t)

	d := NewCoreDialer()
	d.GetProxy = nil
	d.ProxyConfig.ResolveLocally = true
	d.ResolveConfig = &ResolveConfig{StaticHosts: map[string]string{"origin.test": "127.0.0.1"}}

	// socks5 resolves locally
	conn, err := d.Dial(context.Background(), prepare(t, &http.Request{
		URL: "http://origin.test:" + port, Proxy: "socks5://" + proxy,
	}))
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 204 No Content", roundTrip(t, conn, "origin.test"))
	assert.Equal(t, "127.0.0.1:"+port, <-targets)

	// socks5h hands the name to the proxy
	conn, err = d.Dial(context.Background(), prepare(t, &http.Request{
		URL: "http://localhost:" + port, Proxy: "socks5h://" + proxy,
	}))
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, "localhost:"+port, <-targets)
}

func TestDialTLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {}))
	defer srv.Close()

	d := NewCoreDialer()
	d.GetProxy = nil
	_, err := d.Dial(context.Background(), prepare(t, &http.Request{URL: srv.URL}))
	assert.Error(t, err, "self signed certificate is not trusted")

	d.TLSConfig.RootCAs = srv.Client().Transport.(*nethttp.Transport).TLSClientConfig.RootCAs
	var seen atomic.Bool
	conn, err := d.Dial(context.Background(), prepare(t, &http.Request{
		URL:              srv.URL,
		CheckRevocation:  true,
		VerifyConnection: func(cs tls.ConnectionState) error { seen.Store(true); return nil },
	}))
	require.NoError(t, err)
	conn.Close()
	assert.True(t, seen.Load())
	_, ok := conn.(*tls.Conn)
	assert.True(t, ok)
}

func TestCheckRevocationWithoutStaple(t *testing.T) {
	assert.NoError(t, CheckRevocation(tls.ConnectionState{}))
}

func TestVerifierChain(t *testing.T) {
	assert.Nil(t, verifier(&http.Request{}, nil))

	var order []string
	base := func(tls.ConnectionState) error { order = append(order, "base"); return nil }
	v := verifier(&http.Request{VerifyConnection: func(tls.ConnectionState) error {
		order = append(order, "request")
		return nil
	}}, base)
	require.NoError(t, v(tls.ConnectionState{}))
	assert.Equal(t, []string{"base", "request"}, order)

	boom := errors.New("boom")
	v = verifier(&http.Request{CheckRevocation: true}, func(tls.ConnectionState) error { return boom })
	assert.ErrorIs(t, v(tls.ConnectionState{}), boom)
}

func TestProxyFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://env-proxy:3128")
	t.Setenv("NO_PROXY", "internal.test")
	get := ProxyFromEnvironment()

	p, err := get(context.Background(), &http.Request{URL: "http://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "http://env-proxy:3128", p)

	p, err = get(context.Background(), &http.Request{URL: "http://internal.test/"})
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestCloneIndependent(t *testing.T) {
	d := NewCoreDialer()
	d.ResolveConfig = &ResolveConfig{StaticHosts: map[string]string{"a": "1"}}
	c := d.Clone()
	c.ResolveConfig.StaticHosts["b"] = "2"
	c.TLSConfig.ServerName = "other"
	assert.Len(t, d.ResolveConfig.StaticHosts, 1)
	assert.Empty(t, d.TLSConfig.ServerName)
}
