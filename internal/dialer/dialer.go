package dialer

import (
	"context"
	"crypto/tls"

	"github.com/frankli0324/go-asynchttp/internal/http"
)

// Dialers handle pretty much everything related to the actual connection,
// including setting a proxy for each request, setting resolvers, etc.
// Dial returns a connection with TLS already negotiated for https.
type Dialer = http.Dialer

type CoreDialer struct {
	ResolveConfig *ResolveConfig

	TLSConfig *tls.Config // the config to use

	GetProxy    func(ctx context.Context, r *http.Request) (string, error)
	ProxyConfig *ProxyConfig
}

func (d *CoreDialer) Clone() *CoreDialer {
	return &CoreDialer{
		ResolveConfig: d.ResolveConfig.Clone(),
		TLSConfig:     d.TLSConfig.Clone(),
		GetProxy:      d.GetProxy,
		ProxyConfig:   d.ProxyConfig.Clone(),
	}
}

func (d *CoreDialer) Unwrap() Dialer {
	return nil
}

// NewCoreDialer returns the dialer used by a zero value client: proxies
// are taken from the environment, TLS offers http/1.1 only.
func NewCoreDialer() *CoreDialer {
	return &CoreDialer{
		TLSConfig: &tls.Config{
			NextProtos: []string{"http/1.1"},
		},
		GetProxy: ProxyFromEnvironment(),
		ProxyConfig: &ProxyConfig{
			TLSConfig:      &tls.Config{},
			ResolveLocally: false,
		},
	}
}
