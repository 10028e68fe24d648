package internal

import (
	"github.com/frankli0324/go-asynchttp/internal/dialer"
	"github.com/frankli0324/go-asynchttp/internal/engine"
	"github.com/frankli0324/go-asynchttp/internal/http"
)

// UseDialer replaces the dialer with the one returned by fn, which is handed
// the current dialer.
func (c *Client) UseDialer(fn func(http.Dialer) http.Dialer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialer = fn(c.getDialer())
	if c.fallback != nil {
		c.fallback.Dialer = c.dialer
	}
}

// UseCoreDialer hands the *[dialer.CoreDialer] in the dialer chain to fn. If
// the chain doesn't contain one, fn's result replaces the current dialer.
func (c *Client) UseCoreDialer(fn func(*dialer.CoreDialer) http.Dialer) {
	c.UseDialer(func(d http.Dialer) http.Dialer {
		if cd, ok := d.(*dialer.CoreDialer); ok {
			return fn(cd)
		}
		for cd := d; cd != nil; cd = cd.Unwrap() {
			if core, ok := cd.(*dialer.CoreDialer); ok {
				fn(core)
				return d
			}
		}
		return fn(dialer.NewCoreDialer())
	})
}

// UseEngine makes the client drive its requests through e. The client's
// dialer is not used by engines other than the default one.
func (c *Client) UseEngine(e engine.Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine = e
}
