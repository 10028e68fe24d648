package dialer

import (
	"crypto/tls"
	"errors"
	"fmt"

	"golang.org/x/crypto/ocsp"

	"github.com/frankli0324/go-asynchttp/internal/http"
)

var ErrCertificateRevoked = errors.New("tls: server certificate revoked")

// verifier chains the request's connection verification and revocation
// policy after the dialer's own VerifyConnection, if any.
func verifier(r *http.Request, base func(tls.ConnectionState) error) func(tls.ConnectionState) error {
	if r == nil || (r.VerifyConnection == nil && !r.CheckRevocation) {
		return base
	}
	custom, revocation := r.VerifyConnection, r.CheckRevocation
	return func(cs tls.ConnectionState) error {
		if base != nil {
			if err := base(cs); err != nil {
				return err
			}
		}
		if revocation {
			if err := CheckRevocation(cs); err != nil {
				return err
			}
		}
		if custom != nil {
			return custom(cs)
		}
		return nil
	}
}

// CheckRevocation inspects the OCSP response stapled by the server. A missing
// staple is not an error, there is nothing to check against.
func CheckRevocation(cs tls.ConnectionState) error {
	if len(cs.OCSPResponse) == 0 || len(cs.VerifiedChains) == 0 || len(cs.VerifiedChains[0]) < 2 {
		return nil
	}
	chain := cs.VerifiedChains[0]
	resp, err := ocsp.ParseResponseForCert(cs.OCSPResponse, chain[0], chain[1])
	if err != nil {
		return fmt.Errorf("tls: stapled ocsp response: %w", err)
	}
	if resp.Status == ocsp.Revoked {
		return fmt.Errorf("%w at %s", ErrCertificateRevoked, resp.RevokedAt)
	}
	return nil
}
