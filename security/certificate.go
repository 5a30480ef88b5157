package security

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/wycats/gems/security/dn"
	"github.com/wycats/gems/security/pem"
)

// Certificate wraps an X.509 certificate with the accessors the rest of the
// package needs. Equality for chain-walking purposes is by the canonical
// distinguished name (security/dn), never by raw bytes or pointer identity —
// a certificate read back from two different PEM encodings of the same
// entity must still compare equal.
type Certificate struct {
	raw *x509.Certificate
}

// NewCertificate wraps a parsed certificate.
func NewCertificate(cert *x509.Certificate) *Certificate {
	return &Certificate{raw: cert}
}

func (c *Certificate) X509() *x509.Certificate { return c.raw }

func (c *Certificate) Subject() string { return dn.Canonical(c.raw.Subject) }
func (c *Certificate) Issuer() string  { return dn.Canonical(c.raw.Issuer) }

func (c *Certificate) NotBefore() time.Time { return c.raw.NotBefore }
func (c *Certificate) NotAfter() time.Time  { return c.raw.NotAfter }

// PublicKey returns the certificate's RSA public key, or nil if the
// certificate does not carry an RSA key.
func (c *Certificate) PublicKey() *rsa.PublicKey {
	pub, _ := c.raw.PublicKey.(*rsa.PublicKey)
	return pub
}

// IsSelfSigned reports whether the certificate's issuer equals its own
// subject — the "closed root" condition from spec.md §3.
func (c *Certificate) IsSelfSigned() bool {
	return c.Issuer() == c.Subject()
}

// VerifiedBy reports whether this certificate's signature validates against
// issuer's public key.
func (c *Certificate) VerifiedBy(issuer *Certificate) bool {
	return c.raw.CheckSignatureFrom(issuer.raw) == nil
}

// FingerprintPublicKey returns a stable digest over the certificate's public
// key, used both for the trust-store path layout and for the
// digest-of-public-key comparison that anchors root trust. Keying trust by
// this digest rather than by subject DN is deliberate: a malicious actor who
// mints a certificate with a colliding subject DN still cannot satisfy a
// public-key digest check (see spec.md §4.1).
func (c *Certificate) FingerprintPublicKey() string {
	return fingerprintPublicKey(c.raw.RawSubjectPublicKeyInfo)
}

func fingerprintPublicKey(rawSPKI []byte) string {
	sum := sha256.Sum256(rawSPKI)
	return hex.EncodeToString(sum[:])
}

// CertChain is an ordered sequence of certificates, root first, leaf (signer)
// last.
type CertChain []*Certificate

// Leaf returns the last certificate in the chain, the signer's certificate.
func (c CertChain) Leaf() *Certificate {
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

// Root returns the first certificate in the chain.
func (c CertChain) Root() *Certificate {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// Closed reports whether the chain's root is self-signed — the chain needs
// no further issuer lookups to be considered complete.
func (c CertChain) Closed() bool {
	root := c.Root()
	return root != nil && root.IsSelfSigned()
}

// adjacentPairs returns each (issuer, cert) pair for i in [1, len), pairing
// element i-1 as the issuer of element i.
func (c CertChain) adjacentPairs() [][2]*Certificate {
	if len(c) < 2 {
		return nil
	}
	pairs := make([][2]*Certificate, 0, len(c)-1)
	for i := 1; i < len(c); i++ {
		pairs = append(pairs, [2]*Certificate{c[i-1], c[i]})
	}
	return pairs
}

// PEMStrings encodes the chain as one PEM-encoded certificate string per
// element, the wire form a Spec embeds in its cert_chain field.
func (c CertChain) PEMStrings() []string {
	out := make([]string, len(c))
	for i, cert := range c {
		out[i] = string(pem.EncodeCertificate(cert.X509()))
	}
	return out
}

// parseChainPEM parses a chain from its PEM-per-element wire form.
func parseChainPEM(chainPEM []string) (CertChain, error) {
	chain := make(CertChain, 0, len(chainPEM))
	for i, raw := range chainPEM {
		cert, err := pem.ParseCertificate([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("chain element %d: %w", i, err)
		}
		chain = append(chain, NewCertificate(cert))
	}
	return chain, nil
}
