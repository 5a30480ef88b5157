package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// DefaultCertificateLifetime is how long a self-signed certificate minted by
// IssueSelfSigned is valid for. RubyGems-style gem signing certs
// conventionally live for a year; the re-sign state machine (spec.md §4.2)
// mints a successor with this same lifetime.
const DefaultCertificateLifetime = 365 * 24 * time.Hour

// IssueSelfSigned mints a new self-signed certificate for key with the given
// subject, valid from notBefore for lifetime. It backs both the renewal path
// (spec.md §4.2) and initial bootstrapping of a brand-new key — spec.md
// assumes key/cert material already exists, but a complete implementation
// needs one place that can produce the first certificate for a fresh key,
// and renewal should mint its successor the same way.
func IssueSelfSigned(key *rsa.PrivateKey, subject pkix.Name, notBefore time.Time, lifetime time.Duration) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		Issuer:                subject,
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(lifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create self-signed certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}
