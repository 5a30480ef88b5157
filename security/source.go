package security

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/wycats/gems/security/pem"
)

// CertSource is a tagged variant standing in for the "a Certificate, a path,
// or PEM bytes" dynamic dispatch the original design used in its
// constructor (spec.md §9, "Dynamic polymorphism in the constructor").
// Exactly one of its fields is populated; Resolve is the single place that
// resolves it to a concrete certificate.
type CertSource struct {
	parsed *x509.Certificate
	pemRaw []byte
	path   string
}

// ParsedCert wraps an already-parsed certificate.
func ParsedCert(cert *x509.Certificate) CertSource { return CertSource{parsed: cert} }

// PEMCert wraps raw PEM bytes.
func PEMCert(raw []byte) CertSource { return CertSource{pemRaw: raw} }

// PathCert wraps a filesystem path to a PEM certificate.
func PathCert(path string) CertSource { return CertSource{path: path} }

// Resolve normalizes the source to a parsed certificate: pass through if
// already parsed, read the file if the string names an existing file, or
// treat the string as literal PEM bytes otherwise — the resolution order
// spec.md §4.2 step 3 specifies.
func (s CertSource) Resolve() (*x509.Certificate, error) {
	if s.parsed != nil {
		return s.parsed, nil
	}
	raw := s.pemRaw
	if s.path != "" {
		if _, err := os.Stat(s.path); err == nil {
			data, err := os.ReadFile(s.path)
			if err != nil {
				return nil, fmt.Errorf("read certificate %q: %w", s.path, err)
			}
			raw = data
		} else {
			raw = []byte(s.path)
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty certificate source")
	}
	return pem.ParseCertificate(raw)
}

// KeySource is the same tagged-variant treatment for "a PrivateKey object or
// a filesystem path".
type KeySource struct {
	parsed *rsa.PrivateKey
	path   string
}

// ParsedKey wraps an already-parsed private key.
func ParsedKey(key *rsa.PrivateKey) KeySource { return KeySource{parsed: key} }

// PathKey wraps a filesystem path to a PEM private key.
func PathKey(path string) KeySource { return KeySource{path: path} }

func (s KeySource) Resolve() (*rsa.PrivateKey, error) {
	if s.parsed != nil {
		return s.parsed, nil
	}
	if s.path == "" {
		return nil, fmt.Errorf("empty key source")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read private key %q: %w", s.path, err)
	}
	key := pem.ParseRSAPrivateKey(data)
	if key == nil {
		return nil, fmt.Errorf("no RSA private key found in %q", s.path)
	}
	return key, nil
}
