package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wycats/gems/security/pem"
)

// TrustStore is a content-addressed directory of PEM certificates, indexed
// by a digest over each certificate's public key. It is read-only on the
// verify path; Add/Remove exist only for management tooling outside this
// module's scope.
type TrustStore struct {
	dir string
}

// NewTrustStore opens a trust store rooted at dir. The directory is not
// created here — callers that need an empty store on disk call
// os.MkdirAll themselves, mirroring how Signer and Policy take paths
// without implicitly provisioning them.
func NewTrustStore(dir string) *TrustStore {
	return &TrustStore{dir: dir}
}

// CertPath returns the deterministic path a certificate is stored/looked up
// at: a digest over its public key, so storing a certificate with a
// colliding subject DN under a different key can never shadow the real
// root.
func (t *TrustStore) CertPath(cert *Certificate) string {
	return filepath.Join(t.dir, cert.FingerprintPublicKey()+".pem")
}

// IssuerOf scans the store for a certificate whose subject equals cert's
// issuer. It returns (nil, nil), not an error, when no such certificate is
// found — chain closure treats an absent issuer as "leave the chain open,
// let Policy decide" per spec.md §4.2/§7.
func (t *TrustStore) IssuerOf(cert *Certificate) (*Certificate, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trust store %q: %w", t.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(t.dir, entry.Name()))
		if err != nil {
			continue
		}
		candidate, err := pem.ParseCertificate(raw)
		if err != nil {
			continue
		}
		c := NewCertificate(candidate)
		if c.Subject() == cert.Issuer() {
			return c, nil
		}
	}
	return nil, nil
}

// Lookup returns the certificate stored at CertPath(cert), if any, without
// scanning the whole directory — used by Policy's only_trusted check, which
// already knows the exact path it expects the root to live at.
func (t *TrustStore) Lookup(cert *Certificate) (*Certificate, bool) {
	raw, err := os.ReadFile(t.CertPath(cert))
	if err != nil {
		return nil, false
	}
	parsed, err := pem.ParseCertificate(raw)
	if err != nil {
		return nil, false
	}
	return NewCertificate(parsed), true
}

// Add stores cert at its content-addressed path, creating the trust store
// directory if necessary. Not used on the verify path.
func (t *TrustStore) Add(cert *Certificate) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("create trust store %q: %w", t.dir, err)
	}
	return os.WriteFile(t.CertPath(cert), pem.EncodeCertificate(cert.X509()), 0o644)
}

// Remove deletes cert from the store, if present. Not used on the verify
// path.
func (t *TrustStore) Remove(cert *Certificate) error {
	err := os.Remove(t.CertPath(cert))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
