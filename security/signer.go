package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/wycats/gems/security/pem"
)

// Signer holds an RSA private key and a certificate chain, and produces
// detached signatures over byte buffers. A Signer constructed without a key
// is a valid, unsigned signer: Sign becomes a no-op returning (nil, nil)
// rather than an error, matching spec.md §4.2's "if key is absent, sign is a
// no-op returning no signature".
type Signer struct {
	chain     CertChain
	key       *rsa.PrivateKey
	digestAlg crypto.Hash
	paths     Paths
	trust     *TrustStore
	logger    *slog.Logger
	now       func() time.Time
}

// SignerOption configures NewSigner.
type SignerOption func(*signerConfig)

type signerConfig struct {
	key       *KeySource
	chain     []CertSource
	digestAlg crypto.Hash
	paths     Paths
	trust     *TrustStore
	logger    *slog.Logger
	now       func() time.Time
}

// WithKey supplies the signing key, overriding the conventional-path probe.
func WithKey(src KeySource) SignerOption {
	return func(c *signerConfig) { c.key = &src }
}

// WithChain supplies the certificate chain, overriding the conventional-path
// probe. The chain need not be closed — NewSigner closes it by walking the
// trust store.
func WithChain(src ...CertSource) SignerOption {
	return func(c *signerConfig) { c.chain = src }
}

// WithDigestAlgorithm overrides the default SHA-256 digest algorithm.
// spec.md §6 forbids MD5 and SHA-1 as the default; this option exists for
// callers that need a different (still strong) algorithm, not to relax that
// floor.
func WithDigestAlgorithm(h crypto.Hash) SignerOption {
	return func(c *signerConfig) { c.digestAlg = h }
}

// WithPaths overrides the conventional filesystem locations used to probe
// for a key/cert and to run the re-sign state machine.
func WithPaths(p Paths) SignerOption {
	return func(c *signerConfig) { c.paths = p }
}

// WithTrustStore supplies the trust store used to close an open chain.
func WithTrustStore(t *TrustStore) SignerOption {
	return func(c *signerConfig) { c.trust = t }
}

// WithLogger overrides the default logger (slog.Default()).
func WithLogger(l *slog.Logger) SignerOption {
	return func(c *signerConfig) { c.logger = l }
}

// WithClock overrides the time source used for expiry checks. Tests use
// this to simulate an expired certificate without waiting for one.
func WithClock(now func() time.Time) SignerOption {
	return func(c *signerConfig) { c.now = now }
}

// NewSigner resolves key and chain per spec.md §4.2's resolution rules:
// probe conventional paths when not supplied, normalize each chain element,
// and close the chain by walking the trust store.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	cfg := signerConfig{digestAlg: crypto.SHA256, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	key, err := resolveKey(cfg.key, cfg.paths)
	if err != nil {
		return nil, err
	}

	chain, err := resolveChain(cfg.chain, cfg.paths)
	if err != nil {
		return nil, err
	}

	s := &Signer{
		key:       key,
		digestAlg: cfg.digestAlg,
		paths:     cfg.paths,
		trust:     cfg.trust,
		logger:    cfg.logger,
		now:       cfg.now,
	}

	s.chain, err = s.closeChain(chain)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// resolveKey implements rule 1: use the supplied source, or probe
// <paths.PrivateKey>; absence of both leaves the signer unsigned.
func resolveKey(src *KeySource, paths Paths) (*rsa.PrivateKey, error) {
	if src != nil {
		return src.Resolve()
	}
	if paths.PrivateKey == "" {
		return nil, nil
	}
	if _, err := os.Stat(paths.PrivateKey); err != nil {
		return nil, nil
	}
	return PathKey(paths.PrivateKey).Resolve()
}

// resolveChain implements rule 2 and 3: use the supplied sources, or probe
// <paths.PublicCert> for a single-element chain; parse each element.
func resolveChain(src []CertSource, paths Paths) (CertChain, error) {
	sources := src
	if sources == nil {
		if paths.PublicCert == "" {
			return nil, nil
		}
		if _, err := os.Stat(paths.PublicCert); err != nil {
			return nil, nil
		}
		sources = []CertSource{PathCert(paths.PublicCert)}
	}
	chain := make(CertChain, 0, len(sources))
	for _, s := range sources {
		cert, err := s.Resolve()
		if err != nil {
			return nil, fmt.Errorf("resolve certificate chain element: %w", err)
		}
		chain = append(chain, NewCertificate(cert))
	}
	return chain, nil
}

// closeChain implements rule 4: walk the trust store prepending issuers
// until the root is self-signed or no issuer can be found, in which case the
// chain is left open for Policy to reject later.
func (s *Signer) closeChain(chain CertChain) (CertChain, error) {
	if len(chain) == 0 || s.trust == nil {
		return chain, nil
	}
	for !chain.Root().IsSelfSigned() {
		issuer, err := s.trust.IssuerOf(chain.Root())
		if err != nil {
			return nil, err
		}
		if issuer == nil {
			s.logger.Debug("chain closure stopped: no issuer found, leaving chain open", "subject", chain.Root().Subject())
			break
		}
		chain = append(CertChain{issuer}, chain...)
	}
	return chain, nil
}

// Chain returns the signer's (possibly open) certificate chain.
func (s *Signer) Chain() CertChain { return s.chain }

// HasKey reports whether the signer holds a private key.
func (s *Signer) HasKey() bool { return s.key != nil }

// DigestAlgorithm returns the configured digest algorithm.
func (s *Signer) DigestAlgorithm() crypto.Hash { return s.digestAlg }

// Sign produces a detached signature over data's digest. It returns
// (nil, nil) when the signer has no key. If the chain is a single expired
// self-signed certificate, Sign first attempts re-signing per spec.md §4.2
// before proceeding; if renewal preconditions are not met it signs under the
// expired certificate, and a Policy that checks the signer's validity
// rejects the result as Expired.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	if s.key == nil {
		return nil, nil
	}
	return s.signDigest(hashBytes(s.digestAlg, data))
}

// SignDigest produces a detached signature over an already-computed digest,
// without hashing it again. digest.Writer calls this — it hands Close the
// finished digest, not the raw member content, so signing must not re-hash
// it on top of the hash digest.Writer already computed incrementally.
func (s *Signer) SignDigest(digest []byte) ([]byte, error) {
	if s.key == nil {
		return nil, nil
	}
	return s.signDigest(digest)
}

func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	if len(s.chain) == 1 && s.chain[0].IsSelfSigned() && s.chain[0].NotAfter().Before(s.now()) {
		if err := s.reSignKey(); err != nil {
			s.logger.Debug("renewal preconditions not met, signing under the still-expired certificate", "err", err)
		}
	}

	leaf := s.chain.Leaf()
	if leaf == nil {
		return nil, fmt.Errorf("signer has a key but no certificate chain")
	}
	if leaf.PublicKey() == nil || leaf.PublicKey().N.Cmp(s.key.PublicKey.N) != 0 || leaf.PublicKey().E != s.key.PublicKey.E {
		return nil, ErrKeyChainMismatch
	}

	return rsa.SignPKCS1v15(rand.Reader, s.key, s.digestAlg, digest)
}

func hashBytes(h crypto.Hash, data []byte) []byte {
	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}

// reSignKey is the renewal state machine from spec.md §4.2. It only fires
// when the chain is exactly one expired self-signed certificate; all three
// preconditions must hold or the expiry is left for Policy to report.
func (s *Signer) reSignKey() error {
	expired := s.chain[0]

	onDiskKey, err := os.ReadFile(s.paths.PrivateKey)
	if err != nil || !bytesEqual(onDiskKey, pem.EncodeRSAPrivateKey(s.key)) {
		return fmt.Errorf("on-disk private key does not match in-memory key, refusing to renew")
	}

	onDiskCert, err := os.ReadFile(s.paths.PublicCert)
	if err != nil || !bytesEqual(onDiskCert, pem.EncodeCertificate(expired.X509())) {
		return fmt.Errorf("on-disk certificate does not match in-memory certificate, refusing to renew")
	}

	archivePath := s.paths.ExpiredCertPath(expired.NotAfter().UTC().Format("20060102150405"))
	if _, err := os.Stat(archivePath); err == nil {
		return fmt.Errorf("archival file %q already exists, refusing to renew twice", archivePath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat archival file %q: %w", archivePath, err)
	}

	if err := os.Rename(s.paths.PublicCert, archivePath); err != nil {
		return fmt.Errorf("archive expired certificate: %w", err)
	}

	successor, err := IssueSelfSigned(s.key, expired.X509().Subject, s.now(), DefaultCertificateLifetime)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.paths.PublicCert, pem.EncodeCertificate(successor), 0o644); err != nil {
		return fmt.Errorf("write renewed certificate: %w", err)
	}

	s.logger.Info("renewed expired self-signed certificate",
		"subject", successor.Subject.String(),
		"archived_to", archivePath,
		"not_after", successor.NotAfter)

	s.chain = CertChain{NewCertificate(successor)}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

