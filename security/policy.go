package security

import (
	"crypto"
	"crypto/rsa"
	"fmt"
	"time"
)

// Policy is a named bundle of verification toggles. The booleans have no
// default of their own: a zero Policy enables no check, and each of the five
// named presets below sets them explicitly. The presets are the closed set
// spec.md §4.3 mandates implementers instantiate exactly.
type Policy struct {
	Name string

	OnlySigned  bool
	OnlyTrusted bool
	VerifyChain bool
	VerifyData  bool
	VerifyRoot  bool
	VerifySigner bool

	TrustDir string

	// DigestAlgorithm is the hash algorithm per-file data signatures were
	// produced over. Defaults to crypto.SHA256 (the zero value) via
	// hashOrDefault, matching the module-wide default digest algorithm.
	DigestAlgorithm crypto.Hash
}

func (p Policy) hashOrDefault() crypto.Hash {
	if p.DigestAlgorithm == 0 {
		return crypto.SHA256
	}
	return p.DigestAlgorithm
}

// NoSecurity performs no checks at all and accepts unsigned packages.
func NoSecurity() Policy {
	return Policy{Name: "NoSecurity", OnlySigned: false}
}

// AlmostNoSecurity verifies only that per-file data signatures match.
func AlmostNoSecurity() Policy {
	return Policy{Name: "AlmostNoSecurity", OnlySigned: false, VerifyData: true}
}

// LowSecurity verifies data and the signer certificate's validity window.
func LowSecurity() Policy {
	return Policy{Name: "LowSecurity", OnlySigned: true, VerifyData: true, VerifySigner: true}
}

// MediumSecurity additionally verifies the whole certificate chain.
func MediumSecurity() Policy {
	return Policy{
		Name: "MediumSecurity", OnlySigned: true,
		VerifyData: true, VerifySigner: true, VerifyChain: true,
	}
}

// HighSecurity verifies everything, including that the root is both
// self-signed and present in the trust store.
func HighSecurity(trustDir string) Policy {
	return Policy{
		Name: "HighSecurity", OnlySigned: true, OnlyTrusted: true,
		VerifyChain: true, VerifyData: true, VerifyRoot: true, VerifySigner: true,
		TrustDir: trustDir,
	}
}

// Describe returns a one-line human-readable summary of the checks this
// policy performs, for audit logging when a build or verify is denied.
func (p Policy) Describe() string {
	var checks []string
	if p.OnlySigned {
		checks = append(checks, "require signature")
	}
	if p.VerifySigner {
		checks = append(checks, "signer validity")
	}
	if p.VerifyChain {
		checks = append(checks, "chain integrity")
	}
	if p.VerifyRoot {
		checks = append(checks, "self-signed root")
	}
	if p.OnlyTrusted {
		checks = append(checks, "root trust")
	}
	if p.VerifyData {
		checks = append(checks, "per-file data signatures")
	}
	if len(checks) == 0 {
		return fmt.Sprintf("%s: no checks", p.Name)
	}
	summary := checks[0]
	for _, c := range checks[1:] {
		summary += ", " + c
	}
	return fmt.Sprintf("%s: %s", p.Name, summary)
}

// Verify runs the algorithm in spec.md §4.3 against chain, an optional
// signing key (checked for leaf match when present), and the digests and
// signatures collected from an archive scan. now is captured once by the
// caller and used for every validity-window check in this call.
func (p Policy) Verify(chain CertChain, key *rsa.PublicKey, digests map[string][]byte, signatures map[string][]byte, now time.Time) error {
	if p.OnlySigned && len(signatures) == 0 {
		return p.err(UnsignedRejected, "")
	}

	signer := chain.Leaf()
	needsSigner := key != nil || p.VerifySigner || p.VerifyChain || p.VerifyRoot || p.OnlyTrusted || (p.VerifyData && len(digests) > 0)
	if signer == nil {
		if needsSigner {
			return p.err(UnsignedRejected, "certificate chain is empty")
		}
		return nil
	}

	if key != nil {
		if err := p.checkKey(signer, key); err != nil {
			return err
		}
	}

	if p.VerifySigner {
		if err := p.checkCert(signer, nil, now); err != nil {
			return err
		}
	}

	if p.VerifyChain {
		for _, pair := range chain.adjacentPairs() {
			issuer, cert := pair[0], pair[1]
			if err := p.checkCert(cert, issuer, now); err != nil {
				return err
			}
		}
	}

	if p.VerifyRoot {
		if err := p.checkRoot(chain, now); err != nil {
			return err
		}
	}

	if p.OnlyTrusted {
		if err := p.checkTrust(chain); err != nil {
			return err
		}
	}

	if p.VerifyData {
		for name, digest := range digests {
			sig, ok := signatures[name]
			if !ok {
				return p.err(MissingSignature, name)
			}
			if err := rsa.VerifyPKCS1v15(signer.PublicKey(), p.hashOrDefault(), digest, sig); err != nil {
				return p.err(BadSignature, name)
			}
		}
	}

	return nil
}

func (p Policy) checkKey(signer *Certificate, key *rsa.PublicKey) error {
	pub := signer.PublicKey()
	if pub == nil || pub.N.Cmp(key.N) != 0 || pub.E != key.E {
		return p.err(KeyChainMismatch, signer.Subject())
	}
	return nil
}

// checkCert validates signer's validity window and, if issuer is non-nil,
// that signer was signed by issuer.
func (p Policy) checkCert(signer *Certificate, issuer *Certificate, now time.Time) error {
	if signer.NotBefore().After(now) {
		return p.err(NotYetValid, signer.Subject())
	}
	if signer.NotAfter().Before(now) {
		return p.err(Expired, signer.Subject())
	}
	if issuer != nil && !signer.VerifiedBy(issuer) {
		return p.err(IssuerMismatch, signer.Subject())
	}
	return nil
}

func (p Policy) checkRoot(chain CertChain, now time.Time) error {
	root := chain.Root()
	if root == nil || !root.IsSelfSigned() {
		return p.err(NonSelfSignedRoot, "")
	}
	return p.checkCert(root, root, now)
}

func (p Policy) checkTrust(chain CertChain) error {
	root := chain.Root()
	store := NewTrustStore(p.TrustDir)
	stored, ok := store.Lookup(root)
	if !ok {
		return p.err(UntrustedRoot, root.Subject())
	}
	if stored.FingerprintPublicKey() != root.FingerprintPublicKey() {
		return p.err(TrustDigestMismatch, root.Subject())
	}
	return nil
}

// VerifySignatures parses a chain out of chainPEM (one PEM-encoded
// certificate per element, root first) and calls Verify with it. This is the
// entry point PackageReader uses: the chain travels with the package's
// metadata rather than being supplied out of band.
func (p Policy) VerifySignatures(chainPEM []string, digests map[string][]byte, signatures map[string][]byte, now time.Time) error {
	chain, err := parseChainPEM(chainPEM)
	if err != nil {
		return fmt.Errorf("parse embedded certificate chain: %w", err)
	}
	return p.Verify(chain, nil, digests, signatures, now)
}

func (p Policy) err(kind PolicyErrorKind, subject string) *PolicyError {
	return &PolicyError{Kind: kind, Policy: p.Name, Subject: subject}
}
