package security

import "fmt"

// PolicyErrorKind enumerates the ways a Policy.Verify can reject a chain,
// key, or set of digests/signatures. It is a closed set: every kind spec.md
// §7 names has a constant here, and Policy never returns a bare error for a
// verification failure — always a *PolicyError.
type PolicyErrorKind string

const (
	UnsignedRejected    PolicyErrorKind = "unsigned_rejected"
	KeyChainMismatch    PolicyErrorKind = "key_chain_mismatch"
	NotYetValid         PolicyErrorKind = "not_yet_valid"
	Expired             PolicyErrorKind = "expired"
	IssuerMismatch      PolicyErrorKind = "issuer_mismatch"
	UntrustedRoot       PolicyErrorKind = "untrusted_root"
	TrustDigestMismatch PolicyErrorKind = "trust_digest_mismatch"
	MissingSignature    PolicyErrorKind = "missing_signature"
	BadSignature        PolicyErrorKind = "bad_signature"
	NonSelfSignedRoot   PolicyErrorKind = "non_self_signed_root"
)

// PolicyError reports why Policy.Verify rejected a chain. Policy and Subject
// carry enough context (which policy, which certificate/member) to make the
// error actionable without the caller re-deriving it from Kind alone.
type PolicyError struct {
	Kind    PolicyErrorKind
	Policy  string
	Subject string
	Err     error
}

func (e *PolicyError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("policy %q: %s", e.Policy, e.Kind)
	}
	return fmt.Sprintf("policy %q: %s: %s", e.Policy, e.Kind, e.Subject)
}

func (e *PolicyError) Unwrap() error { return e.Err }

// Is reports whether target is a *PolicyError with the same Kind, so callers
// can write errors.Is(err, &security.PolicyError{Kind: security.Expired}).
func (e *PolicyError) Is(target error) bool {
	other, ok := target.(*PolicyError)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// FormatError reports a malformed outer archive: a missing required member,
// invalid gzip/tar framing, or a checksum mismatch. Path is the archive file
// path; Member is the offending member name when one is known.
type FormatError struct {
	Path   string
	Member string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Member, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// PathError reports an extraction target that would escape the destination
// directory, whether the archive member name is relative or absolute.
type PathError struct {
	Name        string
	Destination string
	Err         error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("install %q into %q: %s", e.Name, e.Destination, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// ErrKeyChainMismatch is returned by Signer.Sign when the leaf
// certificate's public key does not match the signing key's public key.
var ErrKeyChainMismatch = fmt.Errorf("leaf certificate public key does not match signing key")
