package security_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wycats/gems/security"
)

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func selfSignedChain(t *testing.T, key *rsa.PrivateKey, cn string, notBefore time.Time, lifetime time.Duration) security.CertChain {
	t.Helper()
	cert, err := security.IssueSelfSigned(key, pkix.Name{CommonName: cn}, notBefore, lifetime)
	require.NoError(t, err)
	return security.CertChain{security.NewCertificate(cert)}
}

func TestPolicy_NoSecurity_AcceptsUnsigned(t *testing.T) {
	r := require.New(t)
	policy := security.NoSecurity()
	err := policy.Verify(nil, nil, nil, nil, time.Now())
	r.NoError(err)
}

func TestPolicy_AlmostNoSecurity_RejectsEmptyChainWhenDataPresent(t *testing.T) {
	r := require.New(t)
	policy := security.AlmostNoSecurity()
	err := policy.Verify(nil, nil, map[string][]byte{"data.tar.gz": []byte("digest")}, nil, time.Now())
	r.ErrorIs(err, &security.PolicyError{Kind: security.UnsignedRejected})
}

func TestPolicy_LowSecurity_RejectsUnsigned(t *testing.T) {
	r := require.New(t)
	key := mustKey(t)
	chain := selfSignedChain(t, key, "gem signer", time.Now().Add(-time.Hour), 24*time.Hour)

	policy := security.LowSecurity()
	err := policy.Verify(chain, nil, nil, nil, time.Now())
	r.ErrorIs(err, &security.PolicyError{Kind: security.UnsignedRejected})
}

func TestPolicy_LowSecurity_RejectsExpiredSigner(t *testing.T) {
	r := require.New(t)
	key := mustKey(t)
	chain := selfSignedChain(t, key, "gem signer", time.Now().Add(-48*time.Hour), 24*time.Hour)

	sum := sha256.Sum256([]byte("payload"))
	digest := sum[:]
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, 5, digest) // crypto.SHA256 == 5
	r.NoError(err)

	policy := security.LowSecurity()
	err = policy.Verify(chain, nil,
		map[string][]byte{"data.tar.gz": digest},
		map[string][]byte{"data.tar.gz": sig},
		time.Now())
	r.ErrorIs(err, &security.PolicyError{Kind: security.Expired})
}

func TestPolicy_HighSecurity_RequiresTrustedRoot(t *testing.T) {
	r := require.New(t)
	key := mustKey(t)
	chain := selfSignedChain(t, key, "trusted signer", time.Now().Add(-time.Hour), 24*time.Hour)

	sum := sha256.Sum256([]byte("data.tar.gz contents"))
	digest := sum[:]
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, 5, digest)
	r.NoError(err)
	digests := map[string][]byte{"data.tar.gz": digest}
	signatures := map[string][]byte{"data.tar.gz": sig}

	policy := security.HighSecurity(t.TempDir())
	err = policy.Verify(chain, nil, digests, signatures, time.Now())
	r.ErrorIs(err, &security.PolicyError{Kind: security.UntrustedRoot})

	store := security.NewTrustStore(policy.TrustDir)
	r.NoError(store.Add(chain.Root()))

	err = policy.Verify(chain, nil, digests, signatures, time.Now())
	r.NoError(err)
}

func TestPolicy_MediumSecurity_DetectsTamperedData(t *testing.T) {
	r := require.New(t)
	key := mustKey(t)
	chain := selfSignedChain(t, key, "gem signer", time.Now().Add(-time.Hour), 24*time.Hour)

	sum := sha256.Sum256([]byte("original contents"))
	digest := sum[:]
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, 5, digest)
	r.NoError(err)

	policy := security.MediumSecurity()
	tampered := append([]byte(nil), digest...)
	tampered[0] ^= 0xFF

	err = policy.Verify(chain, nil,
		map[string][]byte{"data.tar.gz": tampered},
		map[string][]byte{"data.tar.gz": sig},
		time.Now())
	r.ErrorIs(err, &security.PolicyError{Kind: security.BadSignature})
}

func TestPolicy_MediumSecurity_AcceptsUntrustedRoot(t *testing.T) {
	r := require.New(t)
	key := mustKey(t)
	chain := selfSignedChain(t, key, "gem signer", time.Now().Add(-time.Hour), 24*time.Hour)

	sum := sha256.Sum256([]byte("data.tar.gz contents"))
	digest := sum[:]
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, 5, digest)
	r.NoError(err)

	policy := security.MediumSecurity()
	err = policy.Verify(chain, nil,
		map[string][]byte{"data.tar.gz": digest},
		map[string][]byte{"data.tar.gz": sig},
		time.Now())
	r.NoError(err, "MediumSecurity does not require the root be in a trust store")
}

func TestPolicy_Describe(t *testing.T) {
	r := require.New(t)
	r.Contains(security.HighSecurity("/tmp/trust").Describe(), "root trust")
	r.Contains(security.NoSecurity().Describe(), "no checks")
}
