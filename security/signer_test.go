package security_test

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509/pkix"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wycats/gems/security"
	"github.com/wycats/gems/security/pem"
)

func TestSigner_Unsigned_SignIsNoOp(t *testing.T) {
	r := require.New(t)
	signer, err := security.NewSigner()
	r.NoError(err)
	r.False(signer.HasKey())

	sig, err := signer.Sign([]byte("payload"))
	r.NoError(err)
	r.Nil(sig)
}

func TestSigner_SignAndVerifyRoundTrip(t *testing.T) {
	r := require.New(t)
	key := mustKey(t)
	cert, err := security.IssueSelfSigned(key, pkix.Name{CommonName: "round trip signer"}, time.Now().Add(-time.Hour), 24*time.Hour)
	r.NoError(err)

	signer, err := security.NewSigner(
		security.WithKey(security.ParsedKey(key)),
		security.WithChain(security.ParsedCert(cert)),
	)
	r.NoError(err)
	r.True(signer.HasKey())

	sig, err := signer.Sign([]byte("payload"))
	r.NoError(err)
	r.NotEmpty(sig)
}

func TestSigner_RejectsMismatchedKeyChain(t *testing.T) {
	r := require.New(t)
	key := mustKey(t)
	otherKey := mustKey(t)
	cert, err := security.IssueSelfSigned(otherKey, pkix.Name{CommonName: "wrong key"}, time.Now().Add(-time.Hour), 24*time.Hour)
	r.NoError(err)

	signer, err := security.NewSigner(
		security.WithKey(security.ParsedKey(key)),
		security.WithChain(security.ParsedCert(cert)),
	)
	r.NoError(err)

	_, err = signer.Sign([]byte("payload"))
	r.ErrorIs(err, security.ErrKeyChainMismatch)
}

func TestSigner_SignDigestDoesNotRehash(t *testing.T) {
	r := require.New(t)
	key := mustKey(t)
	cert, err := security.IssueSelfSigned(key, pkix.Name{CommonName: "digest signer"}, time.Now().Add(-time.Hour), 24*time.Hour)
	r.NoError(err)

	signer, err := security.NewSigner(
		security.WithKey(security.ParsedKey(key)),
		security.WithChain(security.ParsedCert(cert)),
	)
	r.NoError(err)

	h := crypto.SHA256.New()
	h.Write([]byte("member contents"))
	memberDigest := h.Sum(nil)

	sig, err := signer.SignDigest(memberDigest)
	r.NoError(err)
	r.NoError(rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, memberDigest, sig))
}

func TestSigner_ClosesChainViaTrustStore(t *testing.T) {
	r := require.New(t)
	rootKey := mustKey(t)
	rootCert, err := security.IssueSelfSigned(rootKey, pkix.Name{CommonName: "root ca"}, time.Now().Add(-time.Hour), 24*time.Hour)
	r.NoError(err)

	leafKey := mustKey(t)
	leafTemplate, err := security.IssueSelfSigned(leafKey, pkix.Name{CommonName: "leaf signer"}, time.Now().Add(-time.Hour), 24*time.Hour)
	r.NoError(err)

	trustDir := t.TempDir()
	store := security.NewTrustStore(trustDir)
	r.NoError(store.Add(security.NewCertificate(rootCert)))

	// leafTemplate is self-signed by construction; treat it as an open leaf
	// whose issuer subject happens to equal the root's subject so IssuerOf
	// can find it purely by canonical DN, per spec.md §3's chain-walking rule.
	leafTemplate.Issuer = rootCert.Subject

	signer, err := security.NewSigner(
		security.WithKey(security.ParsedKey(leafKey)),
		security.WithChain(security.ParsedCert(leafTemplate)),
		security.WithTrustStore(store),
	)
	r.NoError(err)
	r.Len(signer.Chain(), 2)
	r.True(signer.Chain().Closed())
}

func TestSigner_ResignsExpiredSelfSignedCertificate(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	paths := security.Paths{
		PrivateKey: filepath.Join(dir, "gem-private_key.pem"),
		PublicCert: filepath.Join(dir, "gem-public_cert.pem"),
	}

	key := mustKey(t)
	expired, err := security.IssueSelfSigned(key, pkix.Name{CommonName: "expiring signer"}, time.Now().Add(-48*time.Hour), 24*time.Hour)
	r.NoError(err)

	r.NoError(os.WriteFile(paths.PrivateKey, pem.EncodeRSAPrivateKey(key), 0o600))
	r.NoError(os.WriteFile(paths.PublicCert, pem.EncodeCertificate(expired), 0o644))

	signer, err := security.NewSigner(
		security.WithKey(security.ParsedKey(key)),
		security.WithChain(security.PathCert(paths.PublicCert)),
		security.WithPaths(paths),
	)
	r.NoError(err)

	sig, err := signer.Sign([]byte("payload"))
	r.NoError(err)
	r.NotEmpty(sig)

	renewed := signer.Chain().Leaf()
	r.True(renewed.NotAfter().After(time.Now()))

	archived := paths.ExpiredCertPath(expired.NotAfter.UTC().Format("20060102150405"))
	r.FileExists(archived)
	r.FileExists(paths.PublicCert)

	// Re-running Sign on an already-renewed signer must not attempt another
	// renewal: the chain no longer matches the single-expired-cert trigger.
	sig2, err := signer.Sign([]byte("payload 2"))
	r.NoError(err)
	r.NotEmpty(sig2)

	entries, err := os.ReadDir(dir)
	r.NoError(err)
	archivedCount := 0
	for _, e := range entries {
		if strings.Contains(e.Name(), ".expired.") {
			archivedCount++
		}
	}
	r.Equal(1, archivedCount, "renewal must run exactly once across repeated Sign calls")
}

// TestSigner_SignsUnderStillExpiredCertWhenRenewalPreconditionsFail covers
// spec.md §4.2's stated fallback: when the conventional key/cert files don't
// match what's in memory (here, they don't exist at all), Sign must not fail
// the build — it signs under the still-expired leaf and lets Policy report
// Expired at verify time, so a caller who dropped in a CA-issued cert at the
// conventional path never has it silently overwritten or the build aborted.
func TestSigner_SignsUnderStillExpiredCertWhenRenewalPreconditionsFail(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	paths := security.Paths{
		PrivateKey: filepath.Join(dir, "gem-private_key.pem"),
		PublicCert: filepath.Join(dir, "gem-public_cert.pem"),
	}

	key := mustKey(t)
	expired, err := security.IssueSelfSigned(key, pkix.Name{CommonName: "ca issued signer"}, time.Now().Add(-48*time.Hour), 24*time.Hour)
	r.NoError(err)

	// No files written at paths.PrivateKey/PublicCert: the on-disk-match
	// preconditions in reSignKey cannot hold.
	signer, err := security.NewSigner(
		security.WithKey(security.ParsedKey(key)),
		security.WithChain(security.ParsedCert(expired)),
		security.WithPaths(paths),
	)
	r.NoError(err)

	sig, err := signer.Sign([]byte("payload"))
	r.NoError(err)
	r.NotEmpty(sig)

	r.Equal(expired.NotAfter, signer.Chain().Leaf().NotAfter())
	r.NoFileExists(paths.PublicCert)
}
