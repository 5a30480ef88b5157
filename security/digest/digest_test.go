package digest_test

import (
	"bytes"
	"crypto"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wycats/gems/security/digest"
)

type fakeSigner struct {
	sig []byte
	err error
}

func (f *fakeSigner) SignDigest(digest []byte) ([]byte, error) { return f.sig, f.err }

func TestWriter_HashesAndSigns(t *testing.T) {
	r := require.New(t)
	var out bytes.Buffer
	signer := &fakeSigner{sig: []byte("signature")}

	w := digest.NewWriter(&out, crypto.SHA256, signer)
	n, err := w.Write([]byte("hello world"))
	r.NoError(err)
	r.Equal(11, n)
	r.NoError(w.Close())

	r.Equal("hello world", out.String())
	r.NotEmpty(w.Sum())
	r.Equal("signature", string(w.Signature()))
}

func TestWriter_NilSignerLeavesSignatureNil(t *testing.T) {
	r := require.New(t)
	var out bytes.Buffer
	w := digest.NewWriter(&out, crypto.SHA256, nil)
	_, err := w.Write([]byte("data"))
	r.NoError(err)
	r.NoError(w.Close())
	r.Nil(w.Signature())
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	r := require.New(t)
	var out bytes.Buffer
	calls := 0
	signer := &fakeSigner{sig: []byte("sig")}
	countingSigner := signerFunc(func(digest []byte) ([]byte, error) {
		calls++
		return signer.SignDigest(digest)
	})

	w := digest.NewWriter(&out, crypto.SHA256, countingSigner)
	_, _ = w.Write([]byte("x"))
	r.NoError(w.Close())
	r.NoError(w.Close())
	r.Equal(1, calls)
}

func TestWriter_PropagatesSignerError(t *testing.T) {
	r := require.New(t)
	var out bytes.Buffer
	w := digest.NewWriter(&out, crypto.SHA256, &fakeSigner{err: errors.New("boom")})
	_, _ = w.Write([]byte("x"))
	r.ErrorContains(w.Close(), "boom")
}

func TestReader_Hashes(t *testing.T) {
	r := require.New(t)
	src := bytes.NewReader([]byte("hello world"))
	dr := digest.NewReader(src, crypto.SHA256)

	buf := make([]byte, 4)
	total := 0
	for {
		n, err := dr.Read(buf)
		total += n
		if err != nil {
			break
		}
	}
	r.Equal(11, total)
	r.NotEmpty(dr.SumHex())
}

func TestSum_MatchesWriterDigest(t *testing.T) {
	r := require.New(t)
	var out bytes.Buffer
	w := digest.NewWriter(&out, crypto.SHA256, nil)
	_, _ = w.Write([]byte("consistent"))
	_ = w.Close()

	sum, err := digest.Sum(crypto.SHA256, bytes.NewReader([]byte("consistent")))
	r.NoError(err)
	r.Equal(w.Sum(), sum)
}

type signerFunc func([]byte) ([]byte, error)

func (f signerFunc) SignDigest(digest []byte) ([]byte, error) { return f(digest) }
