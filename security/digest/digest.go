// Package digest implements the pass-through digesting I/O wrappers
// (component C4 of the signed package format spec): incrementally hashing
// bytes as they flow through a Writer or Reader, and, on the writer side,
// optionally producing a detached signature over the finished digest.
package digest

import (
	"crypto"
	"encoding/hex"
	"hash"
	"io"
)

// ChunkSize is the streaming block size spec.md mandates throughout: 16 KiB.
const ChunkSize = 16 * 1024

// Signer produces a detached signature over an already-computed digest, or
// (nil, nil) if it holds no key. security.Signer satisfies this interface
// via its SignDigest method; it is spelled out here, rather than imported
// directly, so this package has no dependency on the security package it is
// used from. This must take a finished digest, not raw content — Writer
// only ever has the digest it accumulated incrementally, and signing that
// through a method that hashes its input again would sign SHA256(SHA256(x))
// instead of SHA256(x).
type Signer interface {
	SignDigest(digest []byte) ([]byte, error)
}

// Writer is a pass-through io.WriteCloser bound to one hash instance and
// optionally one Signer. Close does not close the underlying writer — it
// only finalizes the digest and, if a Signer was supplied, computes the
// detached signature over it. Writes after Close are not permitted.
type Writer struct {
	w         io.Writer
	h         hash.Hash
	signer    Signer
	signature []byte
	closed    bool
}

// NewWriter wraps w, hashing every byte written to it with alg. If signer is
// non-nil, Close asks it to sign the finished digest.
func NewWriter(w io.Writer, alg crypto.Hash, signer Signer) *Writer {
	return &Writer{w: w, h: alg.New(), signer: signer}
}

func (dw *Writer) Write(p []byte) (int, error) {
	n, err := dw.w.Write(p)
	if n > 0 {
		dw.h.Write(p[:n])
	}
	return n, err
}

// Close finalizes the digest and, if a Signer is configured, computes its
// detached signature. It is safe to call multiple times; only the first call
// does any work.
func (dw *Writer) Close() error {
	if dw.closed {
		return nil
	}
	dw.closed = true
	if dw.signer == nil {
		return nil
	}
	sig, err := dw.signer.SignDigest(dw.Sum())
	if err != nil {
		return err
	}
	dw.signature = sig
	return nil
}

// Sum returns the binary digest computed so far. Safe to call before or
// after Close.
func (dw *Writer) Sum() []byte { return dw.h.Sum(nil) }

// SumHex returns the hex-encoded digest.
func (dw *Writer) SumHex() string { return hex.EncodeToString(dw.Sum()) }

// Signature returns the detached signature computed on Close, or nil if no
// Signer was configured or the signer held no key.
func (dw *Writer) Signature() []byte { return dw.signature }

// Reader is a pass-through io.Reader bound to one hash instance, feeding
// every byte read from it into the digest.
type Reader struct {
	r io.Reader
	h hash.Hash
}

// NewReader wraps r, hashing every byte read from it with alg.
func NewReader(r io.Reader, alg crypto.Hash) *Reader {
	return &Reader{r: r, h: alg.New()}
}

func (dr *Reader) Read(p []byte) (int, error) {
	n, err := dr.r.Read(p)
	if n > 0 {
		dr.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the binary digest of everything read so far.
func (dr *Reader) Sum() []byte { return dr.h.Sum(nil) }

// SumHex returns the hex-encoded digest.
func (dr *Reader) SumHex() string { return hex.EncodeToString(dr.Sum()) }

// Sum streams r to EOF through alg in ChunkSize blocks and returns the
// binary digest, without needing a Reader wrapper — used where the caller
// has nothing else to do with the bytes but hash them.
func Sum(alg crypto.Hash, r io.Reader) ([]byte, error) {
	h := alg.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
