package gempkg

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/wycats/gems/security"
	"github.com/wycats/gems/specification"
)

// legacyMarker is the first bytes of a pre-X.509 RubyGems package, whose
// checksum sidecar format this reader does not implement (spec.md §4.6:
// "dispatch to a legacy reader, not specified here").
const legacyMarker = "MD5SUM ="

// ErrLegacyFormat is returned by Open when the archive is in the old
// MD5SUM-based format instead of the signed format this package reads.
var ErrLegacyFormat = errors.New("gempkg: legacy MD5SUM package format is not supported by this reader")

// memberRange records where a member's content lives in the outer tar file,
// so it can be re-read (rewound) without buffering it in memory.
type memberRange struct {
	offset int64
	size   int64
	mode   int64
}

// PackageReader streams an outer archive, collecting digests, signatures
// and checksums as it goes, and can verify and extract the result.
type PackageReader struct {
	path   string
	policy *security.Policy
	logger *slog.Logger
	now    func() time.Time

	file *os.File

	files      []string
	digests    map[string]memberDigests
	signatures map[string][]byte
	checksums  map[string][2]string // member -> [algorithm, hex]
	ranges     map[string]memberRange
	spec       *specification.Spec
	sawData    bool
}

// ReaderOption configures Open.
type ReaderOption func(*PackageReader)

// WithPolicy attaches a security policy; Verify calls policy.VerifySignatures
// against the chain embedded in the spec. Without a policy, .sig sidecars
// are skipped entirely (spec.md §4.6 step 2: "if a security policy is
// attached, store the body ... ; continue").
func WithPolicy(p security.Policy) ReaderOption {
	return func(r *PackageReader) { r.policy = &p }
}

// WithReaderLogger overrides the default logger.
func WithReaderLogger(l *slog.Logger) ReaderOption {
	return func(r *PackageReader) { r.logger = l }
}

// WithReaderClock overrides the time source Verify captures at entry.
func WithReaderClock(now func() time.Time) ReaderOption {
	return func(r *PackageReader) { r.now = now }
}

// Open opens path for streaming. It does not scan the archive yet — that
// happens on the first Verify call.
func Open(path string, opts ...ReaderOption) (*PackageReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open package %q: %w", path, err)
	}

	head := make([]byte, 20)
	n, _ := f.Read(head)
	if strings.Contains(string(head[:n]), legacyMarker) {
		f.Close()
		return nil, ErrLegacyFormat
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek package %q: %w", path, err)
	}

	r := &PackageReader{
		path:       path,
		file:       f,
		logger:     slog.Default(),
		now:        time.Now,
		digests:    map[string]memberDigests{},
		signatures: map[string][]byte{},
		checksums:  map[string][2]string{},
		ranges:     map[string]memberRange{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close releases the underlying file handle.
func (r *PackageReader) Close() error { return r.file.Close() }

// Spec returns the deserialized specification, valid only after Verify.
func (r *PackageReader) Spec() *specification.Spec { return r.spec }

// Files lists every member name encountered in the outer archive.
func (r *PackageReader) Files() []string { return r.files }

// Verify performs the single-pass scan (if not already done) and runs
// checksum cross-checks and, if a policy is attached, signature policy
// evaluation, per spec.md §4.6.
func (r *PackageReader) Verify() error {
	if r.spec == nil {
		if err := r.scan(); err != nil {
			return err
		}
	}

	if r.spec == nil {
		return &security.FormatError{Path: r.path, Err: fmt.Errorf("package metadata is missing")}
	}
	if !r.sawData {
		return &security.FormatError{Path: r.path, Err: fmt.Errorf("package content missing")}
	}

	if err := r.verifyChecksums(); err != nil {
		return err
	}

	if r.policy != nil {
		primary := make(map[string][]byte, len(r.digests))
		for name, algs := range r.digests {
			if sum, ok := algs[defaultDigestAlgorithmName]; ok {
				primary[name] = sum
			}
		}
		if err := r.policy.VerifySignatures(r.spec.CertChainPEM, primary, r.signatures, r.now()); err != nil {
			return err
		}
	}

	return nil
}

// scan performs the single forward pass over the outer tar, per spec.md
// §4.6 step 2: classify each entry, hash payload members under every
// tracked algorithm, and stash .sig/.sum bodies. metadata and data.tar.gz
// additionally get a second, rewound pass to parse/validate their content.
func (r *PackageReader) scan() error {
	tr := tar.NewReader(r.file)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &security.FormatError{Path: r.path, Err: fmt.Errorf("read outer tar: %w", err)}
		}

		name := hdr.Name
		r.files = append(r.files, name)

		offset, err := r.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return &security.FormatError{Path: r.path, Member: name, Err: err}
		}
		r.ranges[name] = memberRange{offset: offset, size: hdr.Size, mode: hdr.Mode}

		switch {
		case strings.HasSuffix(name, ".sig"):
			if r.policy != nil {
				body, err := io.ReadAll(tr)
				if err != nil {
					return &security.FormatError{Path: r.path, Member: name, Err: err}
				}
				r.signatures[strings.TrimSuffix(name, ".sig")] = body
			}
			continue
		case strings.HasSuffix(name, ".sum"):
			body, err := io.ReadAll(tr)
			if err != nil {
				return &security.FormatError{Path: r.path, Member: name, Err: err}
			}
			alg, hexDigest, err := parseChecksumLine(body)
			if err != nil {
				return &security.FormatError{Path: r.path, Member: name, Err: err}
			}
			r.checksums[strings.TrimSuffix(name, ".sum")] = [2]string{alg, hexDigest}
			continue
		}

		digests, err := multiDigest(tr)
		if err != nil {
			return &security.FormatError{Path: r.path, Member: name, Err: err}
		}
		r.digests[name] = digests

		switch name {
		case "metadata", "metadata.gz":
			spec, err := r.readSpec(name, offset, hdr.Size)
			if err != nil {
				return err
			}
			r.spec = spec
		case "data.tar.gz":
			if err := r.checkGzipFraming(offset, hdr.Size); err != nil {
				return err
			}
			r.sawData = true
		}
	}
	return nil
}

// multiDigest hashes r to EOF under every algorithm in digestAlgorithms in
// one streaming pass, using io.MultiWriter so the bytes are read once
// regardless of how many algorithms are tracked.
func multiDigest(r io.Reader) (memberDigests, error) {
	writers := make([]io.Writer, 0, len(digestAlgorithms))
	sums := map[string]func([]byte) []byte{}
	for name, alg := range digestAlgorithms {
		h := alg.New()
		writers = append(writers, h)
		sums[name] = h.Sum
	}
	buf := make([]byte, 16*1024)
	if _, err := io.CopyBuffer(io.MultiWriter(writers...), r, buf); err != nil {
		return nil, err
	}
	out := make(memberDigests, len(digestAlgorithms))
	for name, sum := range sums {
		out[name] = sum(nil)
	}
	return out, nil
}

// rewind returns a fresh reader over a member's recorded byte range.
func (r *PackageReader) rewind(name string) (io.Reader, error) {
	rng, ok := r.ranges[name]
	if !ok {
		return nil, fmt.Errorf("no recorded range for member %q", name)
	}
	return io.NewSectionReader(r.file, rng.offset, rng.size), nil
}

func (r *PackageReader) readSpec(name string, offset, size int64) (*specification.Spec, error) {
	sr, err := r.rewind(name)
	if err != nil {
		return nil, &security.FormatError{Path: r.path, Member: name, Err: err}
	}
	var raw io.Reader = sr
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(sr)
		if err != nil {
			return nil, &security.FormatError{Path: r.path, Member: name, Err: fmt.Errorf("gzip: %w", err)}
		}
		defer gz.Close()
		raw = gz
	}
	data, err := io.ReadAll(raw)
	if err != nil {
		return nil, &security.FormatError{Path: r.path, Member: name, Err: fmt.Errorf("read metadata: %w", err)}
	}
	spec, err := specification.FromYAML(data)
	if err != nil {
		return nil, &security.FormatError{Path: r.path, Member: name, Err: err}
	}
	return spec, nil
}

// checkGzipFraming rewinds to data.tar.gz's range and reads it to EOF
// through gzip, surfacing CRC/format failures without extracting anything —
// extraction happens separately in ExtractFiles.
func (r *PackageReader) checkGzipFraming(offset, size int64) error {
	sr, err := r.rewind("data.tar.gz")
	if err != nil {
		return &security.FormatError{Path: r.path, Member: "data.tar.gz", Err: err}
	}
	gz, err := gzip.NewReader(sr)
	if err != nil {
		return &security.FormatError{Path: r.path, Member: "data.tar.gz", Err: fmt.Errorf("gzip: %w", err)}
	}
	defer gz.Close()
	if _, err := io.Copy(io.Discard, gz); err != nil {
		return &security.FormatError{Path: r.path, Member: "data.tar.gz", Err: fmt.Errorf("gzip integrity: %w", err)}
	}
	return nil
}

// verifyChecksums cross-checks every recorded .sum sidecar against the
// recomputed digest under the matching algorithm. Missing checksums are
// ignored; they are advisory only, never security-bearing (spec.md §4.6
// step 4).
func (r *PackageReader) verifyChecksums() error {
	for member, want := range r.checksums {
		alg, wantHex := want[0], want[1]
		digests, ok := r.digests[member]
		if !ok {
			continue
		}
		gotHex, ok := digests.hex(strings.ToUpper(alg))
		if !ok {
			// Unknown algorithm: advisory sidecar we can't cross-check.
			continue
		}
		if gotHex != wantHex {
			return &security.FormatError{Path: r.path, Member: member, Err: fmt.Errorf("checksum mismatch for %s", member)}
		}
	}
	return nil
}

