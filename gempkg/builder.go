package gempkg

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wycats/gems/security"
	"github.com/wycats/gems/security/digest"
	"github.com/wycats/gems/specification"
)

// outer tar member names, fixed by spec.md §4.5.
const (
	memberMetadata = "metadata.gz"
	memberData     = "data.tar.gz"
)

// PackageBuilder assembles a signed package archive from a specification and
// a root directory of payload files (component C5).
type PackageBuilder struct {
	spec       *specification.Spec
	sourceDir  string
	key        *security.KeySource
	chain      []security.CertSource
	trust      *security.TrustStore
	paths      security.Paths
	logger     *slog.Logger
	now        func() time.Time
	sidecarSum bool
}

// BuilderOption configures NewBuilder.
type BuilderOption func(*PackageBuilder)

// WithSigningKey overrides the spec's SigningKey field as the key source.
func WithSigningKey(src security.KeySource) BuilderOption {
	return func(b *PackageBuilder) { b.key = &src }
}

// WithSigningChain overrides the spec's embedded CertChainPEM as the chain
// source used to construct the Signer.
func WithSigningChain(src ...security.CertSource) BuilderOption {
	return func(b *PackageBuilder) { b.chain = src }
}

// WithBuilderTrustStore supplies a trust store the Signer uses to close an
// open chain by walking issuers.
func WithBuilderTrustStore(t *security.TrustStore) BuilderOption {
	return func(b *PackageBuilder) { b.trust = t }
}

// WithBuilderPaths overrides the conventional key/cert filesystem locations.
func WithBuilderPaths(p security.Paths) BuilderOption {
	return func(b *PackageBuilder) { b.paths = p }
}

// WithBuilderLogger overrides the default logger.
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(b *PackageBuilder) { b.logger = l }
}

// WithBuilderClock overrides the time source used for expiry-driven
// re-signing during Build.
func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *PackageBuilder) { b.now = now }
}

// WithChecksumSidecars additionally emits legacy ".sum" sidecars alongside
// the ".sig" ones this package always writes when signed. Builder never does
// this by default (spec.md §4.5): it exists only to interoperate with
// installers still on the pre-signing checksum format during a migration
// window.
func WithChecksumSidecars() BuilderOption {
	return func(b *PackageBuilder) { b.sidecarSum = true }
}

// NewBuilder returns a builder for spec, whose payload files are read
// relative to sourceDir.
func NewBuilder(spec *specification.Spec, sourceDir string, opts ...BuilderOption) *PackageBuilder {
	b := &PackageBuilder{
		spec:      spec,
		sourceDir: sourceDir,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates the spec, signs it if key material is available, and
// writes the resulting archive to destPath, per spec.md §4.5.
func (b *PackageBuilder) Build(destPath string) error {
	clone := b.spec.Clone()
	if err := clone.Validate(); err != nil {
		return fmt.Errorf("invalid specification: %w", err)
	}
	clone.MarkVersion()

	signer, err := b.buildSigner(clone)
	if err != nil {
		return fmt.Errorf("construct signer: %w", err)
	}

	clone.ClearSigningKey()
	// Even an unsigned Signer may have resolved a chain from the conventional
	// public-cert path; attach it so verifiers can still display it.
	if chain := signer.Chain(); len(chain) > 0 {
		clone.CertChainPEM = chain.PEMStrings()
	} else {
		clone.CertChainPEM = nil
	}

	metadataGz, err := b.buildMetadata(clone)
	if err != nil {
		return err
	}

	dataPath, _, err := b.buildData(clone)
	if err != nil {
		return err
	}
	defer os.Remove(dataPath)

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create package %q: %w", destPath, err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	defer tw.Close()

	metaDigest, metaSig, err := b.writeMember(tw, memberMetadata, metadataGz.Bytes(), signer)
	if err != nil {
		return err
	}
	if err := b.writeSidecars(tw, memberMetadata, metaDigest, metaSig); err != nil {
		return err
	}

	dataFile, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("reopen data archive: %w", err)
	}
	defer dataFile.Close()
	dataInfo, err := dataFile.Stat()
	if err != nil {
		return fmt.Errorf("stat data archive: %w", err)
	}

	dataDigest, dataSig, err := b.writeStreamMember(tw, memberData, dataFile, dataInfo.Size(), signer)
	if err != nil {
		return err
	}
	if err := b.writeSidecars(tw, memberData, dataDigest, dataSig); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// buildSigner constructs the Signer that will sign both archive members. A
// spec without SigningKey/CertChainPEM (and no override options) yields an
// unsigned Signer that Sign()s as a no-op, per spec.md §4.2.
func (b *PackageBuilder) buildSigner(clone *specification.Spec) (*security.Signer, error) {
	opts := []security.SignerOption{
		security.WithPaths(b.paths),
		security.WithLogger(b.logger),
		security.WithClock(b.now),
	}
	if b.trust != nil {
		opts = append(opts, security.WithTrustStore(b.trust))
	}

	if b.key != nil {
		opts = append(opts, security.WithKey(*b.key))
	} else if clone.SigningKey != "" {
		opts = append(opts, security.WithKey(security.PathKey(clone.SigningKey)))
	}

	if b.chain != nil {
		opts = append(opts, security.WithChain(b.chain...))
	} else if len(clone.CertChainPEM) > 0 {
		sources := make([]security.CertSource, len(clone.CertChainPEM))
		for i, pem := range clone.CertChainPEM {
			sources[i] = security.PEMCert([]byte(pem))
		}
		opts = append(opts, security.WithChain(sources...))
	}

	return security.NewSigner(opts...)
}

// buildMetadata serializes and gzips clone, fully materializing it in memory
// since its size must be known before the outer tar header is written.
func (b *PackageBuilder) buildMetadata(clone *specification.Spec) (*bytes.Buffer, error) {
	yamlBytes, err := clone.ToYAML()
	if err != nil {
		return nil, fmt.Errorf("serialize specification: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(yamlBytes); err != nil {
		return nil, fmt.Errorf("gzip metadata: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip metadata: %w", err)
	}
	return &buf, nil
}

// buildData streams every file named in clone.Files into a gzip-compressed
// inner tar, written to a temp file so its final size is known before the
// outer tar header is emitted. The caller owns removing the temp file.
func (b *PackageBuilder) buildData(clone *specification.Spec) (path string, size int64, err error) {
	tmp, err := os.CreateTemp("", "gempkg-data-"+uuid.NewString()+"-*.tar.gz")
	if err != nil {
		return "", 0, fmt.Errorf("create temporary data archive: %w", err)
	}
	defer tmp.Close()

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	for _, name := range clone.Files {
		if err := b.addFile(tw, name); err != nil {
			os.Remove(tmp.Name())
			return "", 0, err
		}
	}

	if err := tw.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("finalize inner tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("finalize data gzip: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("stat temporary data archive: %w", err)
	}
	return tmp.Name(), info.Size(), nil
}

func (b *PackageBuilder) addFile(tw *tar.Writer, name string) error {
	fullPath := filepath.Join(b.sourceDir, name)
	info, err := os.Stat(fullPath)
	if err != nil {
		return fmt.Errorf("stat payload file %q: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("payload file %q is not a regular file", name)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("build tar header for %q: %w", name, err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return fmt.Errorf("open payload file %q: %w", name, err)
	}
	defer f.Close()

	buf := make([]byte, digest.ChunkSize)
	if _, err := io.CopyBuffer(tw, f, buf); err != nil {
		return fmt.Errorf("write payload file %q: %w", name, err)
	}
	return nil
}

// writeMember writes body as a tar member and, if signer holds a key,
// returns the detached signature over it alongside the digest.
func (b *PackageBuilder) writeMember(tw *tar.Writer, name string, body []byte, signer *security.Signer) (digestBytes, sigBytes []byte, err error) {
	return b.writeStreamMember(tw, name, bytes.NewReader(body), int64(len(body)), signer)
}

// writeStreamMember copies r (of the given size) into a tar member named
// name, digesting it as it streams through, then signs the finished digest.
func (b *PackageBuilder) writeStreamMember(tw *tar.Writer, name string, r io.Reader, size int64, signer *security.Signer) (digestBytes, sigBytes []byte, err error) {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     size,
		Typeflag: tar.TypeReg,
		ModTime:  b.now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, nil, fmt.Errorf("write tar header for %q: %w", name, err)
	}

	dw := digest.NewWriter(tw, signer.DigestAlgorithm(), signer)
	buf := make([]byte, digest.ChunkSize)
	if _, err := io.CopyBuffer(dw, r, buf); err != nil {
		return nil, nil, fmt.Errorf("write member %q: %w", name, err)
	}
	if err := dw.Close(); err != nil {
		return nil, nil, fmt.Errorf("sign member %q: %w", name, err)
	}
	return dw.Sum(), dw.Signature(), nil
}

// writeSidecars emits <name>.sig (when signed) and, if requested,
// <name>.sum, per spec.md §4.5's fixed ordering: each member is immediately
// followed by its own sidecars before the next member begins.
func (b *PackageBuilder) writeSidecars(tw *tar.Writer, name string, digestBytes, sigBytes []byte) error {
	if sigBytes != nil {
		if err := writeSmallMember(tw, name+".sig", sigBytes, b.now()); err != nil {
			return err
		}
	}
	if b.sidecarSum {
		line := []byte(fmt.Sprintf("%s\t%x\n", defaultDigestAlgorithmName, digestBytes))
		if err := writeSmallMember(tw, name+".sum", line, b.now()); err != nil {
			return err
		}
	}
	return nil
}

func writeSmallMember(tw *tar.Writer, name string, body []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(body)),
		Typeflag: tar.TypeReg,
		ModTime:  modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := tw.Write(body); err != nil {
		return fmt.Errorf("write member %q: %w", name, err)
	}
	return nil
}
