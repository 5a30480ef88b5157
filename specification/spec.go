// Package specification implements the minimal Spec object model quoted as
// an external collaborator in spec.md §6: a structured record of name,
// version, files, and the descriptive fields the package format serializes
// into metadata.gz and reads back. Dependency resolution, repository
// indexes, and the full descriptive schema a real package manager needs are
// explicitly out of this module's scope (spec.md §1); this package supplies
// just enough of the contract for PackageBuilder/PackageReader to exercise.
package specification

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// FormatVersion is the marker MarkVersion stamps onto every Spec this
// module produces, mirroring RubyGems' Gem::Specification format version.
const FormatVersion = 4

// Spec is a package specification: what files it bundles, and (once signed)
// the certificate chain a verifier needs, embedded directly in the metadata
// member rather than looked up out of band.
type Spec struct {
	SpecVersion int       `yaml:"specification_version"`
	Name        string    `yaml:"name"`
	Version     string    `yaml:"version"`
	Platform    string    `yaml:"platform,omitempty"`
	Files       []string  `yaml:"files"`
	Summary     string    `yaml:"summary,omitempty"`
	Date        time.Time `yaml:"date,omitempty"`

	// SigningKey names the key material to sign with. It is never
	// serialized — PackageBuilder clears it on its working copy before
	// calling ToYAML, per spec.md §4.5 step 2.
	SigningKey string `yaml:"-"`

	// CertChainPEM is the signer's certificate chain (closed when the trust
	// store supplied the missing issuers), PEM-per-element, root first. PackageBuilder rewrites this to the Signer's resolved chain
	// before serializing, so a verifier can read it straight back out of
	// metadata.gz without a separate credential lookup.
	CertChainPEM []string `yaml:"cert_chain,omitempty"`
}

// New returns a Spec with the given name, version and files, ready for
// Validate.
func New(name, version string, files []string) *Spec {
	return &Spec{Name: name, Version: version, Files: files}
}

// Validate checks the minimum a buildable spec needs: a name, a version,
// and at least one file.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("specification: name is required")
	}
	if s.Version == "" {
		return fmt.Errorf("specification: version is required")
	}
	if len(s.Files) == 0 {
		return fmt.Errorf("specification: files must be non-empty")
	}
	return nil
}

// MarkVersion stamps SpecVersion with FormatVersion, the way
// Gem::Specification#mark_version stamps the on-disk format version a spec
// was written with.
func (s *Spec) MarkVersion() {
	s.SpecVersion = FormatVersion
}

// Clone returns a deep-enough copy for PackageBuilder to mutate without
// touching the caller's spec — spec.md §9 replaces the original's
// shared-mutable-spec pattern with a builder-local copy.
func (s *Spec) Clone() *Spec {
	clone := *s
	clone.Files = append([]string(nil), s.Files...)
	clone.CertChainPEM = append([]string(nil), s.CertChainPEM...)
	return &clone
}

// ClearSigningKey removes the signing key reference — it must never be
// serialized into the archive.
func (s *Spec) ClearSigningKey() {
	s.SigningKey = ""
}

// ToYAML serializes the spec, the wire format of the metadata member.
func (s *Spec) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// FromYAML deserializes a spec previously produced by ToYAML.
func FromYAML(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse specification yaml: %w", err)
	}
	return &s, nil
}
