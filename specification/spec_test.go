package specification_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wycats/gems/specification"
)

func TestValidate_RequiresNameVersionFiles(t *testing.T) {
	r := require.New(t)
	r.Error(specification.New("", "1.0.0", []string{"a.rb"}).Validate())
	r.Error(specification.New("gem", "", []string{"a.rb"}).Validate())
	r.Error(specification.New("gem", "1.0.0", nil).Validate())
	r.NoError(specification.New("gem", "1.0.0", []string{"a.rb"}).Validate())
}

func TestClone_DeepCopiesSlices(t *testing.T) {
	r := require.New(t)
	original := specification.New("gem", "1.0.0", []string{"a.rb"})
	original.CertChainPEM = []string{"pem-1"}

	clone := original.Clone()
	clone.Files[0] = "mutated.rb"
	clone.CertChainPEM[0] = "mutated-pem"

	r.Equal("a.rb", original.Files[0])
	r.Equal("pem-1", original.CertChainPEM[0])
}

func TestYAML_RoundTrip(t *testing.T) {
	r := require.New(t)
	spec := specification.New("gem", "1.0.0", []string{"lib/gem.rb"})
	spec.Summary = "a test gem"
	spec.MarkVersion()

	data, err := spec.ToYAML()
	r.NoError(err)

	back, err := specification.FromYAML(data)
	r.NoError(err)
	r.Equal(spec.Name, back.Name)
	r.Equal(spec.Version, back.Version)
	r.Equal(spec.Files, back.Files)
	r.Equal(specification.FormatVersion, back.SpecVersion)
}

func TestYAML_NeverSerializesSigningKey(t *testing.T) {
	r := require.New(t)
	spec := specification.New("gem", "1.0.0", []string{"a.rb"})
	spec.SigningKey = "/home/user/gem-private_key.pem"

	data, err := spec.ToYAML()
	r.NoError(err)
	r.NotContains(string(data), "gem-private_key.pem")
}

func TestClearSigningKey(t *testing.T) {
	r := require.New(t)
	spec := specification.New("gem", "1.0.0", []string{"a.rb"})
	spec.SigningKey = "/home/user/gem-private_key.pem"
	spec.ClearSigningKey()
	r.Empty(spec.SigningKey)
}
