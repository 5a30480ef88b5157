// Package dn canonicalizes X.509 distinguished names for chain walking and
// trust lookups.
//
// Certificates round-tripped through PEM do not always produce byte-identical
// pkix.Name values even when they describe the same entity — attribute order
// and escaping can vary between encoders. Chain closure and trust comparisons
// need a stable string form, so this package renders names in RFC 2253 order
// (most specific attribute first) with consistent escaping, rather than
// relying on whatever order encoding/asn1 happened to preserve.
package dn

import (
	"crypto/x509/pkix"
	"fmt"
	"strings"
)

// rfc2253Order lists the attribute OIDs in the order RFC 2253 names them,
// most specific first. Names not covered by this list fall back to whatever
// order pkix.Name.String() already produced for them, appended after.
var rfc2253Order = []struct {
	short string
	get   func(pkix.Name) []string
}{
	{"CN", func(n pkix.Name) []string { return wrap([]string{n.CommonName}) }},
	{"OU", func(n pkix.Name) []string { return n.OrganizationalUnit }},
	{"O", func(n pkix.Name) []string { return n.Organization }},
	{"L", func(n pkix.Name) []string { return wrap(n.Locality[0:min(1, len(n.Locality))]) }},
	{"ST", func(n pkix.Name) []string { return wrap(n.Province[0:min(1, len(n.Province))]) }},
	{"C", func(n pkix.Name) []string { return n.Country }},
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func wrap(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	if s[0] == "" {
		return nil
	}
	return s
}

// Canonical renders a pkix.Name as a stable RFC 2253 string, independent of
// the attribute order the originating encoder produced. Equal names (as
// understood by X.509 chain walking) always render to the same string.
func Canonical(n pkix.Name) string {
	var parts []string
	for _, attr := range rfc2253Order {
		for _, v := range attr.get(n) {
			if v == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", attr.short, escape(v)))
		}
	}
	rest := n
	rest.CommonName = ""
	rest.OrganizationalUnit, rest.Organization, rest.Country = nil, nil, nil
	rest.Locality, rest.Province = nil, nil
	if s := rest.String(); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}

// escape applies the minimal RFC 2253 escaping needed to keep comma- and
// equals-bearing attribute values from being mistaken for separators.
func escape(v string) string {
	var b strings.Builder
	for i, r := range v {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';', '=':
			b.WriteByte('\\')
		case ' ':
			if i == 0 || i == len([]rune(v))-1 {
				b.WriteByte('\\')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Equal reports whether two names canonicalize to the same string.
func Equal(a, b pkix.Name) bool {
	return Canonical(a) == Canonical(b)
}
