package gempkg

import (
	"crypto"
	"fmt"
	"strings"
)

// digestAlgorithms lists the digesters this package can cross-check a .sum
// sidecar against. spec.md §9 flags algorithm agility as an open question:
// the source only ever matched the single default digest's name, but the
// "<alg>\t<hex>" format implies more than one algorithm can coexist. We
// resolve that by hashing every scanned member under all of these
// algorithms in the same streaming pass (see multiDigest), so a .sum
// entry naming any of them can be cross-checked without a second read.
var digestAlgorithms = map[string]crypto.Hash{
	"SHA256": crypto.SHA256,
	"SHA512": crypto.SHA512,
	"SHA1":   crypto.SHA1,
	"MD5":    crypto.MD5,
}

// defaultDigestAlgorithmName is the .sum algorithm name matching the
// module-wide default digest algorithm (spec.md §6: SHA-256).
const defaultDigestAlgorithmName = "SHA256"

// memberDigests holds one member's digest under every algorithm in
// digestAlgorithms, computed in a single streaming pass via multiDigest.
type memberDigests map[string][]byte // algorithm name -> binary digest

func (m memberDigests) hex(alg string) (string, bool) {
	sum, ok := m[alg]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%x", sum), true
}

// parseChecksumLine parses a ".sum" sidecar body of the form "<alg>\t<hex>\n".
func parseChecksumLine(body []byte) (alg, hexDigest string, err error) {
	line := strings.TrimRight(string(body), "\n")
	parts := strings.SplitN(line, "\t", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed checksum line %q, want \"<alg>\\t<hex>\"", line)
	}
	return parts[0], parts[1], nil
}
