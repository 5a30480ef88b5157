// Package gempkg implements the outer signed package archive: the
// PackageBuilder that assembles it and the PackageReader that streams,
// verifies, and extracts it.
//
// An archive is an uncompressed tar containing:
//   - metadata.gz: gzip of the YAML-serialized specification.
//   - data.tar.gz: gzip of an inner tar of the payload files.
//   - zero or more <base>.sig: detached RSA signatures over <base>.
//   - zero or more <base>.sum: plaintext "<alg>\t<hex>\n" checksum lines,
//     read for backward-compatibility; the PackageBuilder writes them only
//     when given WithChecksumSidecars.
//
// Every member is scanned exactly once for digesting; metadata.gz and
// data.tar.gz additionally need a second pass (to parse the specification
// and to validate gzip framing, respectively), done by seeking back to the
// member's recorded byte range in the underlying file rather than by
// buffering the member in memory.
package gempkg
