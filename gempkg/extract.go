package gempkg

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wycats/gems/security"
)

// ExtractFiles verifies the package (if Verify has not already run) and
// unpacks data.tar.gz's members under destDir, rejecting any member whose
// name would place it outside destDir (spec.md §7).
func (r *PackageReader) ExtractFiles(destDir string) error {
	if r.spec == nil {
		if err := r.Verify(); err != nil {
			return err
		}
	}

	sr, err := r.rewind(memberData)
	if err != nil {
		return &security.FormatError{Path: r.path, Member: memberData, Err: err}
	}
	gz, err := gzip.NewReader(sr)
	if err != nil {
		return &security.FormatError{Path: r.path, Member: memberData, Err: fmt.Errorf("gzip: %w", err)}
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &security.FormatError{Path: r.path, Member: memberData, Err: fmt.Errorf("read inner tar: %w", err)}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dest, err := installLocation(hdr.Name, destDir)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create directory for %q: %w", hdr.Name, err)
		}
		if err := extractOne(dest, tr, os.FileMode(hdr.Mode)); err != nil {
			return fmt.Errorf("extract %q: %w", hdr.Name, err)
		}
	}
	return nil
}

// installLocation joins name under destDir, rejecting any result that would
// escape destDir. An absolute name is accepted only when it already
// canonicalizes to a path inside destDir — this is what makes the function
// idempotent: re-applying it to its own prior output (which is necessarily
// absolute) must return that same output unchanged, rather than reject it.
func installLocation(name, destDir string) (string, error) {
	destDir = filepath.Clean(destDir)

	if filepath.IsAbs(name) {
		clean := filepath.Clean(name)
		if clean == destDir || strings.HasPrefix(clean, destDir+string(filepath.Separator)) {
			return clean, nil
		}
		return "", &security.PathError{Name: name, Destination: destDir, Err: fmt.Errorf("absolute path escapes destination")}
	}

	joined := filepath.Clean(filepath.Join(destDir, name))
	if joined != destDir && !strings.HasPrefix(joined, destDir+string(filepath.Separator)) {
		return "", &security.PathError{Name: name, Destination: destDir, Err: fmt.Errorf("path escapes destination")}
	}
	return joined, nil
}

func extractOne(dest string, r io.Reader, mode os.FileMode) error {
	if _, err := os.Lstat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("remove existing file: %w", err)
		}
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 16*1024)
	if _, err := io.CopyBuffer(f, r, buf); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	// Best-effort durability; a failed fsync should not fail an otherwise
	// successful extraction.
	fsync(f)
	return nil
}
