package fetcher

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrMalformedArchive reports an archive that cannot be expanded.
var ErrMalformedArchive = eris.New("malformed archive")

// createFile opens an extracted member for writing.
var createFile = func(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

// ExtractTarGz extracts every regular file of a gzip-compressed tar archive
// into destDir, overwriting existing files. Returns the extracted file paths.
// Symlinks and special entries are skipped.
func ExtractTarGz(archivePath, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, eris.Wrap(err, "tar: open archive")
	}
	defer f.Close() //nolint:errcheck

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedArchive, "tar: gzip header: %v", err)
	}
	defer gz.Close() //nolint:errcheck

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "tar: create destination")
	}

	tr := tar.NewReader(gz)
	var extracted []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, eris.Wrapf(ErrMalformedArchive, "tar: read header: %v", err)
		}

		path, err := extractTarEntry(tr, hdr, destDir)
		if err != nil {
			return extracted, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}

	return extracted, nil
}

// extractTarEntry writes a single entry. Returns the extracted file path, or
// empty string for directories and skipped entries.
func extractTarEntry(tr *tar.Reader, hdr *tar.Header, destDir string) (string, error) {
	// Sanitize against tar slip
	destPath := filepath.Join(destDir, hdr.Name)
	rel, err := filepath.Rel(filepath.Clean(destDir), destPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", eris.Wrapf(ErrMalformedArchive, "tar: illegal path %q", hdr.Name)
	}
	if rel == "." {
		// "./" names destDir itself.
		if hdr.Typeflag == tar.TypeDir {
			return "", nil
		}
		return "", eris.Wrapf(ErrMalformedArchive, "tar: illegal path %q", hdr.Name)
	}

	if hdr.Typeflag == tar.TypeDir {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "tar: create directory")
		}
		return "", nil
	}

	if !hdr.FileInfo().Mode().IsRegular() {
		zap.L().Debug("tar: skipping non-regular entry",
			zap.String("name", hdr.Name),
			zap.String("type", string(hdr.Typeflag)),
		)
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "tar: create parent directory")
	}

	out, err := createFile(destPath)
	if err != nil {
		return "", eris.Wrap(err, "tar: create file")
	}

	if _, err := io.Copy(out, tr); err != nil {
		_ = out.Close()
		return "", eris.Wrapf(ErrMalformedArchive, "tar: write %s: %v", hdr.Name, err)
	}
	if err := out.Close(); err != nil {
		return "", eris.Wrapf(err, "tar: close %s", hdr.Name)
	}

	return destPath, nil
}
