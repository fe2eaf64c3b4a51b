package tolldata

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tolldata-cli/internal/config"
)

// paymentLine builds a 70-character fixed-width line carrying payCode at
// [58,61) and vehCode at [62,67).
func paymentLine(payCode, vehCode string) string {
	return strings.Repeat("x", 58) + payCode + " " + vehCode + "xxx"
}

func newTestLayout(t *testing.T) Layout {
	t.Helper()
	l := NewLayout(config.PathsConfig{WorkDir: t.TempDir()}, "")
	require.NoError(t, l.EnsureDirs())
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// buildArchive returns a gzip-compressed tar holding files in name order.
func buildArchive(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range order {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}
