//go:build !integration

package main

import (
	"archive/tar"
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tolldata-cli/internal/config"
)

// testConfig returns the default configuration rooted in a temp dir, with
// the archive served from srcURL.
func testConfig(t *testing.T, srcURL string) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)

	var c config.Config
	require.NoError(t, v.Unmarshal(&c))

	dir := t.TempDir()
	c.Source.URL = srcURL
	c.Paths.WorkDir = dir
	c.Store.DatabaseURL = filepath.Join(dir, "tolldata.db")
	c.Fetch.TimeoutSecs = 5
	c.Fetch.RequestsPerSecond = 0
	return &c
}

func paymentLine(payCode, vehCode string) string {
	return strings.Repeat("x", 58) + payCode + " " + vehCode + "xxx"
}

func tollArchive(t *testing.T) []byte {
	t.Helper()
	files := []struct{ name, body string }{
		{"vehicle-data.csv", "1,2024-01-01T00:00:00,ABC123,car,2,VC965\n"},
		{"tollplaza-data.tsv", "1\t2024-01-01T00:00:00\tABC123\tcar\t2\t5\t7\n"},
		{"payment-data.txt", paymentLine("001", "00042") + "\n"},
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, f := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     f.name,
			Mode:     0o644,
			Size:     int64(len(f.body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newArchiveServer(t *testing.T, status int, body []byte) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write(body) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}
