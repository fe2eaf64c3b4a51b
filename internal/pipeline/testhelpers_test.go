package pipeline

import (
	"archive/tar"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tolldata-cli/internal/config"
	"github.com/sells-group/tolldata-cli/internal/fetcher"
	"github.com/sells-group/tolldata-cli/internal/tolldata"
)

type archiveFile struct {
	name, body string
}

func buildArchive(t *testing.T, files ...archiveFile) []byte {
	t.Helper()
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

func tollArchive(t *testing.T, plazaLines string) []byte {
	payment := strings.Repeat("x", 58) + "001" + " " + "00042" + "xxx"
	return buildArchive(t,
		archiveFile{"vehicle-data.csv", "1,2024-01-01T00:00:00,ABC123,car,2,VC965\n2,short\n"},
		archiveFile{"tollplaza-data.tsv", plazaLines},
		archiveFile{"payment-data.txt", payment + "\n"},
	)
}

// newTestSteps serves body at an httptest URL and returns steps rooted in
// a temp dir that download from it.
func newTestSteps(t *testing.T, status int, body []byte) *tolldata.Steps {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write(body) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	layout := tolldata.NewLayout(config.PathsConfig{WorkDir: t.TempDir()}, "")
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second})
	return tolldata.NewSteps(layout, f, tolldata.Options{SourceURL: srv.URL + "/tolldata.tgz"})
}
