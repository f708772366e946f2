package jobs

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrclinic/internal/config"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

func TestExtractMMDB(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"GeoLite2-City_20240301/COPYRIGHT.txt":      "copyright",
		"GeoLite2-City_20240301/GeoLite2-City.mmdb": "mmdb-bytes",
	})
	dest := filepath.Join(t.TempDir(), "city.mmdb")

	require.NoError(t, extractMMDB(bytes.NewReader(archive), dest))

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "mmdb-bytes", string(content))
}

func TestExtractMMDBWithoutDatabase(t *testing.T) {
	archive := buildArchive(t, map[string]string{"README.txt": "nothing here"})

	err := extractMMDB(bytes.NewReader(archive), filepath.Join(t.TempDir(), "city.mmdb"))
	assert.ErrorIs(t, err, errNoMMDB)
}

func TestDownloadAndUpdate(t *testing.T) {
	archive := buildArchive(t, map[string]string{"db/GeoLite2-City.mmdb": "fresh"})

	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("license_key")
		w.Write(archive)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "geo", "city.mmdb")
	job := &GeoLiteUpdaterJob{
		cfg:        &config.Config{GeoDBPath: dest},
		httpClient: server.Client(),
		url:        server.URL + "/?license_key=%s",
	}

	require.NoError(t, job.downloadAndUpdate(t.Context(), "secret"))
	assert.Equal(t, "secret", gotKey)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(content))
	assert.NoFileExists(t, dest+".tmp")
}

func TestDownloadAndUpdateRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "city.mmdb")
	job := &GeoLiteUpdaterJob{
		cfg:        &config.Config{GeoDBPath: dest},
		httpClient: server.Client(),
		url:        server.URL + "/?license_key=%s",
	}

	err := job.downloadAndUpdate(t.Context(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.NoFileExists(t, dest)
}
