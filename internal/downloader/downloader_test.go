package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TestNewDownloader_Defaults tests that nil arguments get defaults
func TestNewDownloader_Defaults(t *testing.T) {
	d := NewDownloader(nil, nil)

	require.NotNil(t, d.client)
	assert.Equal(t, 15*time.Minute, d.client.Timeout)
	_, isOs := d.fs.(*afero.OsFs)
	assert.True(t, isOs)
}

// TestFetch_Success tests a download into a directory that does not yet exist
func TestFetch_Success(t *testing.T) {
	payload := []byte("glTF binary payload")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	d := NewDownloader(server.Client(), fs)
	dest := filepath.Join("/out", "models", "teapot.glb")

	artifact, err := d.Fetch(context.Background(), server.URL+"/m.glb", dest)

	require.NoError(t, err)
	assert.Equal(t, dest, artifact.Path)
	assert.Equal(t, int64(len(payload)), artifact.Size)
	assert.Equal(t, blake3Hex(payload), artifact.BLAKE3)

	written, err := afero.ReadFile(fs, dest)
	require.NoError(t, err)
	assert.Equal(t, payload, written)

	entries, err := afero.ReadDir(fs, filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}

// TestFetch_Overwrites tests that an existing file is replaced
func TestFetch_Overwrites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new"))
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/a.png", []byte("old content"), 0o644))

	_, err := NewDownloader(server.Client(), fs).Fetch(context.Background(), server.URL, "/out/a.png")
	require.NoError(t, err)

	written, err := afero.ReadFile(fs, "/out/a.png")
	require.NoError(t, err)
	assert.Equal(t, "new", string(written))
}

// TestFetch_HttpStatus tests that a non-200 status leaves nothing on disk
func TestFetch_HttpStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	_, err := NewDownloader(server.Client(), fs).Fetch(context.Background(), server.URL, "/out/a.mp4")

	assert.True(t, errors.Is(err, ErrHttpStatus))
	exists, _ := afero.Exists(fs, "/out/a.mp4")
	assert.False(t, exists)
}

// TestFetch_RequestError tests an unreachable host
func TestFetch_RequestError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewDownloader(&http.Client{Timeout: time.Second}, afero.NewMemMapFs()).Fetch(context.Background(), url, "/out/a.glb")
	assert.True(t, errors.Is(err, ErrHttpRequest))
}

// TestFetch_FileSystemError tests a read-only filesystem
func TestFetch_FileSystemError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer server.Close()

	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	_, err := NewDownloader(server.Client(), fs).Fetch(context.Background(), server.URL, "/out/a.glb")
	assert.True(t, errors.Is(err, ErrFileSystem))
}

// TestFetch_OsFs tests the real filesystem path used in production
func TestFetch_OsFs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("thumbnail"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "nested", "thumb.png")
	_, err := NewDownloader(server.Client(), nil).Fetch(context.Background(), server.URL, dest)
	require.NoError(t, err)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "thumbnail", string(content))
}

func TestBytesToSize(t *testing.T) {
	assert.Equal(t, "512 B", bytesToSize(512))
	assert.Equal(t, "1.5 KiB", bytesToSize(1536))
	assert.Equal(t, "2.0 MiB", bytesToSize(2*1024*1024))
}
