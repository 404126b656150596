package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"go-meshy-generate/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Custom Downloader Errors
var (
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrFileSystem  = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
)

// Downloader materializes remote artifacts onto a filesystem.
type Downloader struct {
	client *http.Client
	fs     afero.Fs
}

// NewDownloader creates a new Downloader instance. A nil fs writes to the OS filesystem.
func NewDownloader(client *http.Client, fs afero.Fs) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Minute,
		}
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Downloader{
		client: client,
		fs:     fs,
	}
}

// counterWriter counts the bytes written through it.
type counterWriter struct {
	total int64
}

func (c *counterWriter) Write(p []byte) (int, error) {
	c.total += int64(len(p))
	return len(p), nil
}

// Fetch downloads url to dest, creating missing directories and replacing any
// existing file. The body is streamed into a temporary file next to dest, hashed
// with BLAKE3 on the way, and renamed into place only once fully written.
func (d *Downloader) Fetch(ctx context.Context, url, dest string) (models.Artifact, error) {
	targetDir := filepath.Dir(dest)
	if err := d.fs.MkdirAll(targetDir, 0o755); err != nil {
		return models.Artifact{}, fmt.Errorf("%w: creating target directory %s: %w", ErrFileSystem, targetDir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, url, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.WithError(err).Errorf("Error performing download request from %s", url)
		return models.Artifact{}, fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("Error downloading file: Received status code %d from %s", resp.StatusCode, url)
		return models.Artifact{}, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}

	tempFile, err := afero.TempFile(d.fs, targetDir, filepath.Base(dest)+".*.tmp")
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, dest, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			if removeErr := d.fs.Remove(tempFile.Name()); removeErr != nil {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s during cleanup", tempFile.Name())
			}
		}
	}()

	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	log.Debugf("Downloading %s to %s (Size: %s)...", url, dest, bytesToSize(size))

	hasher := blake3.New()
	counter := &counterWriter{}
	if _, err := io.Copy(io.MultiWriter(tempFile, hasher, counter), resp.Body); err != nil {
		_ = tempFile.Close()
		return models.Artifact{}, fmt.Errorf("%w: writing %s: %w", ErrHttpRequest, tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return models.Artifact{}, fmt.Errorf("%w: closing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}

	if exists, _ := afero.Exists(d.fs, dest); exists {
		if err := d.fs.Remove(dest); err != nil {
			return models.Artifact{}, fmt.Errorf("%w: removing existing %s: %w", ErrFileSystem, dest, err)
		}
	}
	if err := d.fs.Rename(tempFile.Name(), dest); err != nil {
		return models.Artifact{}, fmt.Errorf("%w: renaming temporary file %s to %s: %w", ErrFileSystem, tempFile.Name(), dest, err)
	}
	shouldCleanupTemp = false

	artifact := models.Artifact{
		URL:    url,
		Path:   dest,
		Size:   counter.total,
		BLAKE3: hex.EncodeToString(hasher.Sum(nil)),
	}
	log.Infof("Saved %s (%s)", dest, bytesToSize(artifact.Size))
	return artifact, nil
}

func bytesToSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
