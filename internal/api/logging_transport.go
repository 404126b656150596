package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Global slice to keep track of all logging transports created
var (
	activeLoggingTransports []*LoggingTransport
	transportsMu            sync.Mutex
)

var bearerPattern = regexp.MustCompile(`(?i)(Authorization:\s*Bearer\s+)\S+`)

// LoggingTransport wraps an http.RoundTripper and appends request and response
// dumps to a log file. Bearer tokens are redacted. Event-stream bodies are never
// read, so task subscriptions keep streaming through it.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	writer    *bufio.Writer
	mu        sync.Mutex
}

// NewLoggingTransport creates a new LoggingTransport appending to logFilePath.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	cleanPath := filepath.Clean(logFilePath)
	// #nosec G304
	f, err := os.OpenFile(cleanPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", cleanPath, err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	lt := &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}

	transportsMu.Lock()
	activeLoggingTransports = append(activeLoggingTransports, lt)
	transportsMu.Unlock()
	log.Debugf("[LogTransport] Registered transport for %s", cleanPath)

	return lt, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		log.WithError(err).Error("[LogTransport] Failed to dump API request for logging")
	} else {
		t.write(fmt.Sprintf("--- Request (%s) ---\n%s", startTime.Format(time.RFC3339), redact(reqDump)))
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	if err != nil {
		t.write(fmt.Sprintf("--- Response Error (%s, Duration: %v) ---\n%s", time.Now().Format(time.RFC3339), duration, err.Error()))
		return resp, err
	}

	contentType := resp.Header.Get("Content-Type")
	respDump, _ := httputil.DumpResponse(resp, false)
	header := fmt.Sprintf("--- Response Headers (%s, Duration: %v) ---\n%s", time.Now().Format(time.RFC3339), duration, string(respDump))

	switch {
	case strings.HasPrefix(contentType, "text/event-stream"):
		t.write(header + "(event stream, body not logged)")
	case strings.HasPrefix(contentType, "application/json"):
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("[LogTransport] Failed to close original response body before replacing it")
		}
		resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		if readErr != nil {
			log.WithError(readErr).Error("[LogTransport] Failed to read response body for logging")
			t.write(header + "(body read failed)")
			break
		}
		t.write(fmt.Sprintf("%s--- Response Body (%s) ---\n%s", header, contentType, string(bodyBytes)))
	default:
		t.write(header + "(body not logged)")
	}

	return resp, nil
}

func redact(dump []byte) string {
	return bearerPattern.ReplaceAllString(string(dump), "${1}[REDACTED]")
}

func (t *LoggingTransport) write(entry string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.writer.WriteString(entry + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
		return
	}
	if err := t.writer.Flush(); err != nil {
		log.WithError(err).Error("[LogTransport] Failed to flush log writer")
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}

// CloseAllLoggingTransports closes every transport created by NewLoggingTransport.
func CloseAllLoggingTransports() {
	transportsMu.Lock()
	defer transportsMu.Unlock()

	for _, t := range activeLoggingTransports {
		if err := t.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing logging transport for %s: %v\n", t.logFile.Name(), err)
		}
	}
	activeLoggingTransports = nil
}
