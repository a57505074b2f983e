package downloader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghga-de/ghga-connector/internal/config"
	"github.com/ghga-de/ghga-connector/internal/crypt4gh"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
)

// buildEnvelope encrypts plaintext and returns the envelope header and
// the ciphertext segment stream as two separate byte slices, mirroring
// how the file's envelope and its ciphertext are fetched from distinct
// endpoints.
func buildEnvelope(t *testing.T, plaintext []byte, sender, recipient *crypt4gh.KeyPair) (envelope, ciphertext []byte) {
	t.Helper()

	encryptor, err := crypt4gh.NewEncryptor(bytes.NewReader(plaintext), sender, recipient.PublicKey)
	require.NoError(t, err)

	envelope = append([]byte(nil), encryptor.Header()...)

	var out bytes.Buffer
	for {
		segment, err := encryptor.NextSegment()
		if err != nil {
			break
		}
		out.Write(segment)
	}

	return envelope, out.Bytes()
}

func TestDownloadDecryptsToOriginalPlaintext(t *testing.T) {
	t.Parallel()

	sender, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("download-roundtrip-content-"), 30000)
	plaintextSum := sha256.Sum256(plaintext)

	envelope, ciphertext := buildEnvelope(t, plaintext, sender, recipient)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var start, end int64
		_, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		require.NoError(t, err)
		if end >= int64(len(ciphertext)) {
			end = int64(len(ciphertext)) - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(ciphertext[start : end+1])
	}))
	defer srv.Close()

	cfg := &config.Config{MaxRetries: 0, ExponentialBackoffMax: 0}
	httpClient, err := httpclient.New(cfg, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	destPath := filepath.Join(dir, "result.bin")

	d := New(httpClient, nil, 4)
	result, err := d.Download(context.Background(), srv.URL, destPath, envelope, int64(len(ciphertext)), 5*1024*1024, recipient, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, hex.EncodeToString(plaintextSum[:]), result.PlaintextSHA256)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDownloadMultiplePartsReassemblesInOrder(t *testing.T) {
	t.Parallel()

	sender, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("x"), 3*1024*1024)
	plaintextSum := sha256.Sum256(plaintext)
	envelope, ciphertext := buildEnvelope(t, plaintext, sender, recipient)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var start, end int64
		_, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		require.NoError(t, err)
		if end >= int64(len(ciphertext)) {
			end = int64(len(ciphertext)) - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(ciphertext[start : end+1])
	}))
	defer srv.Close()

	cfg := &config.Config{MaxRetries: 0, ExponentialBackoffMax: 0}
	httpClient, err := httpclient.New(cfg, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	destPath := filepath.Join(dir, "result.bin")

	// A small part size forces several concurrent range requests, which
	// must be reassembled back into strict ascending order.
	d := New(httpClient, nil, 8)
	result, err := d.Download(context.Background(), srv.URL, destPath, envelope, int64(len(ciphertext)), 1024*1024, recipient, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(plaintextSum[:]), result.PlaintextSHA256)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDownloadPropagatesStorageError(t *testing.T) {
	t.Parallel()

	recipient, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &config.Config{MaxRetries: 0, ExponentialBackoffMax: 0}
	httpClient, err := httpclient.New(cfg, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	destPath := filepath.Join(dir, "result.bin")

	sender, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)
	envelope, err := crypt4gh.BuildEnvelopeHeader(sender, recipient.PublicKey, [32]byte{})
	require.NoError(t, err)

	d := New(httpClient, nil, 2)
	_, err = d.Download(context.Background(), srv.URL, destPath, envelope, 1024, 512, recipient, nil, nil)
	assert.Error(t, err)
}

func TestDownloadRetriesWithFreshURLOn403(t *testing.T) {
	t.Parallel()

	sender, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("retry-content-"), 10000)
	plaintextSum := sha256.Sum256(plaintext)
	envelope, ciphertext := buildEnvelope(t, plaintext, sender, recipient)

	serveRange := func(w http.ResponseWriter, r *http.Request) {
		var start, end int64
		_, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		require.NoError(t, err)
		if end >= int64(len(ciphertext)) {
			end = int64(len(ciphertext)) - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(ciphertext[start : end+1])
	}

	expiredMux := http.NewServeMux()
	expiredMux.HandleFunc("/stale", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	expiredMux.HandleFunc("/fresh", serveRange)
	srv := httptest.NewServer(expiredMux)
	defer srv.Close()

	cfg := &config.Config{MaxRetries: 0, ExponentialBackoffMax: 0}
	httpClient, err := httpclient.New(cfg, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	destPath := filepath.Join(dir, "result.bin")

	var refreshCalls int
	refreshURL := func(ctx context.Context) (string, error) {
		refreshCalls++
		return srv.URL + "/fresh", nil
	}

	d := New(httpClient, nil, 2)
	result, err := d.Download(context.Background(), srv.URL+"/stale", destPath, envelope, int64(len(ciphertext)), 5*1024*1024, recipient, refreshURL, nil)
	require.NoError(t, err)

	assert.Equal(t, hex.EncodeToString(plaintextSum[:]), result.PlaintextSHA256)
	assert.Greater(t, refreshCalls, 0)
}
