package uploader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghga-de/ghga-connector/internal/config"
	"github.com/ghga-de/ghga-connector/internal/crypt4gh"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
	"github.com/ghga-de/ghga-connector/internal/uploadapi"
)

// fakeUploadService plays both the upload-controller and the S3 presigned
// PUT target from a single server: GetPartUploadURL hands back a URL
// pointing at this same server's /parts/<n> path, and PUTs to that path
// are recorded for later reassembly.
type fakeUploadService struct {
	baseURL string

	mu    sync.Mutex
	parts map[int][]byte
}

func (s *fakeUploadService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var partNo int

	if r.URL.Path == "/health" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method == http.MethodGet {
		if _, err := fmt.Sscanf(r.URL.Path, "/boxes/box-1/uploads/upload-1/parts/%d", &partNo); err == nil {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(fmt.Sprintf("%s/parts/%d", s.baseURL, partNo))
			return
		}
	}

	if r.Method == http.MethodPut {
		if _, err := fmt.Sscanf(r.URL.Path, "/parts/%d", &partNo); err == nil {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			s.mu.Lock()
			s.parts[partNo] = data
			s.mu.Unlock()
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	http.NotFound(w, r)
}

func TestUploadEncryptsAndUploadsAllParts(t *testing.T) {
	t.Parallel()

	sender, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("upload-roundtrip-content-"), 20000)
	plaintextSum := sha256.Sum256(plaintext)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	require.NoError(t, os.WriteFile(srcPath, plaintext, 0o644))

	service := &fakeUploadService{parts: make(map[int][]byte)}
	srv := httptest.NewServer(service)
	defer srv.Close()
	service.baseURL = srv.URL

	cfg := &config.Config{MaxRetries: 0, ExponentialBackoffMax: 0}
	httpClient, err := httpclient.New(cfg, nil)
	require.NoError(t, err)
	runtime := config.NewRuntimeConfig("", srv.URL, "", nil)
	api, err := uploadapi.New(httpClient, runtime, "package-1")
	require.NoError(t, err)

	u := New(api, nil, 4)
	result, err := u.Upload(context.Background(), srcPath, "box-1", "upload-1", sender, recipient.PublicKey, 5, "wot-1", nil)
	require.NoError(t, err)

	assert.Equal(t, hex.EncodeToString(plaintextSum[:]), result.PlaintextSHA256)
	assert.NotEmpty(t, result.PartMD5Sums)
	assert.Equal(t, len(result.PartMD5Sums), len(result.PartSHA256Sums))

	// Reassemble every uploaded part in order and confirm the envelope
	// decrypts back to the exact original plaintext.
	service.mu.Lock()
	var assembled []byte
	for i := 1; i <= len(service.parts); i++ {
		part, ok := service.parts[i]
		require.True(t, ok, "missing uploaded part %d", i)
		assembled = append(assembled, part...)
	}
	service.mu.Unlock()

	r := bytes.NewReader(assembled)
	env, err := crypt4gh.ParseEnvelopeHeader(r, recipient)
	require.NoError(t, err)

	decryptor, err := crypt4gh.NewDecryptor(r, env)
	require.NoError(t, err)

	var decrypted []byte
	for {
		segment, err := decryptor.NextSegment()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		decrypted = append(decrypted, segment...)
	}

	assert.Equal(t, plaintext, decrypted)
}

func TestUploadRejectsUnreadableFile(t *testing.T) {
	t.Parallel()

	sender, err := crypt4gh.GenerateKeyPair()
	require.NoError(t, err)

	cfg := &config.Config{MaxRetries: 0}
	httpClient, err := httpclient.New(cfg, nil)
	require.NoError(t, err)
	runtime := config.NewRuntimeConfig("", "", "", nil)
	api, err := uploadapi.New(httpClient, runtime, "package-1")
	require.NoError(t, err)

	u := New(api, nil, 2)
	_, err = u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.bin"), "box-1", "upload-1", sender, [32]byte{}, 5, "wot-1", nil)
	assert.Error(t, err)
}
