// Package uploadapi implements the client for the Upload Controller
// Service: registering a file upload against the work package's upload
// box, obtaining presigned part URLs, streaming ciphertext to them, and
// finalizing or cancelling the upload.
package uploadapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ghga-de/ghga-connector/internal/config"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
)

// healthCheckTimeout bounds how long New waits for the upload service's
// health endpoint before giving up on it.
const healthCheckTimeout = 5 * time.Second

// Client talks to the Upload Controller Service on behalf of a single
// work package's upload box.
type Client struct {
	http          *httpclient.Client
	runtime       *config.RuntimeConfig
	workPackageID string
}

// New builds an upload API client for workPackageID, probing the
// service's health endpoint so a misconfigured or unreachable upload
// API fails fast instead of timing out deep inside the first part
// upload.
func New(httpClient *httpclient.Client, runtime *config.RuntimeConfig, workPackageID string) (*Client, error) {
	c := &Client{http: httpClient, runtime: runtime, workPackageID: workPackageID}

	if runtime.UploadAPIURL == "" {
		return c, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	healthURL := fmt.Sprintf("%s/health", runtime.UploadAPIURL)
	resp, err := c.http.Get(ctx, healthURL, nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, &ghgaerrors.ApiNotReachableError{APIURL: runtime.UploadAPIURL}
	}
	resp.Body.Close()

	return c, nil
}

func authHeaders(wot string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + wot}
}

// badStatusContext carries the identifiers needed to build a precise
// error out of a non-success response, since which ones are known
// varies by call site.
type badStatusContext struct {
	boxID     string
	fileAlias string
	fileID    string
}

// CreateFileUpload registers a new file upload named alias of the given
// size in boxID, returning the server-assigned file ID.
func (c *Client) CreateFileUpload(ctx context.Context, boxID, alias string, size int64, wot string) (string, error) {
	url := fmt.Sprintf("%s/boxes/%s/uploads", c.runtime.UploadAPIURL, boxID)

	payload, err := json.Marshal(struct {
		Alias string `json:"alias"`
		Size  int64  `json:"size"`
	}{Alias: alias, Size: size})
	if err != nil {
		return "", err
	}

	resp, err := c.http.PostJSON(ctx, url, bytes.NewReader(payload), authHeaders(wot))
	if err != nil {
		return "", ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", c.handleBadStatus(url, resp, badStatusContext{boxID: boxID, fileAlias: alias})
	}

	var body struct {
		FileID string `json:"file_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding upload creation response: %w", err)
	}
	return body.FileID, nil
}

// GetPartUploadURL returns the presigned URL for uploading partNo of
// fileID in boxID.
func (c *Client) GetPartUploadURL(ctx context.Context, boxID, fileID string, partNo int, wot string) (string, error) {
	url := fmt.Sprintf("%s/boxes/%s/uploads/%s/parts/%d", c.runtime.UploadAPIURL, boxID, fileID, partNo)

	resp, err := c.http.Get(ctx, url, authHeaders(wot))
	if err != nil {
		return "", ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.handleBadStatus(url, resp, badStatusContext{boxID: boxID, fileID: fileID})
	}

	var presignedURL string
	if err := json.NewDecoder(resp.Body).Decode(&presignedURL); err != nil {
		return "", fmt.Errorf("decoding part URL response: %w", err)
	}
	return presignedURL, nil
}

// UploadFilePart streams data to the presigned part URL with a plain
// HTTP PUT.
func (c *Client) UploadFilePart(ctx context.Context, presignedURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))

	resp, err := c.http.Raw().Do(req)
	if err != nil {
		return &ghgaerrors.S3StorageError{Operation: "part upload", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ghgaerrors.S3StorageError{
			Operation: "part upload",
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}
	return nil
}

// CompleteFileUpload finalizes fileID in boxID after all parts have
// been sent, with the whole-plaintext and whole-ciphertext digests the
// server will verify against.
func (c *Client) CompleteFileUpload(ctx context.Context, boxID, fileID, unencryptedChecksum, encryptedChecksum, wot string) error {
	url := fmt.Sprintf("%s/boxes/%s/uploads/%s", c.runtime.UploadAPIURL, boxID, fileID)

	payload, err := json.Marshal(struct {
		UnencryptedChecksum string `json:"unencrypted_checksum"`
		EncryptedChecksum   string `json:"encrypted_checksum"`
	}{UnencryptedChecksum: unencryptedChecksum, EncryptedChecksum: encryptedChecksum})
	if err != nil {
		return err
	}

	resp, err := c.http.PatchJSON(ctx, url, bytes.NewReader(payload), authHeaders(wot))
	if err != nil {
		return ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.handleBadStatus(url, resp, badStatusContext{boxID: boxID, fileID: fileID})
	}
	return nil
}

// DeleteFile cancels fileID's upload in boxID.
func (c *Client) DeleteFile(ctx context.Context, boxID, fileID, wot string) error {
	url := fmt.Sprintf("%s/boxes/%s/uploads/%s", c.runtime.UploadAPIURL, boxID, fileID)

	resp, err := c.http.Delete(ctx, url, authHeaders(wot))
	if err != nil {
		return ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.handleBadStatus(url, resp, badStatusContext{boxID: boxID, fileID: fileID})
	}
	return nil
}

// handleBadStatus dispatches on status code the way the reference
// upload client does: 400 means the underlying S3 storage rejected a
// request, 404/409 carry an exception_id distinguishing several
// specific conditions, everything else is unexpected.
func (c *Client) handleBadStatus(url string, resp *http.Response, bsc badStatusContext) error {
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return &ghgaerrors.S3StorageError{WorkPackageID: c.workPackageID}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ghgaerrors.NoUploadAccessError{UploadID: bsc.fileID}
	case http.StatusNotFound:
		return c.handle404(body, bsc)
	case http.StatusConflict:
		return c.handle409(body, bsc)
	default:
		return &ghgaerrors.BadResponseCodeError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func exceptionID(body []byte) string {
	var parsed struct {
		ExceptionID string `json:"exception_id"`
	}
	_ = json.Unmarshal(body, &parsed)
	return parsed.ExceptionID
}

func (c *Client) handle404(body []byte, bsc badStatusContext) error {
	switch exceptionID(body) {
	case "boxNotFound":
		return &ghgaerrors.InvalidBoxError{WorkPackageID: c.workPackageID}
	case "fileUploadNotFound":
		return &ghgaerrors.InvalidFileUploadError{WorkPackageID: c.workPackageID, FileID: bsc.fileID}
	case "s3UploadDetailsNotFound":
		return &ghgaerrors.S3UploadDetailsError{FileAlias: bsc.fileAlias, WorkPackageID: c.workPackageID}
	case "s3UploadNotFound":
		return &ghgaerrors.S3UploadMissingError{}
	default:
		return &ghgaerrors.UploadNotRegisteredError{UploadID: bsc.fileID}
	}
}

func (c *Client) handle409(body []byte, bsc badStatusContext) error {
	switch exceptionID(body) {
	case "lockedBox":
		return &ghgaerrors.UploadBoxLockedError{WorkPackageID: c.workPackageID}
	case "fileUploadAlreadyExists":
		return &ghgaerrors.UploadAlreadyExistsError{WorkPackageID: c.workPackageID}
	case "orphanedMultipartUpload":
		return &ghgaerrors.OrphanedUploadError{FileAlias: bsc.fileAlias, BoxID: bsc.boxID}
	default:
		return &ghgaerrors.UploadAlreadyExistsError{WorkPackageID: c.workPackageID}
	}
}
