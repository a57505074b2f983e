// Package downloadapi implements the client for the Download Controller
// Service: polling a DRS object for staging status and resolving its
// presigned access URL.
package downloadapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ghga-de/ghga-connector/internal/config"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
)

// AccessMethod is one entry in a DRS object's access_methods list.
type AccessMethod struct {
	Type      string `json:"type"`
	AccessURL struct {
		URL string `json:"url"`
	} `json:"access_url"`
}

// DrsObject is the subset of the DRS object JSON this client needs.
type DrsObject struct {
	ID            string         `json:"id"`
	Size          int64          `json:"size"`
	Checksums     []DrsChecksum  `json:"checksums"`
	AccessMethods []AccessMethod `json:"access_methods"`
}

// DrsChecksum is one checksum entry of a DRS object.
type DrsChecksum struct {
	Type     string `json:"type"`
	Checksum string `json:"checksum"`
}

// SHA256 returns the object's sha-256 checksum, if present.
func (d DrsObject) SHA256() (string, bool) {
	for _, c := range d.Checksums {
		if c.Type == "sha-256" {
			return c.Checksum, true
		}
	}
	return "", false
}

// Client talks to the Download Controller Service on behalf of a single
// file's work-order token.
type Client struct {
	http    *httpclient.Client
	runtime *config.RuntimeConfig
}

// New builds a download API client.
func New(httpClient *httpclient.Client, runtime *config.RuntimeConfig) *Client {
	return &Client{http: httpClient, runtime: runtime}
}

func authHeaders(wot string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + wot}
}

// ObjectResult is the outcome of a single GetDrsObject poll.
type ObjectResult struct {
	Object     *DrsObject
	RetryAfter time.Duration
	Staged     bool
}

// TokenFn obtains a work-order token for fileID, bypassing any cached
// token when bustCache is set.
type TokenFn func(ctx context.Context, fileID string, bustCache bool) (string, error)

// GetDrsObject fetches the DRS object for fileID. A 200 response yields
// a staged object; a 202 yields an unstaged result carrying the
// mandatory Retry-After delay. A 403 is retried exactly once with a
// freshly-fetched token, since it usually means the cached token
// expired; a second 403 is returned as an error. A 404 means the
// archive has no record of fileID at all and is never retried.
func (c *Client) GetDrsObject(ctx context.Context, fileID string, getToken TokenFn) (*ObjectResult, error) {
	wot, err := getToken(ctx, fileID, false)
	if err != nil {
		return nil, err
	}

	result, err := c.fetchDrsObject(ctx, fileID, wot)
	var unauthorized *ghgaerrors.UnauthorizedAPICallError
	if isUnauthorized(err, &unauthorized) {
		wot, tokenErr := getToken(ctx, fileID, true)
		if tokenErr != nil {
			return nil, tokenErr
		}
		return c.fetchDrsObject(ctx, fileID, wot)
	}
	return result, err
}

func isUnauthorized(err error, target **ghgaerrors.UnauthorizedAPICallError) bool {
	e, ok := err.(*ghgaerrors.UnauthorizedAPICallError)
	if ok {
		*target = e
	}
	return ok
}

func (c *Client) fetchDrsObject(ctx context.Context, fileID, wot string) (*ObjectResult, error) {
	url := fmt.Sprintf("%s/objects/%s", c.runtime.DownloadAPIURL, fileID)

	resp, err := c.http.Get(ctx, url, authHeaders(wot))
	if err != nil {
		return nil, ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var obj DrsObject
		if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
			return nil, fmt.Errorf("decoding DRS object: %w", err)
		}
		return &ObjectResult{Object: &obj, Staged: true}, nil

	case http.StatusAccepted:
		retryAfterHeader := resp.Header.Get("Retry-After")
		if retryAfterHeader == "" {
			return nil, &ghgaerrors.RetryTimeExpectedError{URL: url}
		}
		seconds, err := strconv.Atoi(retryAfterHeader)
		if err != nil || seconds < 0 {
			return nil, &ghgaerrors.UnexpectedRetryResponseError{URL: url, Value: retryAfterHeader}
		}
		return &ObjectResult{Staged: false, RetryAfter: time.Duration(seconds) * time.Second}, nil

	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, &ghgaerrors.UnauthorizedAPICallError{URL: url, Cause: responseCause(resp)}

	case http.StatusNotFound:
		return nil, &ghgaerrors.FileNotRegisteredError{FileID: fileID}

	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, &ghgaerrors.BadResponseCodeError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// GetFileEnvelope fetches the Crypt4GH envelope for fileID, the header
// packets that must be decrypted once with the caller's private key
// before the ciphertext segments that follow it can be decrypted.
func (c *Client) GetFileEnvelope(ctx context.Context, fileID, wot string) ([]byte, error) {
	url := fmt.Sprintf("%s/objects/%s/envelopes", c.runtime.DownloadAPIURL, fileID)

	resp, err := c.http.Get(ctx, url, authHeaders(wot))
	if err != nil {
		return nil, ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		encoded, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &ghgaerrors.GetEnvelopeError{FileID: fileID, Err: err}
		}
		envelope, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, &ghgaerrors.GetEnvelopeError{FileID: fileID, Err: err}
		}
		return envelope, nil

	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, &ghgaerrors.UnauthorizedAPICallError{URL: url, Cause: responseCause(resp)}

	case http.StatusNotFound:
		return nil, &ghgaerrors.FileNotRegisteredError{FileID: fileID}

	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, &ghgaerrors.BadResponseCodeError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// responseCause extracts a human-readable cause from an error response
// body, trying the two shapes the access-control services use.
func responseCause(resp *http.Response) string {
	var content struct {
		Description string `json:"description"`
		Detail      string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return ""
	}
	if content.Description != "" {
		return content.Description
	}
	return content.Detail
}

// ExtractDownloadURL picks the S3 access method's URL from a DRS object,
// the only access method type this client supports.
func ExtractDownloadURL(obj *DrsObject) (string, error) {
	for _, m := range obj.AccessMethods {
		if m.Type == "s3" {
			return m.AccessURL.URL, nil
		}
	}
	return "", &ghgaerrors.NoS3AccessMethodError{FileID: obj.ID}
}
