// Package workpackage implements the client for the Work-Package
// service: decrypting the pasted access token, fetching the package's
// file manifest, and exchanging it for short-lived per-file work-order
// tokens (WOTs).
package workpackage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ghga-de/ghga-connector/internal/config"
	"github.com/ghga-de/ghga-connector/internal/crypt4gh"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
)

// File describes one file entry in a work package's manifest.
type File struct {
	ID        string `json:"file_id"`
	Extension string `json:"file_extension"`
}

// manifest is the full body of GET /work-packages/{id}: the file list
// for a download package and, for an upload package, the ID of the
// upload box files are staged into.
type manifest struct {
	Files []File `json:"files"`
	BoxID string `json:"box_id"`
}

// workOrderTokenResponse is the server's envelope around a sealed WOT.
type workOrderTokenResponse struct {
	SealedToken string `json:"work_order_token"`
}

// WorkType names the operation an upload work-order token is scoped to.
type WorkType string

const (
	WorkTypeCreate WorkType = "create"
	WorkTypeUpload WorkType = "upload"
	WorkTypeClose  WorkType = "close"
	WorkTypeDelete WorkType = "delete"
)

// Client talks to the Work-Package service on behalf of a single
// decrypted access token, caching work-order tokens in memory since each
// carries a short TTL and would otherwise be refetched on every retry.
type Client struct {
	http        *httpclient.Client
	runtime     *config.RuntimeConfig
	keys        *crypt4gh.KeyPair
	packageID   string
	decryptedAT string // decrypted package access token, used as bearer auth
	wotCache    *gocache.Cache

	manifestMu sync.Mutex
	manifest   *manifest
}

// New builds a Client for packageID, decrypting sealedTokenB64 with the
// caller's key pair.
func New(httpClient *httpclient.Client, runtime *config.RuntimeConfig, keys *crypt4gh.KeyPair, packageID, sealedTokenB64 string) (*Client, error) {
	sealed, err := base64.StdEncoding.DecodeString(sealedTokenB64)
	if err != nil {
		if sealed, err = base64.URLEncoding.DecodeString(sealedTokenB64); err != nil {
			return nil, fmt.Errorf("decoding sealed access token: %w", err)
		}
	}

	plain, err := crypt4gh.OpenAnonymous(keys, sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypting access token: %w", err)
	}

	return &Client{
		http:        httpClient,
		runtime:     runtime,
		keys:        keys,
		packageID:   packageID,
		decryptedAT: string(plain),
		wotCache:    gocache.New(30*time.Second, time.Minute),
	}, nil
}

func (c *Client) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.decryptedAT}
}

// Files fetches the manifest of files included in the work package.
func (c *Client) Files(ctx context.Context) ([]File, error) {
	m, err := c.getManifest(ctx)
	if err != nil {
		return nil, err
	}
	return m.Files, nil
}

// BoxID returns the upload box ID the work package's files are staged
// into, fetching and caching the manifest the same way Files does.
func (c *Client) BoxID(ctx context.Context) (string, error) {
	m, err := c.getManifest(ctx)
	if err != nil {
		return "", err
	}
	return m.BoxID, nil
}

// getManifest fetches GET /work-packages/{id} once and caches the
// result, since Files and BoxID both read from the same response.
func (c *Client) getManifest(ctx context.Context) (*manifest, error) {
	c.manifestMu.Lock()
	defer c.manifestMu.Unlock()

	if c.manifest != nil {
		return c.manifest, nil
	}

	url := fmt.Sprintf("%s/work-packages/%s", c.runtime.WorkPackageAPIURL, c.packageID)

	resp, err := c.http.Get(ctx, url, c.authHeaders())
	if err != nil {
		return nil, ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var m manifest
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			return nil, fmt.Errorf("decoding work package manifest: %w", err)
		}
		c.manifest = &m
		return c.manifest, nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, &ghgaerrors.NoWorkPackageAccessError{PackageID: c.packageID}
	case http.StatusNotFound:
		return nil, &ghgaerrors.NoWorkPackageAccessError{PackageID: c.packageID}
	default:
		return nil, &ghgaerrors.InvalidWorkPackageResponseError{URL: url, StatusCode: resp.StatusCode}
	}
}

// WorkOrderToken exchanges the work package for a decrypted work-order
// token scoped to fileID, serving from cache when a cached token is
// still fresh. bustCache forces a fresh fetch even if a cached entry
// exists, used after a stale-token 403.
func (c *Client) WorkOrderToken(ctx context.Context, fileID string, bustCache bool) (string, error) {
	if !bustCache {
		if cached, found := c.wotCache.Get(fileID); found {
			return cached.(string), nil
		}
	}

	url := fmt.Sprintf("%s/work-packages/%s/files/%s/work-order-tokens", c.runtime.WorkPackageAPIURL, c.packageID, fileID)

	resp, err := c.http.PostJSON(ctx, url, nil, c.authHeaders())
	if err != nil {
		return "", ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var body workOrderTokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("decoding work-order token response: %w", err)
		}

		sealed, err := base64.StdEncoding.DecodeString(body.SealedToken)
		if err != nil {
			return "", fmt.Errorf("decoding sealed work-order token: %w", err)
		}

		plain, err := crypt4gh.OpenAnonymous(c.keys, sealed)
		if err != nil {
			return "", fmt.Errorf("decrypting work-order token: %w", err)
		}

		token := string(plain)
		c.wotCache.Set(fileID, token, gocache.DefaultExpiration)
		return token, nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return "", &ghgaerrors.NoFileAccessError{FileID: fileID}
	case http.StatusNotFound:
		return "", &ghgaerrors.NoFileAccessError{FileID: fileID}
	default:
		return "", bodyAsError(url, resp)
	}
}

// InvalidateWorkOrderToken drops any cached token for fileID, forcing
// the next call to fetch a fresh one.
func (c *Client) InvalidateWorkOrderToken(fileID string) {
	c.wotCache.Delete(fileID)
}

// UploadWorkOrderToken exchanges the work package for a decrypted
// work-order token scoped to one upload operation on boxID, caching by
// a key distinct from the download WOT cache since the two endpoints
// are unrelated.
func (c *Client) UploadWorkOrderToken(ctx context.Context, workType WorkType, boxID, fileID, alias string, bustCache bool) (string, error) {
	cacheKey := "upload:" + string(workType) + ":" + boxID + ":" + fileID + ":" + alias

	if !bustCache {
		if cached, found := c.wotCache.Get(cacheKey); found {
			return cached.(string), nil
		}
	}

	url := fmt.Sprintf("%s/work-packages/%s/boxes/%s/work-order-tokens", c.runtime.WorkPackageAPIURL, c.packageID, boxID)

	payload, err := json.Marshal(struct {
		WorkType WorkType `json:"work_type"`
		Alias    string   `json:"alias,omitempty"`
		FileID   string   `json:"file_id,omitempty"`
	}{WorkType: workType, Alias: alias, FileID: fileID})
	if err != nil {
		return "", err
	}

	resp, err := c.http.PostJSON(ctx, url, bytes.NewReader(payload), c.authHeaders())
	if err != nil {
		return "", ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var body workOrderTokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("decoding work-order token response: %w", err)
		}

		sealed, err := base64.StdEncoding.DecodeString(body.SealedToken)
		if err != nil {
			return "", fmt.Errorf("decoding sealed work-order token: %w", err)
		}

		plain, err := crypt4gh.OpenAnonymous(c.keys, sealed)
		if err != nil {
			return "", fmt.Errorf("decrypting work-order token: %w", err)
		}

		token := string(plain)
		c.wotCache.Set(cacheKey, token, gocache.DefaultExpiration)
		return token, nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return "", &ghgaerrors.NoUploadAccessError{UploadID: fileID}
	default:
		return "", &ghgaerrors.InvalidWorkPackageResponseError{URL: url, StatusCode: resp.StatusCode}
	}
}

func bodyAsError(url string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &ghgaerrors.BadResponseCodeError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
}
