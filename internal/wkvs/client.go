// Package wkvs implements the client for the Well-Known-Value Service,
// the bootstrap lookup that resolves the Work-Package, Upload, and
// Download service URLs and the archive's Crypt4GH public key.
package wkvs

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ghga-de/ghga-connector/internal/crypt4gh"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
)

const (
	keyWPSURL    = "wps_api_url"
	keyDCSURL    = "dcs_api_url"
	keyUCSURL    = "ucs_api_url"
	keyPublicKey = "crypt4gh_public_key"
)

// Client fetches individual well-known values from the WKVS.
type Client struct {
	http    *httpclient.Client
	baseURL string
}

// New builds a WKVS client rooted at baseURL.
func New(httpClient *httpclient.Client, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: baseURL}
}

// Value fetches a single well-known value by key, returning its raw
// string body.
func (c *Client) Value(ctx context.Context, key string) (string, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, key)

	resp, err := c.http.Get(ctx, url, nil)
	if err != nil {
		return "", ghgaerrors.RaiseIfConnectionFailed(err, url)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	case http.StatusNotFound:
		return "", &ghgaerrors.WellKnownValueNotFound{Key: key}
	default:
		body, _ := io.ReadAll(resp.Body)
		return "", &ghgaerrors.BadResponseCodeError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// Values holds the four bootstrap values Discover fetches, in the shape
// RuntimeConfig is built from.
type Values struct {
	WorkPackageAPIURL string
	UploadAPIURL      string
	DownloadAPIURL    string
	ArchivePublicKey  [32]byte
}

// Discover fetches every well-known value needed to build the runtime
// configuration.
func (c *Client) Discover(ctx context.Context) (*Values, error) {
	wps, err := c.Value(ctx, keyWPSURL)
	if err != nil {
		return nil, err
	}
	ucs, err := c.Value(ctx, keyUCSURL)
	if err != nil {
		return nil, err
	}
	dcs, err := c.Value(ctx, keyDCSURL)
	if err != nil {
		return nil, err
	}
	pubKeyB64, err := c.Value(ctx, keyPublicKey)
	if err != nil {
		return nil, err
	}

	pubKey, err := crypt4gh.DecodeBase64PublicKey(pubKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding archive public key: %w", err)
	}

	return &Values{
		WorkPackageAPIURL: wps,
		UploadAPIURL:      ucs,
		DownloadAPIURL:    dcs,
		ArchivePublicKey:  pubKey,
	}, nil
}
