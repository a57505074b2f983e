package workpackage

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
)

const (
	minPackageIDLen = 20
	maxPackageIDLen = 40
	minTokenLen     = 80
	maxTokenLen     = 120
	maxPasteTries   = 3
)

// AccessToken is the parsed pasted access token: the work package ID and
// its sealed-box-encrypted token, still base64-encoded.
type AccessToken struct {
	PackageID      string
	SealedTokenB64 string
}

// ParseAccessToken splits and validates a pasted "<id>:<sealed-token>"
// string.
func ParseAccessToken(raw string) (*AccessToken, error) {
	raw = strings.TrimSpace(raw)

	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("access token must be of the form \"<id>:<token>\"")
	}

	id, token := parts[0], parts[1]

	if len(id) < minPackageIDLen || len(id) >= maxPackageIDLen {
		return nil, fmt.Errorf("work package id has invalid length %d", len(id))
	}
	if len(token) < minTokenLen || len(token) >= maxTokenLen {
		return nil, fmt.Errorf("work package token has invalid length %d", len(token))
	}

	return &AccessToken{PackageID: id, SealedTokenB64: token}, nil
}

// PromptForAccessToken reads a pasted access token from r, retrying up
// to maxPasteTries times on malformed input.
func PromptForAccessToken(r *bufio.Reader, prompt func(string)) (*AccessToken, error) {
	for attempt := 1; attempt <= maxPasteTries; attempt++ {
		prompt(fmt.Sprintf("Please paste the access token (attempt %d/%d): ", attempt, maxPasteTries))

		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("reading access token: %w", err)
		}

		token, parseErr := ParseAccessToken(line)
		if parseErr == nil {
			return token, nil
		}
	}

	return nil, &ghgaerrors.InvalidWorkPackageTokenError{Tries: maxPasteTries}
}
