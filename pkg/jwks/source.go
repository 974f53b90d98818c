package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/strongmind/rtvi-gateway/pkg/types"
)

// Fetch failure kinds. Unreachable covers network errors, timeouts and
// non-2xx responses; Malformed covers responses that cannot be parsed into a
// usable key set. Callers retry differently for each: an unreachable
// endpoint is worth retrying later, a malformed document is not.
var (
	ErrFetchUnreachable = errors.New("jwks endpoint unreachable")
	ErrFetchMalformed   = errors.New("jwks document malformed")
)

const (
	// DefaultFetchTimeout bounds a single JWKS retrieval so a slow identity
	// provider cannot stall the gate.
	DefaultFetchTimeout = 5 * time.Second

	// maxDocumentSize limits the response body read from the JWKS endpoint.
	maxDocumentSize = 1 * 1024 * 1024
)

// Source fetches a JSON Web Key Set document.
type Source interface {
	Fetch(ctx context.Context) (*types.JWKS, error)
}

// HTTPSource retrieves the JWKS document from a fixed URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch performs one GET of the JWKS endpoint and parses the returned
// document. Every key entry must carry a key ID and key type.
func (s *HTTPSource) Fetch(ctx context.Context) (*types.JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchUnreachable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchUnreachable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close JWKS response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: received status %d from %s", ErrFetchUnreachable, resp.StatusCode, s.url)
	}

	var jwks types.JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchMalformed, err)
	}

	for _, key := range jwks.Keys {
		if key.KeyID == "" || key.KeyType == "" {
			return nil, fmt.Errorf("%w: key entry missing kid or kty", ErrFetchMalformed)
		}
	}

	return &jwks, nil
}
