package verifier_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongmind/rtvi-gateway/pkg/config"
	"github.com/strongmind/rtvi-gateway/pkg/jwks"
	"github.com/strongmind/rtvi-gateway/pkg/types"
	"github.com/strongmind/rtvi-gateway/pkg/verifier"
)

// Exercises the full verification flow against a mock identity provider:
// source, cache, resolver and verifier wired together, including key
// rotation.
func TestTokenVerificationFlow(t *testing.T) {
	oldKey := generateRSAKey(t)
	newKey := generateRSAKey(t)

	var mu sync.Mutex
	published := &types.JWKS{
		Keys: []types.JSONWebKey{
			{
				KeyID:     "old-kid",
				KeyType:   "RSA",
				Algorithm: "RS256",
				Use:       "sig",
				N:         base64.RawURLEncoding.EncodeToString(oldKey.PublicKey.N.Bytes()),
				E:         base64.RawURLEncoding.EncodeToString(big.NewInt(int64(oldKey.PublicKey.E)).Bytes()),
			},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(published); err != nil {
			t.Logf("Failed to encode jwks: %v", err)
		}
	}))
	defer server.Close()

	cfg := &config.Config{
		JWT: &config.JWT{
			Enabled: true,
			Issuer:  testIssuer,
			JWKSURL: server.URL,
		},
	}

	source := jwks.NewHTTPSource(cfg.JWT.JWKSURL, 2*time.Second)
	cache := jwks.NewCache(source, time.Hour)
	v := verifier.NewTokenVerifier(cfg, jwks.NewResolver(cache))

	oldToken := signToken(t, oldKey, tokenSpec{
		kid:     "old-kid",
		method:  jwt.SigningMethodRS256,
		issuer:  testIssuer,
		subject: "user-1",
	})

	claims, err := v.Verify(context.Background(), oldToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)

	// The provider rotates its signing key.
	mu.Lock()
	published = &types.JWKS{
		Keys: []types.JSONWebKey{
			{
				KeyID:     "new-kid",
				KeyType:   "RSA",
				Algorithm: "RS256",
				Use:       "sig",
				N:         base64.RawURLEncoding.EncodeToString(newKey.PublicKey.N.Bytes()),
				E:         base64.RawURLEncoding.EncodeToString(big.NewInt(int64(newKey.PublicKey.E)).Bytes()),
			},
		},
	}
	mu.Unlock()

	// A token under the new key verifies after one reactive refetch.
	newToken := signToken(t, newKey, tokenSpec{
		kid:     "new-kid",
		method:  jwt.SigningMethodRS256,
		issuer:  testIssuer,
		subject: "user-2",
	})

	claims, err = v.Verify(context.Background(), newToken)
	require.NoError(t, err)
	assert.Equal(t, "user-2", claims.Subject)

	// Tokens referencing the rotated-out kid no longer validate.
	_, err = v.Verify(context.Background(), oldToken)
	assert.ErrorIs(t, err, verifier.ErrUnknownKey)
}
