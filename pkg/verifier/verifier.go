package verifier

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strongmind/rtvi-gateway/pkg/config"
	"github.com/strongmind/rtvi-gateway/pkg/jwks"
	"github.com/strongmind/rtvi-gateway/pkg/types"
)

// Rejection reasons. These are internal diagnostics for logs: a client only
// ever sees the final allow/deny verdict.
var (
	ErrMalformed            = errors.New("token is malformed")
	ErrUnsupportedAlgorithm = errors.New("token signing algorithm is not allowed")
	ErrUnknownKey           = jwks.ErrUnknownKey
	ErrInvalidSignature     = errors.New("token signature is invalid")
	ErrInvalidIssuer        = errors.New("token issuer mismatch")
	ErrInvalidAudience      = errors.New("token audience mismatch")
	ErrExpired              = errors.New("token is expired")
)

// AllowedAlgorithms is the closed set of signing algorithms the gateway
// accepts. Anything else, notably "none", is rejected before any key lookup.
var AllowedAlgorithms = []string{
	jwt.SigningMethodRS256.Name,
	jwt.SigningMethodRS384.Name,
	jwt.SigningMethodRS512.Name,
	jwt.SigningMethodES256.Name,
	jwt.SigningMethodES384.Name,
	jwt.SigningMethodES512.Name,
}

// DefaultLeeway is the clock skew tolerance applied to time-based claims.
const DefaultLeeway = 30 * time.Second

// KeyResolver resolves a token's key ID to public key material.
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// TokenVerifier validates bearer tokens against keys published by the
// identity provider. Verification is all-or-nothing: signature, issuer,
// audience (when configured) and expiry must all pass.
type TokenVerifier struct {
	ExpectedIssuer   string
	ExpectedAudience string
	Resolver         KeyResolver
	Leeway           time.Duration
}

func NewTokenVerifier(cfg *config.Config, resolver KeyResolver) *TokenVerifier {
	jwtCfg := cfg.JWT
	if jwtCfg == nil {
		jwtCfg = &config.JWT{}
	}
	leeway := DefaultLeeway
	if jwtCfg.Leeway > 0 {
		leeway = jwtCfg.Leeway
	}
	return &TokenVerifier{
		ExpectedIssuer:   jwtCfg.Issuer,
		ExpectedAudience: jwtCfg.Audience,
		Resolver:         resolver,
		Leeway:           leeway,
	}
}

// Verify validates the raw compact token and returns its claims. Each gate
// short-circuits: structural parse, algorithm allow-list, key resolution,
// signature, issuer, audience (opt-in), expiry.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (*types.Claims, error) {
	alg, kid, err := inspectHeader(rawToken)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, a := range AllowedAlgorithms {
		if a == alg {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	parser := jwt.NewParser(v.parserOptions()...)

	var claims types.Claims
	token, err := parser.ParseWithClaims(rawToken, &claims, func(token *jwt.Token) (any, error) {
		return v.Resolver.Resolve(ctx, kid)
	})
	if err != nil {
		return nil, v.mapParseError(err, &claims)
	}

	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	return &claims, nil
}

func (v *TokenVerifier) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(AllowedAlgorithms),
		jwt.WithIssuer(v.ExpectedIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.Leeway),
	}
	// Audience checking is opt-in: only enforced when one is configured.
	if v.ExpectedAudience != "" {
		opts = append(opts, jwt.WithAudience(v.ExpectedAudience))
	}
	return opts
}

// inspectHeader decodes the unverified token header and extracts the signing
// algorithm and key ID.
func inspectHeader(rawToken string) (alg, kid string, err error) {
	token, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	alg, ok := token.Header["alg"].(string)
	if !ok || alg == "" {
		return "", "", fmt.Errorf("%w: missing alg in token header", ErrMalformed)
	}

	kid, ok = token.Header["kid"].(string)
	if !ok || kid == "" {
		return "", "", fmt.Errorf("%w: missing kid in token header", ErrMalformed)
	}

	return alg, kid, nil
}

// mapParseError folds the golang-jwt error chain into the gateway's
// rejection taxonomy. Precedence follows the gate order so the logged reason
// names the first gate that failed.
func (v *TokenVerifier) mapParseError(err error, claims *types.Claims) error {
	switch {
	case errors.Is(err, jwks.ErrUnknownKey):
		return ErrUnknownKey
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrInvalidIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrInvalidAudience
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		// Both WithAudience and WithExpirationRequired make their claim
		// required, so a missing claim here is either aud or exp. A token
		// carrying no aud while one is expected fails the audience gate;
		// otherwise the token lacks an exp and can never pass the expiry gate.
		if v.ExpectedAudience != "" && len(claims.Audience) == 0 {
			return ErrInvalidAudience
		}
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		slog.Debug("Unclassified token validation failure", "error", err)
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
