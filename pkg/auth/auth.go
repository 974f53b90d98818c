package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"

	"github.com/strongmind/rtvi-gateway/pkg/config"
	"github.com/strongmind/rtvi-gateway/pkg/types"
	"github.com/strongmind/rtvi-gateway/pkg/utils"
)

// Denial reasons for the Basic-Auth path. Like the verifier's reasons these
// stay internal; clients receive a bare authentication challenge.
var (
	ErrNoCredentials      = errors.New("no credentials supplied")
	ErrCredentialMismatch = errors.New("credentials do not match")
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*types.Claims, error)
}

// Decision is the final verdict for one request.
type Decision struct {
	Allow     bool
	Principal string
	Reason    error // internal diagnostic when Allow is false
}

// Authenticator decides whether a request is authorized: bearer-token
// verification first when enabled, static Basic-Auth credentials as the
// fallback. Stateless across requests.
type Authenticator struct {
	jwtEnabled bool
	verifier   TokenVerifier
	username   string
	password   string
}

func NewAuthenticator(cfg *config.Config, verifier TokenVerifier) *Authenticator {
	return &Authenticator{
		jwtEnabled: cfg.JWT != nil && cfg.JWT.Enabled,
		verifier:   verifier,
		username:   cfg.BasicAuth.Username,
		password:   cfg.BasicAuth.Password,
	}
}

// Authenticate inspects the Authorization header value and produces the
// verdict. A rejected bearer token never blocks the fallback: whatever the
// JWT failure, valid Basic credentials still win.
func (a *Authenticator) Authenticate(ctx context.Context, authorization string) Decision {
	if a.jwtEnabled && a.verifier != nil {
		if rawToken, ok := bearerToken(authorization); ok {
			claims, err := a.verifier.Verify(ctx, rawToken)
			if err == nil {
				return Decision{Allow: true, Principal: claims.Principal()}
			}
			slog.Debug("Bearer token rejected, trying basic auth fallback",
				"reason", err.Error(),
				"token", utils.RedactToken(rawToken, 8, 4))
		}
	}

	return a.checkBasic(authorization)
}

// Challenge returns the WWW-Authenticate value to send with a denial. With
// JWT enabled both schemes are advertised, since Basic stays available as the
// fallback and browsers only prompt on a Basic challenge.
func (a *Authenticator) Challenge() string {
	if a.jwtEnabled {
		return `Bearer, Basic realm="rtvi-gateway"`
	}
	return `Basic realm="rtvi-gateway"`
}

func (a *Authenticator) checkBasic(authorization string) Decision {
	username, password, ok := basicCredentials(authorization)
	if !ok {
		return Decision{Reason: ErrNoCredentials}
	}

	// Constant-time comparison on both fields so a mismatch cannot be probed
	// character by character.
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if usernameMatch && passwordMatch {
		return Decision{Allow: true, Principal: username}
	}

	return Decision{Reason: ErrCredentialMismatch}
}

func bearerToken(authorization string) (string, bool) {
	const prefix = "Bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", false
	}
	return authorization[len(prefix):], true
}

func basicCredentials(authorization string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(authorization[len(prefix):])
	if err != nil {
		return "", "", false
	}

	username, password, ok = strings.Cut(string(decoded), ":")
	return username, password, ok
}
