package types

import "github.com/golang-jwt/jwt/v5"

// Claims is the fixed set of token claims the gateway inspects. Identity
// providers may attach arbitrary extra claims; anything not listed here is
// ignored during verification.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Principal returns the identity to attribute the request to: the token
// subject, falling back to the email claim when the subject is empty.
func (c *Claims) Principal() string {
	if c.Subject != "" {
		return c.Subject
	}
	if c.Email != "" {
		return c.Email
	}
	return "unknown"
}
