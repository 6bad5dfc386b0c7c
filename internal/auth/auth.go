package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrAPIKeyRequired = errors.New("auth: api key required")

// KeyResolver picks the upstream API key for a proxied request. A bearer
// token sent by the caller overrides the server key.
type KeyResolver struct {
	serverKey string
}

func NewKeyResolver(serverKey string) *KeyResolver {
	return &KeyResolver{serverKey: strings.TrimSpace(serverKey)}
}

// Resolve returns the key to use for r, or ErrAPIKeyRequired.
func (k *KeyResolver) Resolve(r *http.Request) (string, error) {
	if key := BearerToken(r.Header.Get("Authorization")); key != "" {
		return key, nil
	}
	if k.serverKey != "" {
		return k.serverKey, nil
	}
	return "", ErrAPIKeyRequired
}

// HasServerKey reports whether requests without a bearer token can be served.
func (k *KeyResolver) HasServerKey() bool {
	return k.serverKey != ""
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
