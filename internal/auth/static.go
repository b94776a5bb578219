package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidToken = errors.New("invalid token")

// StaticVerifier accepts a fixed set of tokens. It backs local runs and
// tests where no identity provider is available.
type StaticVerifier map[string]Identity

func (v StaticVerifier) VerifyAccessToken(_ context.Context, token string) (Identity, error) {
	id, ok := v[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// ParseStaticTokens reads "token=id[:email][:admin]" entries separated by
// commas, e.g. "devtoken=alice:alice@example.com,root=ops::admin".
func ParseStaticTokens(raw string) (StaticVerifier, error) {
	out := StaticVerifier{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, rest, ok := strings.Cut(entry, "=")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return nil, fmt.Errorf("static token %q: want token=id[:email][:admin]", entry)
		}
		parts := strings.Split(rest, ":")
		id := Identity{ID: strings.TrimSpace(parts[0])}
		if id.ID == "" {
			return nil, fmt.Errorf("static token %q: empty id", token)
		}
		if len(parts) > 1 {
			id.Email = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			id.Admin = strings.EqualFold(strings.TrimSpace(parts[2]), "admin")
		}
		if len(parts) > 3 {
			return nil, fmt.Errorf("static token %q: too many fields", token)
		}
		out[token] = id
	}
	return out, nil
}
