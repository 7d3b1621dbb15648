// Package tokenstore holds the bearer credential of the console session.
//
// Tokens are stored raw. A value handed over with a "Bearer " prefix is
// normalized on Set so the Authorization header is built exactly once.
package tokenstore

import (
	"context"
	"strings"
)

// Key is the name of the single durable slot holding the token.
const Key = "token"

const bearerPrefix = "bearer "

// Store persists the current bearer credential.
type Store interface {
	// Set stores token, overwriting any prior value.
	Set(ctx context.Context, token string) error
	// Get returns the raw token, or "" when absent.
	Get(ctx context.Context) (string, error)
	// Clear removes the token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Normalize strips surrounding whitespace and any leading "Bearer " prefix.
func Normalize(token string) string {
	token = strings.TrimSpace(token)
	for len(token) >= len(bearerPrefix) && strings.EqualFold(token[:len(bearerPrefix)], bearerPrefix) {
		token = strings.TrimSpace(token[len(bearerPrefix):])
	}
	return token
}
