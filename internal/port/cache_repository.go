package port

import "context"

type RequestGuard interface {
	// Acquire marks a request key as in use and returns the token that owns it,
	// ok is false if the key is already held
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)

	// Release frees the key if token still owns it, so the request can be reissued
	Release(ctx context.Context, key, token string) error
}
