package client

import "context"

type ownerKey struct{}

// WithOwner tags ctx with the identity of the caller. In strict ownership
// mode the pool binds acquired clients to this identity and every client
// operation asserts it.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner carried by ctx
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok
}
