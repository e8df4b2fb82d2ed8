package auth

import (
	"context"
	"errors"
)

// Identity is the verified caller of a control API request.
type Identity struct {
	UserID    string
	StationID string
	Role      string
}

type identityKey struct{}

var errNoIdentity = errors.New("identity not in context")

func WithIdentity(ctx context.Context, userID, stationID, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{UserID: userID, StationID: stationID, Role: role})
}

// IdentityFrom returns the identity installed by RequireAccessToken.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	return field(ctx, "user_id", func(id Identity) string { return id.UserID })
}

func StationID(ctx context.Context) (string, error) {
	return field(ctx, "station_id", func(id Identity) string { return id.StationID })
}

func Role(ctx context.Context) (string, error) {
	return field(ctx, "role", func(id Identity) string { return id.Role })
}

func field(ctx context.Context, name string, get func(Identity) string) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", errNoIdentity
	}
	if v := get(id); v != "" {
		return v, nil
	}
	return "", errors.New(name + " not in context")
}
