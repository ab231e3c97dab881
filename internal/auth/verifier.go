package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/store"
)

var ErrUnknownUser = errors.New("unknown user")

// Identity is who a verified connection belongs to.
type Identity struct {
	UserID   string
	Username string
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (store.User, error)
	UpsertUser(ctx context.Context, u store.User) error
}

// Verifier turns a bearer token into an Identity. Users named in a valid
// token are created on first sight when the token carries a username.
type Verifier struct {
	jwt   *JWTValidator
	users UserStore
}

func NewVerifier(jwt *JWTValidator, users UserStore) *Verifier {
	return &Verifier{jwt: jwt, users: users}
}

func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	claims, err := v.jwt.ValidateToken(token)
	if err != nil {
		return Identity{}, err
	}

	user, err := v.users.GetUser(ctx, claims.Sub)
	switch {
	case err == nil:
		if claims.Username != "" && claims.Username != user.Username {
			user.Username = claims.Username
			if err := v.users.UpsertUser(ctx, user); err != nil {
				return Identity{}, fmt.Errorf("update user: %w", err)
			}
		}
	case errors.Is(err, store.ErrNotFound):
		if claims.Username == "" {
			return Identity{}, ErrUnknownUser
		}
		user = store.User{ID: claims.Sub, Username: claims.Username}
		if err := v.users.UpsertUser(ctx, user); err != nil {
			return Identity{}, fmt.Errorf("create user: %w", err)
		}
	default:
		return Identity{}, fmt.Errorf("load user: %w", err)
	}

	return Identity{UserID: user.ID, Username: user.Username}, nil
}
