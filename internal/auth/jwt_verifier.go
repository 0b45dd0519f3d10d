package auth

import (
	"context"
	"errors"

	"github.com/ikkim/cartsync/pkg/util"
)

const ProviderJWT = "jwt"

// JWTVerifier accepts HS256 access tokens signed with the shared secret.
type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := util.ValidateToken(token, v.secret)
	if errors.Is(err, util.ErrExpiredToken) {
		return Identity{}, ErrExpiredToken
	}
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if claims.TokenType != util.TokenTypeAccess || claims.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.UserID, Email: claims.Email, Provider: ProviderJWT}, nil
}
