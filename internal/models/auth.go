package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenRequest asks for an API token scoped to one portal user.
type TokenRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// TokenResponse returns an issued bearer token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// JWTClaims represents the JWT payload for access tokens. Subject carries the portal user id.
type JWTClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
