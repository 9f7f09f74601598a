package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/score-tracker/internal/models"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
)

func newAuthService() *AuthService {
	return NewAuthService(nil, nil, AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "score-tracker",
	})
}

func TestIssueAndValidateToken(t *testing.T) {
	svc := newAuthService()

	resp, err := svc.IssueToken(models.TokenRequest{UserID: "B21000001"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "B21000001", claims.Subject)
	assert.Equal(t, "B21000001", claims.UserID)
	assert.NotEmpty(t, claims.ID)
}

func TestIssueTokenRequiresUser(t *testing.T) {
	_, err := newAuthService().IssueToken(models.TokenRequest{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	other := NewAuthService(nil, nil, AuthConfig{AccessTokenSecret: "other", AccessTokenExpiry: time.Hour, Issuer: "score-tracker"})
	resp, err := other.IssueToken(models.TokenRequest{UserID: "u1"})
	require.NoError(t, err)

	_, err = newAuthService().ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	claims := &models.JWTClaims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "score-tracker",
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = newAuthService().ValidateToken(signed)
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	other := NewAuthService(nil, nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "elsewhere"})
	resp, err := other.IssueToken(models.TokenRequest{UserID: "u1"})
	require.NoError(t, err)

	_, err = newAuthService().ValidateToken(resp.AccessToken)
	require.Error(t, err)
}
