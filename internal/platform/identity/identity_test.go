package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "certifier/pkg/domain"
	dErrors "certifier/pkg/domain-errors"
	"certifier/pkg/requestcontext"
)

var service = NewService("test-signing-key", "test-issuer", time.Hour)

var caller = requestcontext.Caller{
	UserID: id.UserID(uuid.New()),
	Name:   "Grace Hopper",
	Email:  "grace@example.com",
	Role:   id.RoleApplicant,
}

func Test_Issue(t *testing.T) {
	token, err := service.Issue(caller)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, caller.UserID.String(), claims.Subject)
	assert.Equal(t, caller.Name, claims.Name)
	assert.Equal(t, caller.Email, claims.Email)
	assert.Equal(t, "applicant", claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_Authenticate(t *testing.T) {
	token, err := service.Issue(caller)
	require.NoError(t, err)

	got, err := service.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, caller, got)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := service.ValidateToken("invalid-token-string")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := service.issueWithTTL(caller, -time.Hour)
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))
	assert.Equal(t, "token has expired", err.Error())
}

func Test_ValidateToken_WrongIssuer(t *testing.T) {
	other := NewService("test-signing-key", "someone-else", time.Hour)
	token, err := other.Issue(caller)
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other := NewService("another-key", "test-issuer", time.Hour)
	token, err := other.Issue(caller)
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Authenticate_RejectsUnknownRole(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	_, err = service.Authenticate(signed)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, ""))
}
