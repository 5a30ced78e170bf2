package auth_test

import (
	"testing"
	"time"

	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	a := auth.NewJWTAuthenticator("secret")

	token, err := a.IssueToken(auth.Identity{ID: "a1", Name: "Carla", IsAdmin: true}, time.Hour)
	require.NoError(t, err)

	id, err := a.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "a1", id.ID)
	assert.Equal(t, "Carla", id.Name)
	assert.True(t, id.IsAdmin)
	assert.Equal(t, models.RoleAdmin, id.Participant().Role)
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	a := auth.NewJWTAuthenticator("secret")

	_, err := a.Authenticate("")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	other, err := auth.NewJWTAuthenticator("other").IssueToken(auth.Identity{ID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = a.Authenticate(other)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	expired, err := a.IssueToken(auth.Identity{ID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = a.Authenticate(expired)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "Ana"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = a.Authenticate(noSub)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Authenticate(none)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestShopperParticipant(t *testing.T) {
	p := auth.Identity{ID: "u1", Name: "Ana"}.Participant()
	assert.Equal(t, models.RoleShopper, p.Role)
	assert.True(t, p.CanInitiateRoom())
	assert.False(t, p.CanClaimRoom())
}

func TestBearerToken(t *testing.T) {
	tok, ok := auth.BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = auth.BearerToken("abc")
	assert.False(t, ok)
	_, ok = auth.BearerToken("Bearer ")
	assert.False(t, ok)
}
