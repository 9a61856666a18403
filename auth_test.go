package origami

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/go-playground/assert/v2"
)

func signTestToken(t *testing.T, claims gojwt.MapClaims) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)
	return signed
}

func TestParseTokenUnverified(t *testing.T) {
	userId := NewId()
	expireTime := time.Now().Add(1 * time.Hour)

	signed := signTestToken(t, gojwt.MapClaims{
		"sub": userId.String(),
		"exp": expireTime.Unix(),
	})

	claims, err := ParseTokenUnverified(signed)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.UserId, userId)
	assert.Equal(t, claims.Subject, userId.String())
	assert.Equal(t, claims.ExpireTime.Unix(), expireTime.Unix())
	assert.Equal(t, claims.IsExpired(), false)
}

func TestParseTokenExpired(t *testing.T) {
	signed := signTestToken(t, gojwt.MapClaims{
		"sub": NewId().String(),
		"exp": time.Now().Add(-1 * time.Hour).Unix(),
	})

	claims, err := ParseTokenUnverified(signed)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.IsExpired(), true)
}

func TestParseTokenNonUuidSubject(t *testing.T) {
	// auth0 subjects are not always uuids. the claims still parse
	signed := signTestToken(t, gojwt.MapClaims{
		"sub": "auth0|someuser",
	})

	claims, err := ParseTokenUnverified(signed)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.Subject, "auth0|someuser")
	assert.Equal(t, claims.UserId, Id{})
	// no expiry claim means the token does not expire locally
	assert.Equal(t, claims.IsExpired(), false)
}

func TestParseTokenMalformed(t *testing.T) {
	_, err := ParseTokenUnverified("not-a-jwt")
	assert.NotEqual(t, err, nil)
}

func TestClientAuth(t *testing.T) {
	userId := NewId()
	signed := signTestToken(t, gojwt.MapClaims{
		"sub": userId.String(),
	})

	auth := NewClientAuth(signed)
	assert.Equal(t, auth.Token, signed)
	assert.Equal(t, auth.AppVersion, Version)
	assert.NotEqual(t, auth.ClientId, Id{})

	// each session gets its own client id
	auth2 := NewClientAuth(signed)
	assert.NotEqual(t, auth.ClientId, auth2.ClientId)

	parsedUserId, err := auth.UserId()
	assert.Equal(t, err, nil)
	assert.Equal(t, parsedUserId, userId)
}
