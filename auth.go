package origami

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ClientAuth identifies one client session. the token is the bearer
// token for both the rest api and the realtime socket. the client id
// marks deltas originated by this session, so the reconciler can tell
// its own commits apart from remote ones.
type ClientAuth struct {
	Token      string
	ClientId   Id
	AppVersion string
}

func NewClientAuth(token string) *ClientAuth {
	return &ClientAuth{
		Token:      token,
		ClientId:   NewId(),
		AppVersion: Version,
	}
}

func (self *ClientAuth) UserId() (Id, error) {
	claims, err := ParseTokenUnverified(self.Token)
	if err != nil {
		return Id{}, err
	}
	return claims.UserId, nil
}

type TokenClaims struct {
	UserId     Id
	Subject    string
	ExpireTime time.Time
}

// ParseTokenUnverified reads the claims without checking the
// signature. the backend verifies, the client only needs the user id
// and the expiry for local decisions.
func ParseTokenUnverified(token string) (*TokenClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	mapClaims := parsed.Claims.(gojwt.MapClaims)

	claims := &TokenClaims{}

	if subject, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = subject
		if userId, err := ParseId(subject); err == nil {
			claims.UserId = userId
		}
	}
	if expireTime, err := mapClaims.GetExpirationTime(); err == nil && expireTime != nil {
		claims.ExpireTime = expireTime.Time
	}

	return claims, nil
}

func (self *TokenClaims) IsExpired() bool {
	if self.ExpireTime.IsZero() {
		return false
	}
	return self.ExpireTime.Before(time.Now())
}
