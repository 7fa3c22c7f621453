package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errEmptyToken = errors.New("empty token")

// Claims 令牌中我们关心的声明
type Claims struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scope     []string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Scope jwt.ClaimStrings `json:"scp,omitempty"`
}

// DecodeClaims 解析令牌声明（只解码，不验签）
func DecodeClaims(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errEmptyToken
	}

	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("read iat: %w", err)
	}
	if iat == nil {
		return nil, fmt.Errorf("token has no iat claim")
	}

	result := &Claims{
		IssuedAt: iat.Time,
		Scope:    []string(claims.Scope),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		result.ExpiresAt = exp.Time
	}
	return result, nil
}
