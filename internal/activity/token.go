package activity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSigner はフィードサービス用のJWTをHS256で署名する。
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner はTokenSignerを生成する。
func NewTokenSigner(secret string) (*TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("feed api secret is empty")
	}
	return &TokenSigner{secret: []byte(secret)}, nil
}

// ServerToken はサーバー間呼び出し用の全権限トークンを返す。
func (s *TokenSigner) ServerToken() (string, error) {
	return s.sign(jwt.MapClaims{
		"resource": "*",
		"action":   "*",
		"feed_id":  "*",
	})
}

// UserToken はユーザー単位のクライアントトークンを返す。
func (s *TokenSigner) UserToken(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is empty")
	}
	return s.sign(jwt.MapClaims{"user_id": userID})
}

func (s *TokenSigner) sign(claims jwt.MapClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign feed token: %w", err)
	}
	return signed, nil
}

var _ TokenIssuer = (*TokenSigner)(nil)
