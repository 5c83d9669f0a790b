package auth

import (
	"errors"
	"fmt"
	"time"

	"tasknest-ai-server/src/configs"

	"github.com/golang-jwt/jwt/v5"
)

// UserClaims 用户JWT载荷
type UserClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthToken 用户token签发与校验
type AuthToken struct {
	secretKey []byte
	issuer    string
	expiry    time.Duration
}

// NewAuthToken 创建AuthToken实例
func NewAuthToken(cfg configs.JWTConfig) *AuthToken {
	expiry := time.Duration(cfg.Expiry) * time.Hour
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &AuthToken{
		secretKey: []byte(cfg.Key),
		issuer:    cfg.Issuer,
		expiry:    expiry,
	}
}

// GenerateToken 为用户签发JWT token
func (at *AuthToken) GenerateToken(userID string) (string, error) {
	if len(at.secretKey) == 0 {
		return "", errors.New("JWT密钥未配置")
	}
	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    at.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(at.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(at.secretKey)
	if err != nil {
		return "", fmt.Errorf("签发token失败: %w", err)
	}
	return tokenString, nil
}

// ParseToken 校验token并返回用户ID
func (at *AuthToken) ParseToken(tokenString string) (*UserClaims, error) {
	if at == nil || len(at.secretKey) == 0 {
		return nil, errors.New("JWT密钥未配置")
	}

	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", t.Header["alg"])
		}
		return at.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("无效的token")
	}
	return claims, nil
}
