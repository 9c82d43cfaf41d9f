// Package jwt реализует выпуск и разбор JWT токенов сессии.
//
// Токен несёт идентификатор пользователя (sub), его email и уникальный
// идентификатор самого токена (jti), по которому сессию можно отозвать.
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims описывает данные сессии, хранящиеся в JWT.
type Claims struct {
	Email                string `json:"email"` // Email пользователя на момент входа
	jwt.RegisteredClaims        // sub = ID пользователя, jti = ID токена, exp/iat
}

// UserID возвращает идентификатор пользователя из claim sub.
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenID возвращает идентификатор токена из claim jti.
func (c *Claims) TokenID() string {
	return c.ID
}
