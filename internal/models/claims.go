package models

import "github.com/golang-jwt/jwt/v5"

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UserClaims are carried in access tokens issued by the surrounding
// application; operators hold RoleAdmin.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the token belongs to an operator.
func (c *UserClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
