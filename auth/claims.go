package auth

import "github.com/golang-jwt/jwt/v5"

// Issuer is the iss claim of every staff token.
const Issuer = "restobot"

// Staff roles. Admins can do everything staff can.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Claims identifies the operator behind a staff API request.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsStaff reports whether the role may use the staff control surface.
func (c *Claims) IsStaff() bool {
	return c != nil && (c.Role == RoleStaff || c.Role == RoleAdmin)
}
