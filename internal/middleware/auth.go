package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/01moynul/zyra-golang/internal/auth"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey   = "userID"
	UserRoleKey = "userRole"
)

// LookupRole returns the role of an existing user. A user without a
// user_roles row is a customer; an unknown user yields sql.ErrNoRows.
func LookupRole(ctx context.Context, db *sqlx.DB, userID int64) (string, error) {
	var role string
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(r.role, 'customer')
		FROM users u
		LEFT JOIN user_roles r ON r.user_id = u.id
		WHERE u.id = ?`, userID).Scan(&role)
	return role, err
}

func bearerToken(c *gin.Context) (string, bool) {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	// Browsers cannot set headers on websocket upgrades.
	if t := c.Query("token"); t != "" {
		return t, true
	}
	return "", false
}

// AuthMiddleware validates the bearer token and loads the caller's role.
func AuthMiddleware(db *sqlx.DB, tokens *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. --- Get the token ---
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		// 2. --- Validate Token ---
		userID, err := tokens.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		// 3. --- Load role ---
		role, err := LookupRole(c.Request.Context(), db, userID)
		if errors.Is(err, sql.ErrNoRows) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid user"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Database error checking role"})
			return
		}

		// 4. --- Success ---
		c.Set(UserIDKey, userID)
		c.Set(UserRoleKey, role)
		c.Next()
	}
}

// RequireRole lets the request through only when the caller has one of
// roles. It must run after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(UserRoleKey)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User role not found in context (AuthMiddleware must run first)"})
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied: " + strings.Join(roles, " or ") + " role required"})
	}
}
