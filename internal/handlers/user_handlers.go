package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"

	"github.com/01moynul/zyra-golang/internal/models"
)

const userSelect = `
	SELECT u.id, u.email, u.password_hash, u.full_name, u.phone, u.created_at, u.updated_at,
	       COALESCE(r.role, 'customer') AS role
	FROM users u
	LEFT JOIN user_roles r ON r.user_id = u.id`

// isDuplicate reports a MySQL unique key violation.
func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

func (h *Handlers) loadUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	if err := h.DB.GetContext(ctx, &user, userSelect+" WHERE u.id = ?", userID); err != nil {
		return nil, err
	}
	return &user, nil
}

// --- User Registration ---

// RegisterUserInput is the body of POST /v1/auth/register. Admins are
// promoted by other admins and cannot self-register.
type RegisterUserInput struct {
	FullName string `json:"fullName" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Phone    string `json:"phone"`
	Role     string `json:"role" binding:"omitempty,oneof=customer shop_owner"`
}

// Register is the handler for POST /v1/auth/register
func (h *Handlers) Register(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input RegisterUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := input.Role
	if role == "" {
		role = models.RoleCustomer
	}

	// 2. --- Hash the Password ---
	var password models.Password
	if err := password.Set(input.Password); err != nil {
		internalError(c, err, "Failed to hash password")
		return
	}

	// 3. --- Save user and role together ---
	ctx := c.Request.Context()
	tx, err := h.DB.BeginTxx(ctx, nil)
	if err != nil {
		internalError(c, err, "Failed to start transaction")
		return
	}
	defer tx.Rollback()

	now := h.now()
	user := models.User{
		Email:     strings.ToLower(strings.TrimSpace(input.Email)),
		FullName:  strings.TrimSpace(input.FullName),
		Phone:     strings.TrimSpace(input.Phone),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (email, password_hash, full_name, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.Email, password.Hash, user.FullName, user.Phone, now, now)
	if isDuplicate(err) {
		c.JSON(http.StatusConflict, gin.H{"error": "An account with this email already exists"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to create user")
		return
	}
	user.ID, err = res.LastInsertId()
	if err != nil {
		internalError(c, err, "Failed to get new user ID")
		return
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO user_roles (user_id, role) VALUES (?, ?)", user.ID, role); err != nil {
		internalError(c, err, "Failed to assign role")
		return
	}

	if err := tx.Commit(); err != nil {
		internalError(c, err, "Failed to commit registration")
		return
	}

	// 4. --- Issue a token ---
	token, err := h.Tokens.GenerateToken(user.ID)
	if err != nil {
		internalError(c, err, "Failed to generate token")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"user":  user,
		"role":  role,
	})
}

// LoginInput is the body of POST /v1/auth/login.
type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login is the handler for POST /v1/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 1. --- Find the user ---
	var user models.User
	err := h.DB.GetContext(c.Request.Context(), &user, userSelect+" WHERE u.email = ?",
		strings.ToLower(strings.TrimSpace(input.Email)))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if err != nil {
		internalError(c, err, "Database error")
		return
	}

	// 2. --- Check the password ---
	password := models.Password{Hash: user.PasswordHash}
	match, err := password.Matches(input.Password)
	if err != nil {
		internalError(c, err, "Failed to verify password")
		return
	}
	if !match {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	// 3. --- Issue a token ---
	token, err := h.Tokens.GenerateToken(user.ID)
	if err != nil {
		internalError(c, err, "Failed to generate token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
		"role":  user.Role,
	})
}

// GetMe is the handler for GET /v1/me
func (h *Handlers) GetMe(c *gin.Context) {
	user, err := h.loadUser(c.Request.Context(), currentUserID(c))
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load user")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": user,
		"role": user.Role,
	})
}
