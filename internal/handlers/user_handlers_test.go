package handlers

import (
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/01moynul/zyra-golang/internal/models"
)

var userCols = []string{"id", "email", "password_hash", "full_name", "phone", "created_at", "updated_at", "role"}

func TestRegisterShopOwner(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectExec(`INSERT INTO users`).
		WithArgs("ann@example.com", sqlmock.AnyArg(), "Ann", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(42, 1))
	env.mock.ExpectExec(`INSERT INTO user_roles`).
		WithArgs(int64(42), models.RoleShopOwner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	w := env.do(env.h.Register, request{
		method: http.MethodPost, route: "/auth/register", path: "/auth/register",
		body: `{"fullName":"Ann","email":"Ann@Example.com","password":"longenough","role":"shop_owner"}`,
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "shop_owner", body["role"])
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, float64(42), user["id"])
	assert.NotContains(t, user, "password_hash")

	id, err := env.h.Tokens.ValidateToken(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegisterRejectsAdminRole(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(env.h.Register, request{
		method: http.MethodPost, route: "/auth/register", path: "/auth/register",
		body: `{"fullName":"Eve","email":"eve@example.com","password":"longenough","role":"admin"}`,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	env.mock.ExpectRollback()

	w := env.do(env.h.Register, request{
		method: http.MethodPost, route: "/auth/register", path: "/auth/register",
		body: `{"fullName":"Ann","email":"ann@example.com","password":"longenough"}`,
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestLogin(t *testing.T) {
	var pw models.Password
	require.NoError(t, pw.Set("correct horse"))

	tests := []struct {
		name     string
		password string
		want     int
	}{
		{"valid", "correct horse", http.StatusOK},
		{"wrong password", "battery staple", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mock.ExpectQuery(`FROM users u\s+LEFT JOIN user_roles r .* WHERE u.email = \?`).
				WithArgs("bob@example.com").
				WillReturnRows(sqlmock.NewRows(userCols).
					AddRow(7, "bob@example.com", pw.Hash, "Bob", "", testNow, testNow, "customer"))

			w := env.do(env.h.Login, request{
				method: http.MethodPost, route: "/auth/login", path: "/auth/login",
				body: `{"email":"bob@example.com","password":"` + tt.password + `"}`,
			})

			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`WHERE u.email = \?`).
		WillReturnRows(sqlmock.NewRows(userCols))

	w := env.do(env.h.Login, request{
		method: http.MethodPost, route: "/auth/login", path: "/auth/login",
		body: `{"email":"nobody@example.com","password":"whatever1"}`,
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetMeDefaultsToCustomer(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`COALESCE\(r.role, 'customer'\) AS role`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(7, "bob@example.com", "x", "Bob", "", testNow, testNow, "customer"))

	w := env.do(env.h.GetMe, request{method: http.MethodGet, route: "/me", path: "/me", userID: 7, role: "customer"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "customer", decode(t, w)["role"])
}
