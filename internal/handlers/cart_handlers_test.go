package handlers

import (
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/01moynul/zyra-golang/internal/models"
)

var (
	cartCols        = []string{"id", "product_id", "name", "price", "image_url", "category", "shop_id", "shop_name", "quantity", "size", "color", "stock"}
	cartProductCols = []string{"id", "name", "stock", "sizes", "colors", "is_active", "shop_active"}
)

const (
	cartSelectRe  = `FROM cart_items ci\s+JOIN products p ON p.id = ci.product_id\s+JOIN shops s`
	cartProductRe = `FROM products p\s+JOIN shops s ON s.id = p.shop_id\s+WHERE p.id = \?\s+FOR UPDATE`
)

func TestBuildCartTotalsEqualLineSum(t *testing.T) {
	cart := buildCart([]models.CartLine{
		{ID: 1, Price: 10.25, Quantity: 2},
		{ID: 2, Price: 5.5, Quantity: 1},
		{ID: 3, Price: 0.1, Quantity: 3},
	})

	assert.Equal(t, 20.5, cart.Items[0].LineTotal)
	assert.Equal(t, 0.3, cart.Items[2].LineTotal)
	assert.Equal(t, 26.3, cart.Subtotal)
	assert.Equal(t, 6, cart.TotalItems)
}

func TestBuildCartEmpty(t *testing.T) {
	cart := buildCart(nil)
	assert.NotNil(t, cart.Items)
	assert.Zero(t, cart.Subtotal)
	assert.Zero(t, cart.TotalItems)
}

func TestGetCart(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(cartSelectRe).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cartCols).
			AddRow(1, 100, "Tee", 10.25, "", "Clothing", 1, "Shop A", 2, "M", "", 5).
			AddRow(2, 200, "Mug", 5.5, "", nil, 2, "Shop B", 1, "", "", 9))

	w := env.do(env.h.GetCart, request{method: http.MethodGet, route: "/cart", path: "/cart", userID: 7, role: "customer"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 26.0, body["subtotal"])
	assert.Equal(t, float64(3), body["totalItems"])
	assert.Len(t, body["items"], 2)
}

func TestAddToCart(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(cartProductRe).WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(cartProductCols).AddRow(100, "Tee", 5, `["S","M"]`, nil, true, true))
	env.mock.ExpectQuery(`SELECT COALESCE\(SUM\(quantity\), 0\) FROM cart_items`).WithArgs(int64(7), int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1))
	env.mock.ExpectExec(`INSERT INTO cart_items .* ON DUPLICATE KEY UPDATE quantity = quantity \+ VALUES\(quantity\)`).
		WithArgs(int64(7), int64(100), 2, "M", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	env.mock.ExpectCommit()
	env.mock.ExpectQuery(cartSelectRe).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cartCols).AddRow(1, 100, "Tee", 10.0, "", nil, 1, "Shop A", 3, "M", "", 5))

	w := env.do(env.h.AddToCart, request{
		method: http.MethodPost, route: "/cart/items", path: "/cart/items", userID: 7, role: "customer",
		body: `{"productId":100,"quantity":2,"size":"M"}`,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), decode(t, w)["totalItems"])
	assert.Equal(t, []string{"cart.changed"}, env.rt.eventsOn("cart:7"))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestAddToCartRejectsUnknownSize(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(cartProductRe).
		WillReturnRows(sqlmock.NewRows(cartProductCols).AddRow(100, "Tee", 5, `["S","M"]`, nil, true, true))
	env.mock.ExpectRollback()

	w := env.do(env.h.AddToCart, request{
		method: http.MethodPost, route: "/cart/items", path: "/cart/items", userID: 7, role: "customer",
		body: `{"productId":100,"quantity":1,"size":"XXL"}`,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.rt.eventsOn("cart:7"))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestAddToCartRejectsMoreThanStock(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(cartProductRe).
		WillReturnRows(sqlmock.NewRows(cartProductCols).AddRow(100, "Tee", 5, nil, nil, true, true))
	env.mock.ExpectQuery(`SELECT COALESCE\(SUM\(quantity\), 0\) FROM cart_items`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(4))
	env.mock.ExpectRollback()

	w := env.do(env.h.AddToCart, request{
		method: http.MethodPost, route: "/cart/items", path: "/cart/items", userID: 7, role: "customer",
		body: `{"productId":100,"quantity":2}`,
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestAddToCartInactiveShop(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(cartProductRe).
		WillReturnRows(sqlmock.NewRows(cartProductCols).AddRow(100, "Tee", 5, nil, nil, true, false))
	env.mock.ExpectRollback()

	w := env.do(env.h.AddToCart, request{
		method: http.MethodPost, route: "/cart/items", path: "/cart/items", userID: 7, role: "customer",
		body: `{"productId":100,"quantity":1}`,
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateCartItemZeroRemoves(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectExec(`DELETE FROM cart_items WHERE id = \? AND user_id = \?`).WithArgs(int64(3), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectQuery(cartSelectRe).WithArgs(int64(7)).WillReturnRows(sqlmock.NewRows(cartCols))

	w := env.do(env.h.UpdateCartItem, request{
		method: http.MethodPut, route: "/cart/items/:id", path: "/cart/items/3", userID: 7, role: "customer",
		body: `{"quantity":0}`,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(0), decode(t, w)["totalItems"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestDeleteCartItemNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectExec(`DELETE FROM cart_items WHERE id = \? AND user_id = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := env.do(env.h.DeleteCartItem, request{
		method: http.MethodDelete, route: "/cart/items/:id", path: "/cart/items/3", userID: 7, role: "customer",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, env.rt.eventsOn("cart:7"))
}
