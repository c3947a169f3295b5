package handlers

import (
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/01moynul/zyra-golang/internal/events"
)

var (
	addressCols = []string{"id", "user_id", "full_name", "phone", "address_line1", "address_line2", "city", "state",
		"postal_code", "latitude", "longitude", "is_default", "created_at"}
	checkoutLineCols = []string{"cart_item_id", "product_id", "product_name", "shop_id", "shop_name", "shop_owner_id",
		"quantity", "price", "stock", "size", "color", "product_active", "shop_active"}
)

const checkoutLinesRe = `FROM cart_items ci .* WHERE ci.user_id = \? ORDER BY p.shop_id ASC, ci.id ASC FOR UPDATE`

func expectDefaultAddress(mock sqlmock.Sqlmock, userID int64) {
	mock.ExpectQuery(`FROM addresses WHERE user_id = \? ORDER BY is_default DESC`).WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(addressCols).
			AddRow(3, userID, "Asha", "9999999999", "12 Lake Rd", "", "Kolkata", "WB", "700001", nil, nil, true, testNow))
}

// twoShopCart is a cart with one line from shop 1 (owner 11) and one from
// shop 2 (owner 12): 2 x 10.25 + 1 x 5.50.
func twoShopCart() *sqlmock.Rows {
	return sqlmock.NewRows(checkoutLineCols).
		AddRow(1, 100, "Tee", 1, "Shop A", 11, 2, 10.25, 5, "M", "", true, true).
		AddRow(2, 200, "Mug", 2, "Shop B", 12, 1, 5.5, 3, "", "", true, true)
}

func expectTwoShopCheckout(mock sqlmock.Sqlmock) {
	expectDefaultAddress(mock, 7)
	mock.ExpectBegin()
	mock.ExpectQuery(checkoutLinesRe).WithArgs(int64(7)).WillReturnRows(twoShopCart())

	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs(sqlmock.AnyArg(), int64(7), int64(1), "Asha", "9999999999", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "cod", sqlmock.AnyArg(), 20.5, "pending", sqlmock.AnyArg(),
			testNow, testNow).
		WillReturnResult(sqlmock.NewResult(501, 1))
	mock.ExpectExec(`INSERT INTO order_items`).WithArgs(int64(501), int64(100), 2, 10.25, "M", "", testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs(sqlmock.AnyArg(), int64(7), int64(2), "Asha", "9999999999", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "cod", sqlmock.AnyArg(), 5.5, "pending", sqlmock.AnyArg(),
			testNow, testNow).
		WillReturnResult(sqlmock.NewResult(502, 1))
	mock.ExpectExec(`INSERT INTO order_items`).WithArgs(int64(502), int64(200), 1, 5.5, "", "", testNow).
		WillReturnResult(sqlmock.NewResult(2, 1))

	mock.ExpectExec(`UPDATE products SET stock = stock - \?`).WithArgs(2, testNow, int64(100), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products SET stock = stock - \?`).WithArgs(1, testNow, int64(200), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM cart_items WHERE user_id = \?`).WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	mock.ExpectExec(`INSERT INTO notifications`).WithArgs(int64(11), sqlmock.AnyArg(), sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO notifications`).WithArgs(int64(12), sqlmock.AnyArg(), sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(2, 1))
}

func checkoutRequest(body string, headers map[string]string) request {
	return request{
		method: http.MethodPost, route: "/checkout", path: "/checkout", userID: 7, role: "customer",
		body: body, headers: headers,
	}
}

func TestCheckoutSplitsCartPerShop(t *testing.T) {
	env := newTestEnv(t)
	expectTwoShopCheckout(env.mock)

	w := env.do(env.h.Checkout, checkoutRequest(`{"paymentMethod":"COD"}`, nil))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 26.0, body["grandTotal"])
	assert.NotEmpty(t, body["checkoutRef"])

	created := body["orders"].([]any)
	require.Len(t, created, 2)
	first := created[0].(map[string]any)
	assert.Equal(t, float64(501), first["id"])
	assert.Equal(t, float64(1), first["shopId"])
	assert.Equal(t, 20.5, first["totalAmount"])
	assert.Equal(t, "pending", first["status"])
	assert.Regexp(t, `^ZY-20260315-[0-9A-F]{8}$`, first["orderNumber"])

	assert.Equal(t, []string{"order.created", "order.created"}, env.rt.eventsOn("orders:user:7"))
	assert.Equal(t, []string{"order.created"}, env.rt.eventsOn("orders:shop:1"))
	assert.Equal(t, []string{"order.created"}, env.rt.eventsOn("orders:shop:2"))
	assert.Equal(t, []string{"notification.created"}, env.rt.eventsOn("notifications:11"))
	assert.Equal(t, []string{"cart.changed"}, env.rt.eventsOn("cart:7"))

	require.Len(t, env.evs.evs, 2)
	for _, ev := range env.evs.evs {
		assert.Equal(t, events.OrderCreated, ev.Event)
		assert.Equal(t, int64(7), ev.UserID)
	}
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCheckoutReplaysIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	expectTwoShopCheckout(env.mock)
	headers := map[string]string{IdempotencyHeader: "retry-1"}

	first := env.do(env.h.Checkout, checkoutRequest(`{"paymentMethod":"cod"}`, headers))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	// No further database expectations: a replay must not touch the store.
	second := env.do(env.h.Checkout, checkoutRequest(`{"paymentMethod":"cod"}`, headers))

	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, env.evs.evs, 2)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCheckoutInsufficientStockRollsBack(t *testing.T) {
	env := newTestEnv(t)
	expectDefaultAddress(env.mock, 7)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(checkoutLinesRe).WillReturnRows(sqlmock.NewRows(checkoutLineCols).
		AddRow(1, 100, "Tee", 1, "Shop A", 11, 2, 10.25, 1, "M", "", true, true))
	env.mock.ExpectRollback()

	w := env.do(env.h.Checkout, checkoutRequest(`{"paymentMethod":"cod"}`, map[string]string{IdempotencyHeader: "k"}))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Tee")
	assert.Empty(t, env.rt.eventsOn("orders:user:7"))
	assert.Empty(t, env.evs.evs)
	assert.NoError(t, env.mock.ExpectationsWereMet())

	// The failed attempt released its key, so a retry runs again.
	_, found, err := env.h.Idempotency.Begin(t.Context(), "checkout:7:k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCheckoutStockRaceRollsBack(t *testing.T) {
	env := newTestEnv(t)
	expectDefaultAddress(env.mock, 7)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(checkoutLinesRe).WillReturnRows(sqlmock.NewRows(checkoutLineCols).
		AddRow(1, 100, "Tee", 1, "Shop A", 11, 1, 10.0, 1, "", "", true, true))
	env.mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(501, 1))
	env.mock.ExpectExec(`INSERT INTO order_items`).WillReturnResult(sqlmock.NewResult(1, 1))
	env.mock.ExpectExec(`UPDATE products SET stock = stock - \?`).WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectRollback()

	w := env.do(env.h.Checkout, checkoutRequest(`{"paymentMethod":"cod"}`, nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCheckoutDeadlockIsConflict(t *testing.T) {
	env := newTestEnv(t)
	expectDefaultAddress(env.mock, 7)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(checkoutLinesRe).WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	env.mock.ExpectRollback()

	w := env.do(env.h.Checkout, checkoutRequest(`{"paymentMethod":"cod"}`, nil))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckoutEmptyCart(t *testing.T) {
	env := newTestEnv(t)
	expectDefaultAddress(env.mock, 7)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(checkoutLinesRe).WillReturnRows(sqlmock.NewRows(checkoutLineCols))
	env.mock.ExpectRollback()

	w := env.do(env.h.Checkout, checkoutRequest(`{"paymentMethod":"cod"}`, nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCheckoutWithoutAddress(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`FROM addresses WHERE user_id = \?`).WillReturnRows(sqlmock.NewRows(addressCols))

	w := env.do(env.h.Checkout, checkoutRequest(`{"paymentMethod":"cod"}`, nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Please add a delivery address", decode(t, w)["error"])
}

func TestCheckoutRejectsBadPayment(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown method", `{"paymentMethod":"card"}`},
		{"upi without id", `{"paymentMethod":"upi"}`},
		{"malformed upi id", `{"paymentMethod":"upi","upiId":"not-an-id"}`},
		{"missing method", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do(env.h.Checkout, checkoutRequest(tt.body, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestGetCheckoutSummaryGroupsByShop(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(cartSelectRe).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cartCols).
			AddRow(1, 100, "Tee", 10.25, "", nil, 1, "Shop A", 2, "M", "", 5).
			AddRow(2, 200, "Mug", 5.5, "", nil, 2, "Shop B", 1, "", "", 9).
			AddRow(3, 101, "Cap", 4.0, "", nil, 1, "Shop A", 1, "", "", 9))
	expectDefaultAddress(env.mock, 7)

	w := env.do(env.h.GetCheckoutSummary, request{
		method: http.MethodGet, route: "/checkout/summary", path: "/checkout/summary", userID: 7, role: "customer",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 30.0, body["total"])
	shops := body["shops"].([]any)
	require.Len(t, shops, 2)
	first := shops[0].(map[string]any)
	assert.Equal(t, "Shop A", first["shopName"])
	assert.Equal(t, 24.5, first["subtotal"])
	assert.Len(t, first["items"], 2)
	assert.NotNil(t, body["address"])
}

func TestGetCheckoutSummaryUnknownAddress(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(cartSelectRe).
		WillReturnRows(sqlmock.NewRows(cartCols).AddRow(1, 100, "Tee", 10.0, "", nil, 1, "Shop A", 1, "", "", 5))
	env.mock.ExpectQuery(`FROM addresses WHERE id = \? AND user_id = \?`).WithArgs(int64(99), int64(7)).
		WillReturnRows(sqlmock.NewRows(addressCols))

	w := env.do(env.h.GetCheckoutSummary, request{
		method: http.MethodGet, route: "/checkout/summary", path: "/checkout/summary?addressId=99", userID: 7, role: "customer",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}
