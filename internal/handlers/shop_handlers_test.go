package handlers

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shopListingCols = append(append([]string{}, shopCols...), "products", "followers", "is_following")

const cornerShop = `{"name":"Corner Shop","phone":"8888888888","latitude":22.5726,"longitude":88.3639}`

func TestCreateShopWaitsForApproval(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectExec(`INSERT INTO shops`).
		WithArgs(int64(11), "Corner Shop", "corner-shop-11", "", "8888888888", "", "", "", "",
			22.5726, 88.3639, false, testNow, testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := env.do(env.h.CreateShop, request{
		method: http.MethodPost, route: "/shop", path: "/shop", userID: 11, role: "shop_owner", body: cornerShop,
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	shop := decode(t, w)["shop"].(map[string]any)
	assert.Equal(t, float64(1), shop["id"])
	assert.Equal(t, false, shop["isActive"])
	assert.Equal(t, "corner-shop-11", shop["slug"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateSecondShopConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectExec(`INSERT INTO shops`).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '11' for key 'uq_shop_owner'"})

	w := env.do(env.h.CreateShop, request{
		method: http.MethodPost, route: "/shop", path: "/shop", userID: 11, role: "shop_owner", body: cornerShop,
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateShopNeedsLocation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing", `{"name":"Corner Shop"}`},
		{"longitude missing", `{"name":"Corner Shop","latitude":22.5}`},
		{"unpinned", `{"name":"Corner Shop","latitude":0,"longitude":0}`},
		{"out of range", `{"name":"Corner Shop","latitude":22.5,"longitude":200}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do(env.h.CreateShop, request{
				method: http.MethodPost, route: "/shop", path: "/shop", userID: 11, role: "shop_owner", body: tt.body,
			})

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestUpdateMyShopKeepsApproval(t *testing.T) {
	env := newTestEnv(t)
	expectOwnShop(env.mock, 11)
	env.mock.ExpectExec(`UPDATE shops SET name = \?`).
		WithArgs("Corner Shop", "", "8888888888", "", "", "", "", 22.5726, 88.3639, testNow, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := env.do(env.h.UpdateMyShop, request{
		method: http.MethodPut, route: "/shop", path: "/shop", userID: 11, role: "shop_owner", body: cornerShop,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	shop := decode(t, w)["shop"].(map[string]any)
	assert.Equal(t, true, shop["isActive"])
	assert.Equal(t, "shop-a-11", shop["slug"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestNearbyShopsSortsByDistance(t *testing.T) {
	env := newTestEnv(t)
	// Kolkata centre; Sealdah is ~3 km away, Salt Lake ~5 km, Barasat ~18 km.
	env.mock.ExpectQuery(`FROM shops s WHERE s.is_active = 1 AND s.latitude BETWEEN \? AND \? AND s.longitude BETWEEN \? AND \?`).
		WithArgs(int64(7), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(shopListingCols).
			AddRow(3, 13, "Salt Lake Store", "s-13", "", "", "", "", "", "", 22.5800, 88.4150, 0, true, testNow, testNow, 4, 0, false).
			AddRow(2, 12, "Sealdah Store", "h-12", "", "", "", "", "", "", 22.5850, 88.3400, 0, true, testNow, testNow, 2, 1, true).
			AddRow(4, 14, "Barasat Store", "b-14", "", "", "", "", "", "", 22.7200, 88.4800, 0, true, testNow, testNow, 1, 0, false))

	w := env.do(env.h.NearbyShops, request{
		method: http.MethodGet, route: "/shops/nearby", path: "/shops/nearby?lat=22.5726&lng=88.3639&radiusKm=10",
		userID: 7, role: "customer",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	shops := decode(t, w)["shops"].([]any)
	require.Len(t, shops, 2)
	first := shops[0].(map[string]any)
	second := shops[1].(map[string]any)
	assert.Equal(t, "Sealdah Store", first["name"])
	assert.Equal(t, true, first["isFollowing"])
	assert.Equal(t, "Salt Lake Store", second["name"])
	assert.Less(t, first["distanceKm"].(float64), second["distanceKm"].(float64))
}

func TestNearbyShopsValidatesInput(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing lng", "/shops/nearby?lat=22.5"},
		{"latitude out of range", "/shops/nearby?lat=91&lng=88"},
		{"negative radius", "/shops/nearby?lat=22.5&lng=88.3&radiusKm=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(env.h.NearbyShops, request{method: http.MethodGet, route: "/shops/nearby", path: tt.path, userID: 7, role: "customer"})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestFollowShopIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 2; i++ {
		env.mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM shops WHERE id = \? AND is_active = 1\)`).WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		env.mock.ExpectExec(`INSERT IGNORE INTO shop_followers`).WithArgs(int64(2), int64(7), testNow).
			WillReturnResult(sqlmock.NewResult(0, int64(1-i)))
		env.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM shop_followers WHERE shop_id = \?`).
			WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	}

	for i := 0; i < 2; i++ {
		w := env.do(env.h.FollowShop, request{
			method: http.MethodPost, route: "/shops/:id/follow", path: "/shops/2/follow", userID: 7, role: "customer",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"isFollowing":true,"followers":1}`, w.Body.String())
	}
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestFollowInactiveShop(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	w := env.do(env.h.FollowShop, request{
		method: http.MethodPost, route: "/shops/:id/follow", path: "/shops/2/follow", userID: 7, role: "customer",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMonthStart(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{testNow, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		// Still February in UTC.
		{time.Date(2026, 3, 1, 2, 0, 0, 0, ist), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, monthStart(tt.now), tt.now.String())
	}
}

func TestGetShopRevenue(t *testing.T) {
	env := newTestEnv(t)
	expectOwnShop(env.mock, 11)
	env.mock.ExpectQuery(`AS total, .* AS month, COUNT\(\*\) AS orders FROM orders WHERE shop_id = \?`).
		WithArgs("cancelled", "cancelled", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "month", "orders"}).AddRow(150.257, 40.5, 6))
	env.mock.ExpectQuery(`WHERE o.shop_id = \? ORDER BY o.created_at DESC, o.id DESC LIMIT 50`).WithArgs(int64(1)).
		WillReturnRows(orderRow("delivered"))

	w := env.do(env.h.GetShopRevenue, request{
		method: http.MethodGet, route: "/shop/revenue", path: "/shop/revenue", userID: 11, role: "shop_owner",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 150.26, body["totalRevenue"])
	assert.Equal(t, 40.5, body["monthRevenue"])
	assert.Equal(t, float64(6), body["totalOrders"])
	assert.Len(t, body["transactions"], 1)
}

func TestGetShopRevenueWithoutShop(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`FROM shops s WHERE s.owner_id = \?`).WillReturnRows(sqlmock.NewRows(shopCols))

	w := env.do(env.h.GetShopRevenue, request{
		method: http.MethodGet, route: "/shop/revenue", path: "/shop/revenue", userID: 11, role: "shop_owner",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkNotificationAsRead(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   bool
		want     int
	}{
		{"unread", 1, true, http.StatusOK},
		{"already read", 0, true, http.StatusOK},
		{"someone else's", 0, false, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mock.ExpectExec(`UPDATE notifications SET is_read = 1 WHERE id = \? AND user_id = \?`).
				WithArgs(int64(9), int64(7)).WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				env.mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM notifications`).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			w := env.do(env.h.MarkNotificationAsRead, request{
				method: http.MethodPatch, route: "/notifications/:id/read", path: "/notifications/9/read", userID: 7, role: "customer",
			})

			assert.Equal(t, tt.want, w.Code)
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestGetMyNotificationsCountsUnread(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(`FROM notifications\s+WHERE user_id = \?`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "message", "link", "is_read", "created_at"}).
			AddRow(2, 7, "Your order is packed", "/orders/501", false, testNow).
			AddRow(1, 7, "Welcome", nil, true, testNow))

	w := env.do(env.h.GetMyNotifications, request{
		method: http.MethodGet, route: "/notifications", path: "/notifications", userID: 7, role: "customer",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["unread"])
	assert.Len(t, body["notifications"], 2)
}

func multipartFile(t *testing.T, name string, content []byte) (string, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.String(), mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadFileStoresImage(t *testing.T) {
	env := newTestEnv(t)
	// The client's name is ignored; the content decides the extension.
	body, contentType := multipartFile(t, "avatar.txt", pngBytes(t))

	w := env.do(env.h.UploadFile, request{
		method: http.MethodPost, route: "/uploads", path: "/uploads", userID: 11, role: "shop_owner",
		body: body, headers: map[string]string{"Content-Type": contentType},
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	url := decode(t, w)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "http://api.test/uploads/"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	stored, err := os.ReadFile(filepath.Join(env.h.UploadDir, filepath.Base(url)))
	require.NoError(t, err)
	assert.Equal(t, pngBytes(t), stored)
}

func TestUploadFileRejectsNonImages(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartFile(t, "photo.png", []byte("#!/bin/sh\necho not an image\n"))

	w := env.do(env.h.UploadFile, request{
		method: http.MethodPost, route: "/uploads", path: "/uploads", userID: 11, role: "shop_owner",
		body: body, headers: map[string]string{"Content-Type": contentType},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	entries, err := os.ReadDir(env.h.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadFileRequiresFile(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(env.h.UploadFile, request{method: http.MethodPost, route: "/uploads", path: "/uploads", userID: 11, role: "shop_owner"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
