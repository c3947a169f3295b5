package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOwnership struct {
	shops  map[int64]int64
	orders map[int64][2]int64
}

func (f fakeOwnership) ShopOwner(_ context.Context, shopID int64) (int64, error) {
	owner, ok := f.shops[shopID]
	if !ok {
		return 0, errors.New("no such shop")
	}
	return owner, nil
}

func (f fakeOwnership) OrderParties(_ context.Context, orderID int64) (int64, int64, error) {
	p, ok := f.orders[orderID]
	if !ok {
		return 0, 0, errors.New("no such order")
	}
	return p[0], p[1], nil
}

var testOwnership = fakeOwnership{
	shops:  map[int64]int64{3: 20},
	orders: map[int64][2]int64{9: {10, 20}},
}

func TestParseTopic(t *testing.T) {
	kind, id, err := ParseTopic("orders:shop:12")
	require.NoError(t, err)
	assert.Equal(t, KindShopOrders, kind)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"", "cart", "cart:", "cart:x", "cart:-1", "shops:1"} {
		_, _, err := ParseTopic(bad)
		assert.ErrorIs(t, err, ErrBadTopic, bad)
	}
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, Authorize(ctx, testOwnership, 10, "customer", CartTopic(10)))
	assert.ErrorIs(t, Authorize(ctx, testOwnership, 10, "customer", CartTopic(11)), ErrForbidden)
	assert.NoError(t, Authorize(ctx, testOwnership, 20, "shop_owner", ShopOrdersTopic(3)))
	assert.ErrorIs(t, Authorize(ctx, testOwnership, 10, "customer", ShopOrdersTopic(3)), ErrForbidden)
	assert.NoError(t, Authorize(ctx, testOwnership, 10, "customer", OrderTopic(9)))
	assert.NoError(t, Authorize(ctx, testOwnership, 20, "shop_owner", OrderTopic(9)))
	assert.ErrorIs(t, Authorize(ctx, testOwnership, 30, "customer", OrderTopic(9)), ErrForbidden)
	assert.NoError(t, Authorize(ctx, testOwnership, 1, "admin", OrderTopic(9)))
	assert.Error(t, Authorize(ctx, testOwnership, 10, "customer", OrderTopic(404)))
}

func dial(t *testing.T, hub *Hub, userID int64) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, userID, "customer")
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestHubSubscribeAndPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop(), testOwnership, "")
	defer hub.Close()
	conn := dial(t, hub, 10)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "topic": CartTopic(10)}))
	var ack reply
	readJSON(t, conn, &ack)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, 1, hub.Subscribers(CartTopic(10)))

	require.NoError(t, hub.Publish(context.Background(), CartTopic(10), "cart.changed", map[string]int{"totalItems": 3}))
	var msg Message
	readJSON(t, conn, &msg)
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "cart.changed", msg.Event)
	assert.JSONEq(t, `{"totalItems":3}`, string(msg.Payload))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "unsubscribe", "topic": CartTopic(10)}))
	readJSON(t, conn, &ack)
	assert.Equal(t, "unsubscribed", ack.Type)
	assert.Equal(t, 0, hub.Subscribers(CartTopic(10)))
}

func TestHubRejectsForeignTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop(), testOwnership, "")
	defer hub.Close()
	conn := dial(t, hub, 10)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "topic": NotificationsTopic(11)}))
	var r reply
	readJSON(t, conn, &r)
	assert.Equal(t, "error", r.Type)
	assert.Equal(t, ErrForbidden.Error(), r.Error)
	assert.Equal(t, 0, hub.Subscribers(NotificationsTopic(11)))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readJSON(t, conn, &r)
	assert.Equal(t, "pong", r.Type)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop(), testOwnership, "")
	assert.NoError(t, hub.Publish(context.Background(), OrderTopic(1), "order.updated", nil))
}
