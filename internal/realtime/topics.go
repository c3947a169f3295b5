package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrBadTopic  = errors.New("unknown topic")
	ErrForbidden = errors.New("not allowed to subscribe to this topic")
)

// Topic kinds.
const (
	KindCart          = "cart"
	KindUserOrders    = "orders:user"
	KindNotifications = "notifications"
	KindShopOrders    = "orders:shop"
	KindOrder         = "order"
)

func CartTopic(userID int64) string          { return fmt.Sprintf("cart:%d", userID) }
func UserOrdersTopic(userID int64) string    { return fmt.Sprintf("orders:user:%d", userID) }
func NotificationsTopic(userID int64) string { return fmt.Sprintf("notifications:%d", userID) }
func ShopOrdersTopic(shopID int64) string    { return fmt.Sprintf("orders:shop:%d", shopID) }
func OrderTopic(orderID int64) string        { return fmt.Sprintf("order:%d", orderID) }

// ParseTopic splits a topic into its kind and numeric id.
func ParseTopic(topic string) (kind string, id int64, err error) {
	i := strings.LastIndexByte(topic, ':')
	if i <= 0 || i == len(topic)-1 {
		return "", 0, ErrBadTopic
	}
	kind = topic[:i]
	id, err = strconv.ParseInt(topic[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, ErrBadTopic
	}
	switch kind {
	case KindCart, KindUserOrders, KindNotifications, KindShopOrders, KindOrder:
		return kind, id, nil
	}
	return "", 0, ErrBadTopic
}

// Ownership resolves who may watch shop and order topics.
type Ownership interface {
	ShopOwner(ctx context.Context, shopID int64) (int64, error)
	OrderParties(ctx context.Context, orderID int64) (customerID, shopOwnerID int64, err error)
}

// Authorize decides whether userID may subscribe to topic. Admins may
// watch any well-formed topic.
func Authorize(ctx context.Context, own Ownership, userID int64, role, topic string) error {
	kind, id, err := ParseTopic(topic)
	if err != nil {
		return err
	}
	if role == "admin" {
		return nil
	}

	switch kind {
	case KindCart, KindUserOrders, KindNotifications:
		if id != userID {
			return ErrForbidden
		}
		return nil
	case KindShopOrders:
		owner, err := own.ShopOwner(ctx, id)
		if err != nil {
			return fmt.Errorf("lookup shop owner: %w", err)
		}
		if owner != userID {
			return ErrForbidden
		}
		return nil
	case KindOrder:
		customer, owner, err := own.OrderParties(ctx, id)
		if err != nil {
			return fmt.Errorf("lookup order parties: %w", err)
		}
		if customer != userID && owner != userID {
			return ErrForbidden
		}
		return nil
	}
	return ErrBadTopic
}
