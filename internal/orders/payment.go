package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// PaymentMethod is how the customer settles an order.
type PaymentMethod string

const (
	PaymentCOD PaymentMethod = "cod"
	PaymentUPI PaymentMethod = "upi"
)

// ErrInvalidPayment is returned for unsupported methods or a bad UPI id.
var ErrInvalidPayment = errors.New("invalid payment details")

var upiPattern = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z]{2,64}$`)

// ValidatePayment checks the method and, for UPI, the payer's UPI id.
func ValidatePayment(method PaymentMethod, upiID string) error {
	switch method {
	case PaymentCOD:
		return nil
	case PaymentUPI:
		if !upiPattern.MatchString(strings.TrimSpace(upiID)) {
			return fmt.Errorf("%w: upi id must look like name@bank", ErrInvalidPayment)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidPayment, method)
	}
}

// DeliveryAddress is the subset of an address that is copied onto an order.
type DeliveryAddress struct {
	FullName     string
	Phone        string
	AddressLine1 string
	City         string
	State        string
	PostalCode   string
}

// Format renders the address the way shop owners and couriers see it.
func (a DeliveryAddress) Format() string {
	return fmt.Sprintf("%s, %s, %s, %s - %s, Phone: %s",
		a.FullName, a.AddressLine1, a.City, a.State, a.PostalCode, a.Phone)
}

// QRPayload is encoded into the hand-off QR code shown by the shop.
type QRPayload struct {
	OrderNumber string  `json:"orderNumber"`
	Total       float64 `json:"total"`
	Customer    string  `json:"customer"`
}

// Encode returns the JSON text stored in the QR code.
func (p QRPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
