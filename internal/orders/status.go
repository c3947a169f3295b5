package orders

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a per-shop order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPacked    Status = "packed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrUnknownStatus is returned for values outside the Status enum.
var ErrUnknownStatus = errors.New("unknown order status")

var transitions = map[Status][]Status{
	StatusPending: {StatusPacked, StatusCancelled},
	StatusPacked:  {StatusShipped, StatusCancelled},
	StatusShipped: {StatusDelivered},
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusPacked, StatusShipped, StatusDelivered, StatusCancelled}
}

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	for _, known := range AllStatuses() {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Next lists the statuses reachable from s.
func (s Status) Next() []Status {
	return transitions[s]
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns ErrInvalidTransition otherwise.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Restocks reports whether moving into to gives the ordered quantities back
// to the products.
func Restocks(to Status) bool {
	return to == StatusCancelled
}

// ShowsETA reports whether the delivery countdown applies in status s.
func (s Status) ShowsETA() bool {
	return !s.Terminal()
}
