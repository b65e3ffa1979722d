// internal/circulation/domain.go
package circulation

import (
	"errors"
	"fmt"
	"time"

	"consolemart/internal/catalog"
	"consolemart/internal/membership"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrMissingParty    = errors.New("order needs a customer and an item")
)

// Order is a purchase in flight. It holds live references to the customer
// and item for the duration of one transaction and is never mutated.
type Order struct {
	// ID correlates log lines and spans for one execution; it is not stored.
	ID           uuid.UUID
	Customer     *membership.Customer
	Item         *catalog.Item
	Quantity     int
	PurchasedVIP bool
	Timestamp    time.Time
}

// NewOrder builds an order stamped with the current time. purchasedVIP marks
// an order placed together with a new VIP signup, which adds the membership
// fee to the customer's spend.
func NewOrder(customer *membership.Customer, item *catalog.Item, quantity int, purchasedVIP bool) (*Order, error) {
	if customer == nil || item == nil {
		return nil, ErrMissingParty
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	return &Order{
		ID:           uuid.New(),
		Customer:     customer,
		Item:         item,
		Quantity:     quantity,
		PurchasedVIP: purchasedVIP,
		Timestamp:    time.Now(),
	}, nil
}

// TotalPrice is the unit price times the quantity, invalid if unpriced.
func (o *Order) TotalPrice() decimal.NullDecimal {
	p := o.Item.Price()
	if !p.Valid {
		return p
	}
	return decimal.NewNullDecimal(p.Decimal.Mul(decimal.NewFromInt(int64(o.Quantity))))
}

// Record returns the persisted form of the order.
func (o *Order) Record() Record {
	return Record{
		CustomerID: o.Customer.ID,
		ItemID:     o.Item.ID,
		Quantity:   o.Quantity,
		Timestamp:  o.Timestamp,
	}
}

// Record is one row of the order log. It keeps ids only.
type Record struct {
	CustomerID string
	ItemID     string
	Quantity   int
	Timestamp  time.Time
}

// Receipt summarises an executed order.
type Receipt struct {
	Order         *Order
	UnitPrice     decimal.Decimal
	Subtotal      decimal.Decimal
	Rate          decimal.Decimal
	Discounted    decimal.Decimal
	MembershipFee decimal.Decimal
	Total         decimal.Decimal
}
