// internal/catalog/domain.go
package catalog

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownKind = errors.New("unknown catalog item kind")
	ErrInvalidID   = errors.New("invalid catalog item id")
	ErrWrongKind   = errors.New("id prefix does not match item kind")
)

// DefaultBundleDiscount is the rate taken off the summed member prices.
var DefaultBundleDiscount = decimal.RequireFromString("0.2")

// Kind is the variant tag carried as the first character of an item ID.
type Kind byte

const (
	KindProduct Kind = 'P'
	KindBundle  Kind = 'B'
)

func (k Kind) String() string {
	switch k {
	case KindProduct:
		return "product"
	case KindBundle:
		return "bundle"
	default:
		return fmt.Sprintf("kind(%q)", byte(k))
	}
}

// KindOf reads the variant tag from an id.
func KindOf(id string) (Kind, error) {
	if id == "" {
		return 0, ErrInvalidID
	}
	switch k := Kind(id[0]); k {
	case KindProduct, KindBundle:
		return k, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, id)
	}
}

// Snapshot is a bundle member as it was priced when the bundle was loaded.
// It does not follow later changes to the product.
type Snapshot struct {
	ID    string
	Price decimal.NullDecimal
}

// Item is either a product or a bundle, told apart by Kind.
type Item struct {
	ID    string
	Name  string
	Kind  Kind
	Stock int

	// Members and Discount are only set on bundles.
	Members  []Snapshot
	Discount decimal.Decimal

	price decimal.NullDecimal
}

// NewProduct builds a product. An invalid price means the product has not
// been priced yet and cannot be sold.
func NewProduct(id, name string, price decimal.NullDecimal, stock int) (*Item, error) {
	if err := expectKind(id, KindProduct); err != nil {
		return nil, err
	}
	return &Item{ID: id, Name: name, Kind: KindProduct, Stock: stock, price: price}, nil
}

// NewBundle builds a bundle over the given member snapshots.
func NewBundle(id, name string, members []Snapshot, stock int, discount decimal.Decimal) (*Item, error) {
	if err := expectKind(id, KindBundle); err != nil {
		return nil, err
	}
	return &Item{
		ID:       id,
		Name:     name,
		Kind:     KindBundle,
		Stock:    stock,
		Members:  append([]Snapshot(nil), members...),
		Discount: discount,
	}, nil
}

func expectKind(id string, want Kind) error {
	k, err := KindOf(id)
	if err != nil {
		return err
	}
	if k != want {
		return fmt.Errorf("%w: %q is not a %s", ErrWrongKind, id, want)
	}
	return nil
}

// SnapshotOf captures the current id and price of an item.
func SnapshotOf(it *Item) Snapshot {
	return Snapshot{ID: it.ID, Price: it.Price()}
}

// Price is the unit price. For a bundle it is the member sum less the
// bundle discount, or invalid when any member is unpriced.
func (it *Item) Price() decimal.NullDecimal {
	if it.Kind != KindBundle {
		return it.price
	}
	sum := decimal.Zero
	for _, m := range it.Members {
		if !m.Price.Valid {
			return decimal.NullDecimal{}
		}
		sum = sum.Add(m.Price.Decimal)
	}
	return decimal.NewNullDecimal(sum.Mul(decimal.NewFromInt(1).Sub(it.Discount)))
}

// Purchasable reports whether the item is in stock and has a positive price.
func (it *Item) Purchasable() bool {
	p := it.Price()
	return it.Stock > 0 && p.Valid && p.Decimal.IsPositive()
}

// MemberIDs lists the bundle's product ids in order.
func (it *Item) MemberIDs() []string {
	ids := make([]string, 0, len(it.Members))
	for _, m := range it.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

func (it *Item) Equal(other *Item) bool {
	if it == nil || other == nil {
		return it == other
	}
	return it.ID == other.ID
}

// Clone returns a detached copy used to stage mutations.
func (it *Item) Clone() *Item {
	cp := *it
	cp.Members = append([]Snapshot(nil), it.Members...)
	return &cp
}
