// internal/membership/domain.go
package membership

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownTier = errors.New("unknown membership tier")
	ErrNotVIP      = errors.New("customer is not a VIP member")
	ErrInvalidID   = errors.New("invalid customer id")
)

// Tier is the variant tag carried as the first character of a customer ID.
type Tier byte

const (
	TierCustomer Tier = 'C'
	TierMember   Tier = 'M'
	TierVIP      Tier = 'V'
)

// ParseTier accepts a single-letter tag, case-insensitively.
func ParseTier(s string) (Tier, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	t := Tier(s[0])
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// TierOf reads the variant tag from an id.
func TierOf(id string) (Tier, error) {
	if id == "" {
		return 0, ErrInvalidID
	}
	t := Tier(id[0])
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, id)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	return t == TierCustomer || t == TierMember || t == TierVIP
}

func (t Tier) String() string {
	switch t {
	case TierCustomer:
		return "customer"
	case TierMember:
		return "member"
	case TierVIP:
		return "vip"
	default:
		return fmt.Sprintf("tier(%q)", byte(t))
	}
}

// Customer represents a shopper. Tier is fixed by the ID prefix and never
// changes. Value is the accumulated spend and only grows through orders.
type Customer struct {
	ID    string
	Name  string
	Tier  Tier
	Value decimal.Decimal

	// rate is the instance discount rate; only VIP members carry one.
	rate decimal.Decimal
}

// New builds a customer of the variant named by the id prefix. vipRate is
// ignored for plain customers and members.
func New(id, name string, value, vipRate decimal.Decimal) (*Customer, error) {
	tier, err := TierOf(id)
	if err != nil {
		return nil, err
	}
	c := &Customer{ID: id, Name: name, Tier: tier, Value: value}
	if tier == TierVIP {
		c.rate = vipRate
	}
	return c, nil
}

// InstanceRate returns the VIP member's own rate.
func (c *Customer) InstanceRate() (decimal.Decimal, error) {
	if c.Tier != TierVIP {
		return decimal.Zero, ErrNotVIP
	}
	return c.rate, nil
}

// SetInstanceRate adjusts a single VIP member's rate.
func (c *Customer) SetInstanceRate(rate decimal.Decimal) error {
	if c.Tier != TierVIP {
		return ErrNotVIP
	}
	c.rate = rate
	return nil
}

// Equal compares identity only.
func (c *Customer) Equal(other *Customer) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.ID == other.ID
}

// Clone returns a detached copy used to stage mutations.
func (c *Customer) Clone() *Customer {
	cp := *c
	return &cp
}
