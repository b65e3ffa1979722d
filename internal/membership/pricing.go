package membership

import "github.com/shopspring/decimal"

// vipBonus is added once to a VIP member's rate when the price is above the
// threshold.
var vipBonus = decimal.RequireFromString("0.05")

// Pricing holds the class-wide discount settings. The store owns a single
// Pricing and passes it to every computation, so changing MemberRate applies
// to every member at once.
type Pricing struct {
	MemberRate     decimal.Decimal
	VIPThreshold   decimal.Decimal
	VIPFee         decimal.Decimal
	VIPDefaultRate decimal.Decimal
}

// DefaultPricing returns the stock settings: 5% members, VIPs 10% with an
// extra 5% above 1000 and a 200 membership fee.
func DefaultPricing() Pricing {
	return Pricing{
		MemberRate:     decimal.RequireFromString("0.05"),
		VIPThreshold:   decimal.NewFromInt(1000),
		VIPFee:         decimal.NewFromInt(200),
		VIPDefaultRate: decimal.RequireFromString("0.1"),
	}
}

// DiscountRate is the customer's base rate before any threshold bonus.
func (c *Customer) DiscountRate(p Pricing) decimal.Decimal {
	switch c.Tier {
	case TierMember:
		return p.MemberRate
	case TierVIP:
		return c.rate
	default:
		return decimal.Zero
	}
}

// ComputeDiscount returns the applied rate and the discounted price.
//
// Plain customers get the price back untouched. Members pay price*(1-rate)
// with the shared member rate. VIP members use their own rate, plus 0.05 when
// price is strictly above the threshold.
func ComputeDiscount(c *Customer, p Pricing, price decimal.Decimal) (rate, discounted decimal.Decimal) {
	switch c.Tier {
	case TierMember:
		rate = p.MemberRate
	case TierVIP:
		rate = c.rate
		if price.GreaterThan(p.VIPThreshold) {
			rate = rate.Add(vipBonus)
		}
	default:
		return decimal.Zero, price
	}
	return rate, price.Mul(decimal.NewFromInt(1).Sub(rate))
}
