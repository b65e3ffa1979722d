package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"consolemart/internal/catalog"
	"consolemart/internal/circulation"
	"consolemart/internal/membership"
	"consolemart/internal/records"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Input is checked here; the store trusts what it is given.

var validate = validator.New()

var (
	errNoCustomer = errors.New("invalid customer")
	errNoProduct  = errors.New("product could not be found")
)

type orderRequest struct {
	Customer string `validate:"required"`
	Product  string `validate:"required"`
	Quantity int    `validate:"gt=0"`
	// Signup is the tier for a customer placing a first order.
	Signup string `validate:"omitempty,oneof=C M V c m v"`
}

// placeOrder finds or signs up the customer and executes the order. A new
// customer signing up as VIP pays the membership fee with the order.
func placeOrder(ctx context.Context, store *records.Records, req orderRequest) (circulation.Receipt, error) {
	if err := validate.Struct(req); err != nil {
		return circulation.Receipt{}, err
	}
	item, ok := store.FindItem(req.Product, records.SearchAuto)
	if !ok {
		return circulation.Receipt{}, fmt.Errorf("%w: %s", errNoProduct, req.Product)
	}
	if err := checkPurchasable(item, req.Quantity); err != nil {
		return circulation.Receipt{}, err
	}

	customer, ok := store.FindCustomer(req.Customer, records.SearchAuto)
	newVIP := false
	if !ok {
		tier := membership.TierCustomer
		if req.Signup != "" {
			t, err := membership.ParseTier(req.Signup)
			if err != nil {
				return circulation.Receipt{}, err
			}
			tier = t
		}
		c, err := store.CreateCustomer(ctx, req.Customer, tier)
		if err != nil {
			return circulation.Receipt{}, err
		}
		customer, newVIP = c, tier == membership.TierVIP
	}

	order, err := circulation.NewOrder(customer, item, req.Quantity, newVIP)
	if err != nil {
		return circulation.Receipt{}, err
	}
	return store.ExecuteOrder(ctx, order)
}

func checkPurchasable(item *catalog.Item, quantity int) error {
	switch p := item.Price(); {
	case item.Stock == 0:
		return fmt.Errorf("%s is out of stock, please choose another product", item.Name)
	case !p.Valid || !p.Decimal.IsPositive():
		return fmt.Errorf("%s has an invalid pricing of %s", item.Name, price(p))
	case quantity > item.Stock:
		return fmt.Errorf("%d is an invalid amount, there are %d %s(s) in stock", quantity, item.Stock, item.Name)
	}
	return nil
}

func findVIP(store *records.Records, query string) (*membership.Customer, error) {
	c, ok := store.FindCustomer(query, records.SearchAuto)
	if !ok || c.Tier != membership.TierVIP {
		return nil, fmt.Errorf("%w: %s is not a VIP member", errNoCustomer, query)
	}
	return c, nil
}

func setVIPRate(ctx context.Context, store *records.Records, query, raw string) error {
	c, err := findVIP(store, query)
	if err != nil {
		return err
	}
	rate, err := parseRate(raw)
	if err != nil {
		return err
	}
	return store.SetVIPRate(ctx, c.ID, rate)
}

func setVIPThreshold(store *records.Records, raw string) error {
	threshold, err := parsePositive(raw)
	if err != nil {
		return fmt.Errorf("invalid threshold: %w", err)
	}
	store.SetVIPThreshold(threshold)
	return nil
}

func setMemberRate(ctx context.Context, store *records.Records, raw string) error {
	rate, err := parseRate(raw)
	if err != nil {
		return err
	}
	return store.SetMemberRate(ctx, rate)
}

type newCustomer struct {
	Name string `validate:"required"`
	Tier string `validate:"required,oneof=C M V c m v"`
}

func addCustomer(ctx context.Context, store *records.Records, req newCustomer) (*membership.Customer, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	tier, err := membership.ParseTier(req.Tier)
	if err != nil {
		return nil, err
	}
	return store.CreateCustomer(ctx, req.Name, tier)
}

type newProduct struct {
	Name  string `validate:"required"`
	Price string
	Stock int `validate:"gte=0"`
}

// addProduct creates a product. A blank price leaves it unpriced.
func addProduct(ctx context.Context, store *records.Records, req newProduct) (*catalog.Item, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	var p decimal.NullDecimal
	if s := strings.TrimSpace(req.Price); s != "" {
		d, err := parsePositive(s)
		if err != nil {
			return nil, fmt.Errorf("invalid price: %w", err)
		}
		p = decimal.NewNullDecimal(d)
	}
	return store.CreateProduct(ctx, req.Name, p, req.Stock)
}

type newBundle struct {
	Name     string   `validate:"required"`
	Products []string `validate:"min=1,dive,required"`
	Stock    int      `validate:"gte=0"`
}

func addBundle(ctx context.Context, store *records.Records, req newBundle) (*catalog.Item, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	return store.CreateBundle(ctx, req.Name, req.Products, req.Stock)
}

func restock(ctx context.Context, store *records.Records, query, raw string) error {
	item, ok := store.FindItem(query, records.SearchAuto)
	if !ok {
		return fmt.Errorf("%w: %s", errNoProduct, query)
	}
	stock, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || stock < 0 {
		return fmt.Errorf("invalid stock %q", raw)
	}
	return store.Restock(ctx, item.ID, stock)
}

// parseRate accepts a discount rate between 0 and 1 inclusive.
func parseRate(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("invalid discount rate %q, expected a number from 0 to 1", raw)
	}
	return d, nil
}

func parsePositive(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%s is not positive", d)
	}
	return d, nil
}
