package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"consolemart/internal/records"

	"github.com/charmbracelet/huh"
)

type menuItem int

const (
	menuPlaceOrder menuItem = iota + 1
	menuCustomers
	menuProducts
	menuOrders
	menuCustomerOrders
	menuVIPRate
	menuVIPThreshold
	menuMemberRate
	menuRestock
	menuExit
)

var menuOptions = []huh.Option[menuItem]{
	huh.NewOption("Place an order", menuPlaceOrder),
	huh.NewOption("Display existing customers", menuCustomers),
	huh.NewOption("Display existing products", menuProducts),
	huh.NewOption("Display all orders", menuOrders),
	huh.NewOption("Display all orders of a customer", menuCustomerOrders),
	huh.NewOption("Adjust the discount rate of a VIP member", menuVIPRate),
	huh.NewOption("Adjust the threshold limit of all VIP members", menuVIPThreshold),
	huh.NewOption("Adjust the discount rate of all members", menuMemberRate),
	huh.NewOption("Restock a product", menuRestock),
	huh.NewOption("Exit the program", menuExit),
}

// runMenu shows the main menu until the user exits or aborts.
func runMenu(ctx context.Context, a *app) error {
	for {
		var choice menuItem
		err := a.ask(ctx, huh.NewSelect[menuItem]().
			Title("Welcome to Console-Mart").
			Options(menuOptions...).
			Value(&choice))
		switch {
		case errors.Is(err, huh.ErrUserAborted):
			choice = menuExit
		case err != nil:
			return err
		}
		if choice == menuExit {
			fmt.Fprintln(a.out, "Thank you for using the Console-Mart System. See you another time!")
			return nil
		}

		if err := a.runMenuItem(ctx, choice); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				continue
			}
			a.logger.Debug("menu action failed", "item", choice, "error", err)
			fmt.Fprintln(a.out, errorStyle.Render(err.Error()))
		}
	}
}

func (a *app) ask(ctx context.Context, fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).
		WithInput(a.in).
		WithOutput(a.out).
		RunWithContext(ctx)
}

func (a *app) runMenuItem(ctx context.Context, choice menuItem) error {
	switch choice {
	case menuPlaceOrder:
		return a.placeOrderForm(ctx)
	case menuCustomers:
		fmt.Fprint(a.out, customerTable(a.store.Customers(), a.store.Pricing()))
	case menuProducts:
		fmt.Fprint(a.out, itemTable(a.store.Items()))
	case menuOrders:
		fmt.Fprint(a.out, orderTable(a.store.Orders()))
	case menuCustomerOrders:
		var query string
		if err := a.ask(ctx, huh.NewInput().
			Title("Name or ID of the customer to view orders of").
			Value(&query).
			Validate(required)); err != nil {
			return err
		}
		return showCustomerOrders(a, query)
	case menuVIPRate:
		var query, rate string
		if err := a.ask(ctx, huh.NewInput().
			Title("Name or ID of the customer to adjust").
			Value(&query).
			Validate(func(s string) error {
				_, err := findVIP(a.store, s)
				return err
			})); err != nil {
			return err
		}
		c, _ := findVIP(a.store, query)
		current, _ := c.InstanceRate()
		if err := a.ask(ctx, huh.NewInput().
			Title(fmt.Sprintf("New discount rate (current is %s)", current)).
			Value(&rate).
			Validate(func(s string) error {
				_, err := parseRate(s)
				return err
			})); err != nil {
			return err
		}
		return setVIPRate(ctx, a.store, c.ID, rate)
	case menuVIPThreshold:
		var threshold string
		if err := a.ask(ctx, huh.NewInput().
			Title(fmt.Sprintf("VIP threshold (current is %s)", money(a.store.Pricing().VIPThreshold))).
			Value(&threshold).
			Validate(func(s string) error {
				_, err := parsePositive(s)
				return err
			})); err != nil {
			return err
		}
		return setVIPThreshold(a.store, threshold)
	case menuMemberRate:
		var rate string
		if err := a.ask(ctx, huh.NewInput().
			Title(fmt.Sprintf("Member discount rate (current is %s)", a.store.Pricing().MemberRate)).
			Value(&rate).
			Validate(func(s string) error {
				_, err := parseRate(s)
				return err
			})); err != nil {
			return err
		}
		return setMemberRate(ctx, a.store, rate)
	case menuRestock:
		var item, stock string
		if err := a.ask(ctx,
			huh.NewInput().Title("Product name or ID").Value(&item).Validate(a.existingItem),
			huh.NewInput().Title("New stock level").Value(&stock).Validate(nonNegative),
		); err != nil {
			return err
		}
		return restock(ctx, a.store, item, stock)
	}
	return nil
}

func (a *app) placeOrderForm(ctx context.Context) error {
	var req orderRequest
	var quantity string
	if err := a.ask(ctx,
		huh.NewInput().Title("Please enter your name").Value(&req.Customer).Validate(required),
		huh.NewInput().Title("Please enter product name or ID").Value(&req.Product).Validate(a.orderableItem),
	); err != nil {
		return err
	}
	item, _ := a.store.FindItem(req.Product, records.SearchAuto)
	if err := a.ask(ctx, huh.NewInput().
		Title("Enter the amount you would like to purchase").
		Value(&quantity).
		Validate(func(s string) error {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || n < 1 {
				return fmt.Errorf("%s is an invalid amount", s)
			}
			return checkPurchasable(item, n)
		})); err != nil {
		return err
	}
	req.Quantity, _ = strconv.Atoi(strings.TrimSpace(quantity))

	if _, ok := a.store.FindCustomer(req.Customer, records.SearchAuto); !ok {
		signup := false
		if err := a.ask(ctx, huh.NewConfirm().
			Title("We can see that you are not a member. Would you like to sign up for membership?").
			Value(&signup)); err != nil {
			return err
		}
		req.Signup = "C"
		if signup {
			if err := a.ask(ctx, huh.NewSelect[string]().
				Title("Please select the membership type you would like to sign up for").
				Options(huh.NewOption("Regular Member", "M"), huh.NewOption("VIP Member", "V")).
				Value(&req.Signup)); err != nil {
				return err
			}
			fmt.Fprintln(a.out, successStyle.Render("Thank you for signing up!"))
		}
	}

	receipt, err := placeOrder(ctx, a.store, req)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, renderReceipt(receipt))
	fmt.Fprintln(a.out, "Thank you for shopping at Console-Mart!")
	return nil
}

func (a *app) existingItem(s string) error {
	if _, ok := a.store.FindItem(s, records.SearchAuto); !ok {
		return fmt.Errorf("%w: %s", errNoProduct, s)
	}
	return nil
}

func (a *app) orderableItem(s string) error {
	item, ok := a.store.FindItem(s, records.SearchAuto)
	if !ok {
		return fmt.Errorf("%w: %s", errNoProduct, s)
	}
	return checkPurchasable(item, 1)
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("a value is required")
	}
	return nil
}

func nonNegative(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return fmt.Errorf("%q is not a whole number of zero or more", s)
	}
	return nil
}
