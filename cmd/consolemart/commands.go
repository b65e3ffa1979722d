package main

import (
	"fmt"
	"strconv"

	"consolemart/internal/records"

	"github.com/spf13/cobra"
)

func newCustomersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "customers",
		Short: "Display all customers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(a.out, customerTable(a.store.Customers(), a.store.Pricing()))
			return nil
		},
	}
}

func newProductsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "Display all products and bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(a.out, itemTable(a.store.Items()))
			return nil
		},
	}
}

func newOrdersCmd(a *app) *cobra.Command {
	var customer string
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Display all orders, or the orders of one customer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if customer == "" {
				fmt.Fprint(a.out, orderTable(a.store.Orders()))
				return nil
			}
			return showCustomerOrders(a, customer)
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "customer name or ID")
	return cmd
}

func showCustomerOrders(a *app, query string) error {
	c, ok := a.store.FindCustomer(query, records.SearchAuto)
	if !ok {
		return fmt.Errorf("%w: %s", errNoCustomer, query)
	}
	fmt.Fprint(a.out, orderTable(a.store.OrdersFor(c.ID)))
	return nil
}

func newOrderCmd(a *app) *cobra.Command {
	var req orderRequest
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place an order",
		Long: `Place an order for a customer. A customer that is not found by name or
ID is created first; --signup chooses their membership (C, M or V). A new
VIP member pays the membership fee with the order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			receipt, err := placeOrder(cmd.Context(), a.store, req)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, renderReceipt(receipt))
			fmt.Fprintln(a.out, "Thank you for shopping at Console-Mart!")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Customer, "customer", "", "customer name or ID")
	f.StringVar(&req.Product, "product", "", "product or bundle name or ID")
	f.IntVar(&req.Quantity, "quantity", 1, "number of units")
	f.StringVar(&req.Signup, "signup", "", "membership for a new customer: C, M or V")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func newVIPRateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vip-rate CUSTOMER RATE",
		Short: "Adjust the discount rate of one VIP member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setVIPRate(cmd.Context(), a.store, args[0], args[1])
		},
	}
}

func newVIPThresholdCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vip-threshold AMOUNT",
		Short: "Set the VIP discount threshold for this run",
		Long: `The VIP threshold is not stored; it applies only to the command it is
given with. Use the pricing.vip_threshold config setting to change it for
good, or adjust it from the interactive menu.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setVIPThreshold(a.store, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "VIP threshold is now %s\n", money(a.store.Pricing().VIPThreshold))
			return nil
		},
	}
}

func newMemberRateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "member-rate RATE",
		Short: "Adjust the discount rate shared by all members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setMemberRate(cmd.Context(), a.store, args[0])
		},
	}
}

func newAddCustomerCmd(a *app) *cobra.Command {
	var req newCustomer
	cmd := &cobra.Command{
		Use:   "add-customer NAME",
		Short: "Create a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			c, err := addCustomer(cmd.Context(), a.store, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created %s %s\n", c.Tier, c.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Tier, "tier", "C", "C, M or V")
	return cmd
}

func newAddProductCmd(a *app) *cobra.Command {
	var req newProduct
	cmd := &cobra.Command{
		Use:   "add-product NAME",
		Short: "Create a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			p, err := addProduct(cmd.Context(), a.store, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created product %s\n", p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Price, "price", "", "unit price; leave empty for an unpriced product")
	cmd.Flags().IntVar(&req.Stock, "stock", 0, "units in stock")
	return cmd
}

func newAddBundleCmd(a *app) *cobra.Command {
	var req newBundle
	cmd := &cobra.Command{
		Use:   "add-bundle NAME PRODUCT...",
		Short: "Create a bundle of existing products",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name, req.Products = args[0], args[1:]
			b, err := addBundle(cmd.Context(), a.store, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created bundle %s at %s\n", b.ID, price(b.Price()))
			return nil
		},
	}
	cmd.Flags().IntVar(&req.Stock, "stock", 0, "units in stock")
	return cmd
}

func newRestockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restock ITEM STOCK",
		Short: "Set the stock of a product or bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := restock(cmd.Context(), a.store, args[0], args[1]); err != nil {
				return err
			}
			n, _ := strconv.Atoi(args[1])
			fmt.Fprintf(a.out, "%s now has %d in stock\n", args[0], n)
			return nil
		},
	}
}
