package main

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"consolemart/internal/catalog"
	"consolemart/internal/circulation"
	"consolemart/internal/codec"
	"consolemart/internal/membership"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
)

var (
	colorAccent = lipgloss.Color("#2CD7C7")
	colorBorder = lipgloss.Color("#16858E")
	colorError  = lipgloss.Color("#E74C3C")
	colorMuted  = lipgloss.Color("#2C4A54")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	successStyle = lipgloss.NewStyle().Foreground(colorAccent)
	receiptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

func renderTable(title string, headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return titleStyle.Render(title) + "\n" + mutedStyle.Render("(none)") + "\n"
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return titleStyle.Render(title) + "\n" + t.String() + "\n"
}

func customerTable(customers iter.Seq[*membership.Customer], p membership.Pricing) string {
	var rows [][]string
	for c := range customers {
		rows = append(rows, []string{
			c.ID, c.Name, c.Tier.String(), percent(c.DiscountRate(p)), money(c.Value),
		})
	}
	return renderTable("CUSTOMERS", []string{"ID", "Name", "Type", "Discount", "Value"}, rows)
}

func itemTable(items iter.Seq[*catalog.Item]) string {
	var rows [][]string
	for it := range items {
		contents := ""
		if it.Kind == catalog.KindBundle {
			contents = strings.Join(it.MemberIDs(), ", ")
		}
		rows = append(rows, []string{
			it.ID, it.Name, it.Kind.String(), price(it.Price()), strconv.Itoa(it.Stock), contents,
		})
	}
	return renderTable("PRODUCTS", []string{"ID", "Name", "Type", "Price", "Stock", "Contents"}, rows)
}

func orderTable(orders iter.Seq[circulation.Record]) string {
	var rows [][]string
	for o := range orders {
		rows = append(rows, []string{
			o.CustomerID, o.ItemID, strconv.Itoa(o.Quantity), o.Timestamp.Format(codec.TimestampLayout),
		})
	}
	return renderTable("ORDERS", []string{"Customer", "Item", "Quantity", "Time"}, rows)
}

func renderReceipt(r circulation.Receipt) string {
	var b strings.Builder
	o := r.Order
	fmt.Fprintf(&b, "%s purchases %d x %s\n", o.Customer.Name, o.Quantity, o.Item.Name)
	fmt.Fprintf(&b, "Unit price:       %s (AUD)\n", money(r.UnitPrice))
	fmt.Fprintf(&b, "Subtotal:         %s (AUD)\n", money(r.Subtotal))
	fmt.Fprintf(&b, "Discount:         %s\n", percent(r.Rate))
	if o.PurchasedVIP {
		fmt.Fprintf(&b, "Membership price: %s (AUD)\n", money(r.MembershipFee))
	}
	fmt.Fprintf(&b, "Total price:      %s (AUD)", money(r.Total))
	return receiptStyle.Render(b.String()) + "\n"
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func price(p decimal.NullDecimal) string {
	if !p.Valid {
		return "unpriced"
	}
	return money(p.Decimal)
}

func percent(rate decimal.Decimal) string {
	return rate.Shift(2).String() + "%"
}
