// Package codec converts between delimited text rows and domain entities.
//
// Every row is a single line of fields joined by ", ". The first field is
// always an id whose leading character selects the variant.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"consolemart/internal/catalog"
	"consolemart/internal/circulation"
	"consolemart/internal/membership"

	"github.com/shopspring/decimal"
)

// Delimiter separates fields. A bare comma is not a delimiter.
const Delimiter = ", "

// TimestampLayout is used for the order log.
const TimestampLayout = "2006-01-02 15:04:05.999999"

var (
	ErrFieldCount     = errors.New("unexpected field count")
	ErrFieldDelimiter = errors.New("field contains the delimiter or a line break")
	ErrUnknownProduct = errors.New("bundle references an unknown product")
)

// DecodeError describes a row that could not be decoded.
type DecodeError struct {
	Kind   string
	Fields []string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s row %q: %v", e.Kind, Join(e.Fields...), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(kind string, fields []string, err error) error {
	return &DecodeError{Kind: kind, Fields: fields, Err: err}
}

// Split strips the line terminator and splits on Delimiter.
func Split(line string) []string {
	line = strings.TrimRight(line, "\r\n")
	return strings.Split(line, Delimiter)
}

// Join joins fields with Delimiter. It does not add a line terminator.
func Join(fields ...string) string {
	return strings.Join(fields, Delimiter)
}

// Tag returns the variant tag of a row, or 0 for an empty line.
func Tag(line string) byte {
	if line == "" {
		return 0
	}
	return line[0]
}

// MatchID reports whether the line's first field is exactly id. A plain
// prefix test would let "C1" claim "C10".
func MatchID(id string) func(line string) bool {
	return func(line string) bool {
		line = strings.TrimRight(line, "\r\n")
		return line == id || strings.HasPrefix(line, id+Delimiter)
	}
}

// MatchTag reports whether the line belongs to the given variant.
func MatchTag(tag byte) func(line string) bool {
	return func(line string) bool { return Tag(line) == tag }
}

func checkFields(fields ...string) error {
	for _, f := range fields {
		if strings.Contains(f, Delimiter) || strings.ContainsAny(f, "\r\n") {
			return fmt.Errorf("%w: %q", ErrFieldDelimiter, f)
		}
	}
	return nil
}

func encode(fields ...string) (string, error) {
	if err := checkFields(fields...); err != nil {
		return "", err
	}
	return Join(fields...), nil
}

// DecodeCustomer reads "id, name, discount_rate, value". The stored rate is
// only used for VIP members; other tiers take theirs from Pricing.
func DecodeCustomer(fields []string) (*membership.Customer, error) {
	if len(fields) != 4 {
		return nil, decodeErr("customer", fields, fmt.Errorf("%w: want 4, got %d", ErrFieldCount, len(fields)))
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(fields[2]))
	if err != nil {
		return nil, decodeErr("customer", fields, fmt.Errorf("discount rate: %w", err))
	}
	value, err := decimal.NewFromString(strings.TrimSpace(fields[3]))
	if err != nil {
		return nil, decodeErr("customer", fields, fmt.Errorf("value: %w", err))
	}
	c, err := membership.New(fields[0], fields[1], value, rate)
	if err != nil {
		return nil, decodeErr("customer", fields, err)
	}
	return c, nil
}

// EncodeCustomer writes the customer with the rate it currently enjoys.
func EncodeCustomer(c *membership.Customer, p membership.Pricing) (string, error) {
	return encode(c.ID, c.Name, c.DiscountRate(p).String(), c.Value.String())
}

// DecodeProduct reads "id, name, price_or_blank, stock".
func DecodeProduct(fields []string) (*catalog.Item, error) {
	if len(fields) != 4 {
		return nil, decodeErr("product", fields, fmt.Errorf("%w: want 4, got %d", ErrFieldCount, len(fields)))
	}
	var price decimal.NullDecimal
	if raw := strings.TrimSpace(fields[2]); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, decodeErr("product", fields, fmt.Errorf("price: %w", err))
		}
		price = decimal.NewNullDecimal(d)
	}
	stock, err := parseStock(fields[3])
	if err != nil {
		return nil, decodeErr("product", fields, err)
	}
	it, err := catalog.NewProduct(fields[0], fields[1], price, stock)
	if err != nil {
		return nil, decodeErr("product", fields, err)
	}
	return it, nil
}

// DecodeBundle reads "id, name, product_id_1, ..., product_id_n, stock".
// Each member id is resolved against products and captured as a snapshot.
func DecodeBundle(fields []string, products []*catalog.Item, discount decimal.Decimal) (*catalog.Item, error) {
	if len(fields) < 3 {
		return nil, decodeErr("bundle", fields, fmt.Errorf("%w: want at least 3, got %d", ErrFieldCount, len(fields)))
	}
	byID := make(map[string]*catalog.Item, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	ids := fields[2 : len(fields)-1]
	members := make([]catalog.Snapshot, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, decodeErr("bundle", fields, fmt.Errorf("%w: %s", ErrUnknownProduct, id))
		}
		members = append(members, catalog.SnapshotOf(p))
	}
	stock, err := parseStock(fields[len(fields)-1])
	if err != nil {
		return nil, decodeErr("bundle", fields, err)
	}
	it, err := catalog.NewBundle(fields[0], fields[1], members, stock, discount)
	if err != nil {
		return nil, decodeErr("bundle", fields, err)
	}
	return it, nil
}

// EncodeItem writes a product or a bundle in its own row shape.
func EncodeItem(it *catalog.Item) (string, error) {
	stock := strconv.Itoa(it.Stock)
	if it.Kind == catalog.KindBundle {
		fields := append([]string{it.ID, it.Name}, it.MemberIDs()...)
		return encode(append(fields, stock)...)
	}
	price := ""
	if p := it.Price(); p.Valid {
		price = p.Decimal.String()
	}
	return encode(it.ID, it.Name, price, stock)
}

// DecodeOrder reads "customer_id, product_id, quantity, timestamp".
func DecodeOrder(fields []string) (circulation.Record, error) {
	if len(fields) != 4 {
		return circulation.Record{}, decodeErr("order", fields, fmt.Errorf("%w: want 4, got %d", ErrFieldCount, len(fields)))
	}
	qty, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return circulation.Record{}, decodeErr("order", fields, fmt.Errorf("quantity: %w", err))
	}
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(fields[3]), time.Local)
	if err != nil {
		return circulation.Record{}, decodeErr("order", fields, fmt.Errorf("timestamp: %w", err))
	}
	return circulation.Record{CustomerID: fields[0], ItemID: fields[1], Quantity: qty, Timestamp: ts}, nil
}

func EncodeOrder(r circulation.Record) (string, error) {
	return encode(r.CustomerID, r.ItemID, strconv.Itoa(r.Quantity), r.Timestamp.Format(TimestampLayout))
}

func parseStock(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("stock: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("stock: negative value %d", n)
	}
	return n, nil
}
