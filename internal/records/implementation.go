// internal/records/implementation.go
package records

import (
	"context"
	"errors"
	"fmt"

	"consolemart/internal/catalog"
	"consolemart/internal/circulation"
	"consolemart/internal/codec"
	"consolemart/internal/filestore"
	"consolemart/internal/membership"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CreateCustomer appends a new customer of the given tier. The row is
// written before the customer becomes visible, so a failed write leaves the
// ledger unchanged. If the failed row may still be in the file its id is
// skipped so it is never handed out twice.
func (r *Records) CreateCustomer(ctx context.Context, name string, tier membership.Tier) (*membership.Customer, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", membership.ErrUnknownTier, byte(tier))
	}
	id := fmt.Sprintf("%c%d", tier, r.nextCustomerID)

	ctx, span := r.tracer.Start(ctx, "records.create_customer",
		trace.WithAttributes(attribute.String("customer.id", id)),
	)
	defer span.End()

	c, err := membership.New(id, name, decimal.Zero, r.pricing.VIPDefaultRate)
	if err != nil {
		return nil, err
	}
	line, err := codec.EncodeCustomer(c, r.pricing)
	if err != nil {
		return nil, fmt.Errorf("encode customer %s: %w", id, err)
	}
	if err := r.files.Append(ctx, r.cfg.CustomerPath, line); err != nil {
		span.RecordError(err)
		if errors.Is(err, filestore.ErrPartialAppend) {
			r.nextCustomerID++
		}
		return nil, fmt.Errorf("persist customer %s: %w", id, err)
	}

	r.customers = append(r.customers, c)
	r.nextCustomerID++
	r.logger.Info("customer created", "id", id, "tier", tier.String())
	return c, nil
}

// CreateProduct appends a new product. An invalid price creates an unpriced
// product that cannot be ordered yet.
func (r *Records) CreateProduct(ctx context.Context, name string, price decimal.NullDecimal, stock int) (*catalog.Item, error) {
	id := fmt.Sprintf("%c%d", catalog.KindProduct, r.nextItemID)
	p, err := catalog.NewProduct(id, name, price, stock)
	if err != nil {
		return nil, err
	}
	return p, r.appendItem(ctx, p)
}

// CreateBundle appends a bundle over existing products, snapshotting their
// current prices.
func (r *Records) CreateBundle(ctx context.Context, name string, productIDs []string, stock int) (*catalog.Item, error) {
	members := make([]catalog.Snapshot, 0, len(productIDs))
	for _, pid := range productIDs {
		p, ok := r.FindItem(pid, SearchID)
		if !ok || p.Kind != catalog.KindProduct {
			return nil, fmt.Errorf("%w: %s is not a product", ErrUnknownItem, pid)
		}
		members = append(members, catalog.SnapshotOf(p))
	}
	id := fmt.Sprintf("%c%d", catalog.KindBundle, r.nextItemID)
	b, err := catalog.NewBundle(id, name, members, stock, r.cfg.BundleDiscount)
	if err != nil {
		return nil, err
	}
	return b, r.appendItem(ctx, b)
}

func (r *Records) appendItem(ctx context.Context, it *catalog.Item) error {
	ctx, span := r.tracer.Start(ctx, "records.create_item",
		trace.WithAttributes(attribute.String("item.id", it.ID)),
	)
	defer span.End()

	line, err := codec.EncodeItem(it)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", it.ID, err)
	}
	if err := r.files.Append(ctx, r.cfg.ProductPath, line); err != nil {
		span.RecordError(err)
		if errors.Is(err, filestore.ErrPartialAppend) {
			r.nextItemID++
		}
		return fmt.Errorf("persist item %s: %w", it.ID, err)
	}
	r.items = append(r.items, it)
	r.nextItemID++
	r.logger.Info("item created", "id", it.ID, "kind", it.Kind.String())
	return nil
}

// Restock sets an item's stock level.
func (r *Records) Restock(ctx context.Context, itemID string, stock int) error {
	it, ok := r.FindItem(itemID, SearchID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	if stock < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStock, stock)
	}
	staged := it.Clone()
	staged.Stock = stock
	line, err := codec.EncodeItem(staged)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", it.ID, err)
	}
	if err := r.rewriteRow(ctx, r.cfg.ProductPath, it.ID, line); err != nil {
		return fmt.Errorf("persist item %s: %w", it.ID, err)
	}
	it.Stock = stock
	return nil
}

// undo restores a row to what it held before a failed order.
type undo struct {
	path string
	id   string
	line string
}

// ExecuteOrder charges the customer, takes the quantity out of stock and
// logs the order.
//
// The new customer value (including the VIP fee for an order that signed
// the customer up as VIP) and the new stock are worked out on copies first.
// The customer row, the item row and the order log are then written in that
// order. If a later write fails, earlier rows are written back with their
// previous contents. The live customer and item change only after every
// write succeeded.
func (r *Records) ExecuteOrder(ctx context.Context, o *circulation.Order) (receipt circulation.Receipt, err error) {
	ctx, span := r.tracer.Start(ctx, "records.execute_order",
		trace.WithAttributes(
			attribute.String("order.id", o.ID.String()),
			attribute.String("customer.id", o.Customer.ID),
			attribute.String("item.id", o.Item.ID),
			attribute.Int("order.quantity", o.Quantity),
			attribute.Bool("order.purchased_vip", o.PurchasedVIP),
		),
	)
	defer span.End()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		r.orderOps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}()

	customer, ok := r.FindCustomer(o.Customer.ID, SearchID)
	if !ok || customer != o.Customer {
		return circulation.Receipt{}, fmt.Errorf("%w: %s", ErrUnknownCustomer, o.Customer.ID)
	}
	item, ok := r.FindItem(o.Item.ID, SearchID)
	if !ok || item != o.Item {
		return circulation.Receipt{}, fmt.Errorf("%w: %s", ErrUnknownItem, o.Item.ID)
	}
	total := o.TotalPrice()
	if !total.Valid {
		return circulation.Receipt{}, fmt.Errorf("%w: %s", ErrNotPurchasable, item.ID)
	}
	if o.Quantity > item.Stock {
		return circulation.Receipt{}, fmt.Errorf("%w: %s has %d, ordered %d", ErrInsufficientStock, item.ID, item.Stock, o.Quantity)
	}

	rate, discounted := membership.ComputeDiscount(customer, r.pricing, total.Decimal)
	fee := decimal.Zero
	if o.PurchasedVIP {
		fee = r.pricing.VIPFee
	}

	stagedCustomer := customer.Clone()
	stagedCustomer.Value = stagedCustomer.Value.Add(discounted).Add(fee)
	stagedItem := item.Clone()
	stagedItem.Stock -= o.Quantity

	customerLine, err := codec.EncodeCustomer(stagedCustomer, r.pricing)
	if err != nil {
		return circulation.Receipt{}, fmt.Errorf("encode customer %s: %w", customer.ID, err)
	}
	itemLine, err := codec.EncodeItem(stagedItem)
	if err != nil {
		return circulation.Receipt{}, fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	record := o.Record()
	orderLine, err := codec.EncodeOrder(record)
	if err != nil {
		return circulation.Receipt{}, fmt.Errorf("encode order: %w", err)
	}
	prevCustomer, err := codec.EncodeCustomer(customer, r.pricing)
	if err != nil {
		return circulation.Receipt{}, fmt.Errorf("encode customer %s: %w", customer.ID, err)
	}
	prevItem, err := codec.EncodeItem(item)
	if err != nil {
		return circulation.Receipt{}, fmt.Errorf("encode item %s: %w", item.ID, err)
	}

	if err := r.rewriteRow(ctx, r.cfg.CustomerPath, customer.ID, customerLine); err != nil {
		return circulation.Receipt{}, fmt.Errorf("persist customer %s: %w", customer.ID, err)
	}
	undoCustomer := undo{path: r.cfg.CustomerPath, id: customer.ID, line: prevCustomer}

	if err := r.rewriteRow(ctx, r.cfg.ProductPath, item.ID, itemLine); err != nil {
		return circulation.Receipt{}, r.compensate(ctx, o,
			fmt.Errorf("persist item %s: %w", item.ID, err), undoCustomer)
	}
	undoItem := undo{path: r.cfg.ProductPath, id: item.ID, line: prevItem}

	if r.cfg.OrderPath != "" {
		if err := r.files.Append(ctx, r.cfg.OrderPath, orderLine); err != nil {
			if errors.Is(err, filestore.ErrPartialAppend) {
				r.logger.Error("order line may remain in the order log",
					"order", o.ID, "path", r.cfg.OrderPath, "line", orderLine)
			}
			return circulation.Receipt{}, r.compensate(ctx, o,
				fmt.Errorf("persist order: %w", err), undoItem, undoCustomer)
		}
	}

	customer.Value = stagedCustomer.Value
	item.Stock = stagedItem.Stock
	r.orders = append(r.orders, record)

	r.logger.Info("order executed",
		"order", o.ID,
		"customer", customer.ID,
		"item", item.ID,
		"quantity", o.Quantity,
		"charged", discounted.Add(fee).String(),
	)
	return circulation.Receipt{
		Order:         o,
		UnitPrice:     item.Price().Decimal,
		Subtotal:      total.Decimal,
		Rate:          rate,
		Discounted:    discounted,
		MembershipFee: fee,
		Total:         discounted.Add(fee),
	}, nil
}

// compensate writes back earlier rows after a failed order. Rows that cannot
// be restored are logged; their errors are joined onto cause.
func (r *Records) compensate(ctx context.Context, o *circulation.Order, cause error, undos ...undo) error {
	errs := []error{cause}
	for _, u := range undos {
		r.logger.Warn("compensating failed order",
			"order", o.ID, "row", u.id, "path", u.path, "cause", cause)
		if err := r.rewriteRow(ctx, u.path, u.id, u.line); err != nil {
			r.logger.Error("failed to restore row, storage has diverged",
				"order", o.ID, "row", u.id, "path", u.path, "error", err)
			errs = append(errs, fmt.Errorf("restore %s: %w", u.id, err))
		}
	}
	return errors.Join(errs...)
}

// SetMemberRate changes the rate shared by every member and rewrites the
// rate field of every member row.
func (r *Records) SetMemberRate(ctx context.Context, rate decimal.Decimal) error {
	ctx, span := r.tracer.Start(ctx, "records.set_member_rate",
		trace.WithAttributes(attribute.String("rate", rate.String())),
	)
	defer span.End()

	_, err := r.files.Rewrite(ctx, r.cfg.CustomerPath, codec.MatchTag(byte(membership.TierMember)), func(line string) string {
		fields := codec.Split(line)
		if len(fields) != 4 {
			return line
		}
		fields[2] = rate.String()
		return codec.Join(fields...)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist member rate: %w", err)
	}
	r.pricing.MemberRate = rate
	return nil
}

// SetVIPRate changes one VIP member's own rate.
func (r *Records) SetVIPRate(ctx context.Context, customerID string, rate decimal.Decimal) error {
	c, ok := r.FindCustomer(customerID, SearchID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCustomer, customerID)
	}
	staged := c.Clone()
	if err := staged.SetInstanceRate(rate); err != nil {
		return fmt.Errorf("%s: %w", customerID, err)
	}
	line, err := codec.EncodeCustomer(staged, r.pricing)
	if err != nil {
		return fmt.Errorf("encode customer %s: %w", customerID, err)
	}
	if err := r.rewriteRow(ctx, r.cfg.CustomerPath, c.ID, line); err != nil {
		return fmt.Errorf("persist customer %s: %w", c.ID, err)
	}
	return c.SetInstanceRate(rate)
}

// SetVIPThreshold changes the spend above which VIP members get the extra
// discount. It is held in memory only.
func (r *Records) SetVIPThreshold(threshold decimal.Decimal) {
	r.pricing.VIPThreshold = threshold
}
