// Package records is the in-memory ledger of customers, catalog items and
// orders, kept in step with the flat files that back it.
//
// A Records value is not safe for concurrent use. Callers run one operation
// at a time.
package records

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"

	"consolemart/internal/catalog"
	"consolemart/internal/circulation"
	"consolemart/internal/codec"
	"consolemart/internal/filestore"
	"consolemart/internal/membership"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotPurchasable    = errors.New("item has no valid price")
	ErrInsufficientStock = errors.New("not enough stock")
	ErrInvalidStock      = errors.New("stock cannot be negative")
	ErrUnknownCustomer   = errors.New("customer not found")
	ErrUnknownItem       = errors.New("item not found")
	ErrRowMissing        = errors.New("row not found in storage")
)

// LoadError reports a customer or product file that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Path, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }

// SearchField selects what a lookup compares the query against.
type SearchField int

const (
	// SearchAuto tries ids first and falls back to names.
	SearchAuto SearchField = iota
	SearchID
	SearchName
)

// Config names the backing files and the starting price settings. OrderPath
// may be empty, in which case orders are not logged.
type Config struct {
	CustomerPath   string
	ProductPath    string
	OrderPath      string
	Pricing        membership.Pricing
	BundleDiscount decimal.Decimal
}

// NewConfig returns a Config for the given files with default pricing.
func NewConfig(customerPath, productPath, orderPath string) Config {
	return Config{
		CustomerPath:   customerPath,
		ProductPath:    productPath,
		OrderPath:      orderPath,
		Pricing:        membership.DefaultPricing(),
		BundleDiscount: catalog.DefaultBundleDiscount,
	}
}

// Records owns the customer, item and order collections.
type Records struct {
	cfg      Config
	pricing  membership.Pricing
	files    *filestore.Manager
	logger   *slog.Logger
	tracer   trace.Tracer
	orderOps metric.Int64Counter

	customers []*membership.Customer
	items     []*catalog.Item
	orders    []circulation.Record

	nextCustomerID int
	nextItemID     int
}

type Option func(*Records)

// WithFileManager sets the storage manager; useful to inject faults.
func WithFileManager(m *filestore.Manager) Option {
	return func(r *Records) { r.files = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Records) { r.logger = logger }
}

// New loads customers, then products, then bundles, then the order log.
// Failure to load customers or products aborts; a missing or malformed
// order log only logs a warning and starts empty.
func New(ctx context.Context, cfg Config, opts ...Option) (*Records, error) {
	r := &Records{
		cfg:     cfg,
		pricing: cfg.Pricing,
		logger:  slog.Default(),
		tracer:  otel.Tracer("consolemart/records"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.files == nil {
		r.files = filestore.NewManager(filestore.WithLogger(r.logger))
	}
	orderOps, err := otel.Meter("consolemart/records").Int64Counter("records.orders",
		metric.WithDescription("Executed orders by outcome"))
	if err != nil {
		orderOps = noop.Int64Counter{}
	}
	r.orderOps = orderOps

	ctx, span := r.tracer.Start(ctx, "records.load")
	defer span.End()

	if err := r.loadCustomers(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := r.loadItems(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	r.loadOrders(ctx)

	if r.nextCustomerID, err = nextID(r.customerIDs()); err != nil {
		return nil, &LoadError{Path: cfg.CustomerPath, Err: err}
	}
	if r.nextItemID, err = nextID(r.itemIDs()); err != nil {
		return nil, &LoadError{Path: cfg.ProductPath, Err: err}
	}

	span.SetAttributes(
		attribute.Int("records.customers", len(r.customers)),
		attribute.Int("records.items", len(r.items)),
		attribute.Int("records.orders", len(r.orders)),
	)
	r.logger.Debug("records loaded",
		"customers", len(r.customers),
		"items", len(r.items),
		"orders", len(r.orders),
	)
	return r, nil
}

func (r *Records) loadCustomers(ctx context.Context) error {
	err := r.files.Scan(ctx, r.cfg.CustomerPath, func(line string) error {
		c, err := codec.DecodeCustomer(codec.Split(line))
		if err != nil {
			return err
		}
		r.customers = append(r.customers, c)
		return nil
	})
	if err != nil {
		return &LoadError{Path: r.cfg.CustomerPath, Err: err}
	}
	return nil
}

// loadItems makes two passes over the product file: bundles resolve their
// members against the products decoded in the first pass.
func (r *Records) loadItems(ctx context.Context) error {
	var products []*catalog.Item
	err := r.files.Scan(ctx, r.cfg.ProductPath, func(line string) error {
		switch catalog.Kind(codec.Tag(line)) {
		case catalog.KindProduct:
			p, err := codec.DecodeProduct(codec.Split(line))
			if err != nil {
				return err
			}
			products = append(products, p)
		case catalog.KindBundle:
		default:
			return fmt.Errorf("%w: %q", catalog.ErrUnknownKind, line)
		}
		return nil
	})
	if err != nil {
		return &LoadError{Path: r.cfg.ProductPath, Err: err}
	}

	var bundles []*catalog.Item
	err = r.files.Scan(ctx, r.cfg.ProductPath, func(line string) error {
		if catalog.Kind(codec.Tag(line)) != catalog.KindBundle {
			return nil
		}
		b, err := codec.DecodeBundle(codec.Split(line), products, r.cfg.BundleDiscount)
		if err != nil {
			return err
		}
		bundles = append(bundles, b)
		return nil
	})
	if err != nil {
		return &LoadError{Path: r.cfg.ProductPath, Err: err}
	}

	r.items = append(products, bundles...)
	return nil
}

func (r *Records) loadOrders(ctx context.Context) {
	if r.cfg.OrderPath == "" {
		return
	}
	var orders []circulation.Record
	err := r.files.Scan(ctx, r.cfg.OrderPath, func(line string) error {
		rec, err := codec.DecodeOrder(codec.Split(line))
		if err != nil {
			return err
		}
		orders = append(orders, rec)
		return nil
	})
	if err != nil {
		r.logger.Warn("cannot load the order log, starting with no previous orders",
			"path", r.cfg.OrderPath, "error", err)
		return
	}
	r.orders = orders
}

func (r *Records) customerIDs() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, c := range r.customers {
			if !yield(c.ID) {
				return
			}
		}
	}
}

func (r *Records) itemIDs() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, it := range r.items {
			if !yield(it.ID) {
				return
			}
		}
	}
}

// nextID returns one past the largest numeric suffix, or 1 when empty.
func nextID(ids iter.Seq[string]) (int, error) {
	highest := 0
	for id := range ids {
		n, err := strconv.Atoi(id[1:])
		if err != nil {
			return 0, fmt.Errorf("id %q has no numeric suffix: %w", id, err)
		}
		highest = max(highest, n)
	}
	return highest + 1, nil
}

// FindCustomer returns the first customer whose id or name equals query.
func (r *Records) FindCustomer(query string, field SearchField) (*membership.Customer, bool) {
	return find(r.customers, query, field,
		func(c *membership.Customer) string { return c.ID },
		func(c *membership.Customer) string { return c.Name },
	)
}

// FindItem returns the first product or bundle whose id or name equals query.
func (r *Records) FindItem(query string, field SearchField) (*catalog.Item, bool) {
	return find(r.items, query, field,
		func(it *catalog.Item) string { return it.ID },
		func(it *catalog.Item) string { return it.Name },
	)
}

func find[T any](xs []T, query string, field SearchField, id, name func(T) string) (T, bool) {
	switch field {
	case SearchID:
		return firstMatch(xs, query, id)
	case SearchName:
		return firstMatch(xs, query, name)
	}
	if v, ok := firstMatch(xs, query, id); ok {
		return v, true
	}
	return firstMatch(xs, query, name)
}

func firstMatch[T any](xs []T, query string, key func(T) string) (T, bool) {
	i := slices.IndexFunc(xs, func(x T) bool { return key(x) == query })
	if i < 0 {
		var zero T
		return zero, false
	}
	return xs[i], true
}

func (r *Records) Customers() iter.Seq[*membership.Customer] { return slices.Values(r.customers) }

func (r *Records) Items() iter.Seq[*catalog.Item] { return slices.Values(r.items) }

func (r *Records) Orders() iter.Seq[circulation.Record] { return slices.Values(r.orders) }

// OrdersFor yields the logged orders placed by one customer.
func (r *Records) OrdersFor(customerID string) iter.Seq[circulation.Record] {
	return func(yield func(circulation.Record) bool) {
		for _, o := range r.orders {
			if o.CustomerID == customerID && !yield(o) {
				return
			}
		}
	}
}

// Pricing returns the current class-wide settings.
func (r *Records) Pricing() membership.Pricing { return r.pricing }

func (r *Records) NextCustomerID() int { return r.nextCustomerID }

func (r *Records) NextItemID() int { return r.nextItemID }

// rewriteRow replaces the row whose first field is id.
func (r *Records) rewriteRow(ctx context.Context, path, id, line string) error {
	n, err := r.files.Rewrite(ctx, path, codec.MatchID(id), func(string) string { return line })
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s in %s", ErrRowMissing, id, path)
	}
	return nil
}
