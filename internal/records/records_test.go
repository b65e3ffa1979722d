package records_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"consolemart/internal/catalog"
	"consolemart/internal/chaos"
	"consolemart/internal/circulation"
	"consolemart/internal/codec"
	"consolemart/internal/filestore"
	"consolemart/internal/membership"
	"consolemart/internal/records"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	customerRows = "C1, Alice, 0, 0\nM2, Bob, 0.05, 120.5\nV3, Carol, 0.1, 1500\nC10, Alice, 0, 7\n"
	productRows  = "P1, Salt, 10, 5\nP2, Pepper, 3.75, 4\nB3, Seasoning, P1, P2, 2\nP4, Saffron, , 0\n"
	orderRows    = "C1, P1, 2, 2024-03-09 14:05:06.123456\nM2, B3, 1, 2024-03-10 09:00:00\n"
)

type fixture struct {
	cfg records.Config
	ffs *chaos.FaultFS
}

func setup(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := records.NewConfig(
		filepath.Join(dir, "customers.txt"),
		filepath.Join(dir, "products.txt"),
		filepath.Join(dir, "orders.txt"),
	)
	require.NoError(t, os.WriteFile(cfg.CustomerPath, []byte(customerRows), 0o644))
	require.NoError(t, os.WriteFile(cfg.ProductPath, []byte(productRows), 0o644))
	require.NoError(t, os.WriteFile(cfg.OrderPath, []byte(orderRows), 0o644))
	return fixture{cfg: cfg, ffs: chaos.NewFaultFS(filestore.OSFS{})}
}

func (f fixture) open(t *testing.T) *records.Records {
	t.Helper()
	r, err := records.New(context.Background(), f.cfg,
		records.WithFileManager(filestore.NewManager(filestore.WithFS(f.ffs))))
	require.NoError(t, err)
	return r
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func mustFindCustomer(t *testing.T, r *records.Records, id string) *membership.Customer {
	t.Helper()
	c, ok := r.FindCustomer(id, records.SearchID)
	require.True(t, ok, id)
	return c
}

func mustFindItem(t *testing.T, r *records.Records, id string) *catalog.Item {
	t.Helper()
	it, ok := r.FindItem(id, records.SearchID)
	require.True(t, ok, id)
	return it
}

func TestNewLoadsEverything(t *testing.T) {
	r := setup(t).open(t)

	assert.Len(t, slices.Collect(r.Customers()), 4)
	assert.Len(t, slices.Collect(r.Items()), 4)
	assert.Len(t, slices.Collect(r.Orders()), 2)
	assert.Equal(t, 11, r.NextCustomerID())
	assert.Equal(t, 5, r.NextItemID())

	b := mustFindItem(t, r, "B3")
	assert.Equal(t, catalog.KindBundle, b.Kind)
	assert.Equal(t, []string{"P1", "P2"}, b.MemberIDs())
	assert.Equal(t, "11", b.Price().Decimal.String())

	assert.False(t, mustFindItem(t, r, "P4").Price().Valid)
}

func TestFind(t *testing.T) {
	r := setup(t).open(t)

	c, ok := r.FindCustomer("Alice", records.SearchAuto)
	require.True(t, ok)
	assert.Equal(t, "C1", c.ID, "first match wins")

	c, ok = r.FindCustomer("C10", records.SearchAuto)
	require.True(t, ok)
	assert.Equal(t, "C10", c.ID)

	_, ok = r.FindCustomer("C10", records.SearchName)
	assert.False(t, ok)

	it, ok := r.FindItem("Pepper", records.SearchAuto)
	require.True(t, ok)
	assert.Equal(t, "P2", it.ID)

	_, ok = r.FindCustomer("Nobody", records.SearchAuto)
	assert.False(t, ok)
	_, ok = r.FindItem("P99", records.SearchAuto)
	assert.False(t, ok)
}

func TestOrdersFor(t *testing.T) {
	r := setup(t).open(t)
	got := slices.Collect(r.OrdersFor("M2"))
	require.Len(t, got, 1)
	assert.Equal(t, "B3", got[0].ItemID)
	assert.Empty(t, slices.Collect(r.OrdersFor("V3")))
}

func TestMissingCustomerOrProductFileIsFatal(t *testing.T) {
	for _, which := range []string{"customers", "products"} {
		t.Run(which, func(t *testing.T) {
			f := setup(t)
			path := f.cfg.CustomerPath
			if which == "products" {
				path = f.cfg.ProductPath
			}
			require.NoError(t, os.Remove(path))

			_, err := records.New(context.Background(), f.cfg)
			require.Error(t, err)
			var loadErr *records.LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, path, loadErr.Path)
			assert.ErrorIs(t, err, fs.ErrNotExist)
		})
	}
}

func TestMalformedRowsAreFatal(t *testing.T) {
	f := setup(t)
	require.NoError(t, os.WriteFile(f.cfg.ProductPath, []byte("P1, Salt, 10, 5\nB2, Kit, P1, P9, 1\n"), 0o644))

	_, err := records.New(context.Background(), f.cfg)
	assert.ErrorIs(t, err, codec.ErrUnknownProduct)

	require.NoError(t, os.WriteFile(f.cfg.ProductPath, []byte("X1, Thing, 1, 1\n"), 0o644))
	_, err = records.New(context.Background(), f.cfg)
	assert.ErrorIs(t, err, catalog.ErrUnknownKind)
}

func TestOrderLogProblemsAreNotFatal(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, os.Remove(f.cfg.OrderPath))
		r := f.open(t)
		assert.Empty(t, slices.Collect(r.Orders()))
	})
	t.Run("malformed", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, os.WriteFile(f.cfg.OrderPath, []byte("C1, P1, lots, yesterday\n"), 0o644))
		r := f.open(t)
		assert.Empty(t, slices.Collect(r.Orders()))
	})
}

func TestExecuteOrderPlainCustomer(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	c := mustFindCustomer(t, r, "C1")
	p := mustFindItem(t, r, "P1")

	o, err := circulation.NewOrder(c, p, 2, false)
	require.NoError(t, err)
	receipt, err := r.ExecuteOrder(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, "20", c.Value.String())
	assert.Equal(t, 3, p.Stock)
	assert.True(t, receipt.Rate.IsZero())
	assert.Equal(t, "20", receipt.Total.String())
	assert.Len(t, slices.Collect(r.Orders()), 3)

	customers := read(t, f.cfg.CustomerPath)
	assert.Contains(t, customers, "C1, Alice, 0, 20\n")
	assert.Contains(t, customers, "C10, Alice, 0, 7\n")
	assert.Contains(t, read(t, f.cfg.ProductPath), "P1, Salt, 10, 3\n")

	orders := strings.Split(strings.TrimSuffix(read(t, f.cfg.OrderPath), "\n"), "\n")
	require.Len(t, orders, 3)
	assert.True(t, strings.HasPrefix(orders[2], "C1, P1, 2, "))

	reloaded := f.open(t)
	assert.Equal(t, "20", mustFindCustomer(t, reloaded, "C1").Value.String())
	assert.Equal(t, 3, mustFindItem(t, reloaded, "P1").Stock)
}

func TestExecuteOrderVIPSignupAddsFee(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	ctx := context.Background()

	vip, err := r.CreateCustomer(ctx, "Dora", membership.TierVIP)
	require.NoError(t, err)
	p := mustFindItem(t, r, "P1")

	o, err := circulation.NewOrder(vip, p, 1, true)
	require.NoError(t, err)
	receipt, err := r.ExecuteOrder(ctx, o)
	require.NoError(t, err)

	assert.Equal(t, "9", receipt.Discounted.String())
	assert.Equal(t, "200", receipt.MembershipFee.String())
	assert.Equal(t, "209", vip.Value.String())
	assert.Contains(t, read(t, f.cfg.CustomerPath), "V11, Dora, 0.1, 209\n")
}

func TestExecuteOrderRejects(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	c := mustFindCustomer(t, r, "C1")

	tooMany, err := circulation.NewOrder(c, mustFindItem(t, r, "P2"), 5, false)
	require.NoError(t, err)
	_, err = r.ExecuteOrder(context.Background(), tooMany)
	assert.ErrorIs(t, err, records.ErrInsufficientStock)

	unpriced, err := circulation.NewOrder(c, mustFindItem(t, r, "P4"), 1, false)
	require.NoError(t, err)
	_, err = r.ExecuteOrder(context.Background(), unpriced)
	assert.ErrorIs(t, err, records.ErrNotPurchasable)

	stranger, err := membership.New("C1", "Impostor", decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	foreign, err := circulation.NewOrder(stranger, mustFindItem(t, r, "P1"), 1, false)
	require.NoError(t, err)
	_, err = r.ExecuteOrder(context.Background(), foreign)
	assert.ErrorIs(t, err, records.ErrUnknownCustomer)

	assert.Equal(t, customerRows, read(t, f.cfg.CustomerPath))
	assert.Equal(t, productRows, read(t, f.cfg.ProductPath))
	assert.Equal(t, orderRows, read(t, f.cfg.OrderPath))
}

func TestExecuteOrderCompensatesOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		fault func(records.Config) chaos.Fault
	}{
		{"product rewrite", func(cfg records.Config) chaos.Fault {
			return chaos.Fault{Op: chaos.OpRename, Match: chaos.Path(cfg.ProductPath)}
		}},
		{"order append", func(cfg records.Config) chaos.Fault {
			return chaos.Fault{Op: chaos.OpOpenFile, Match: chaos.Path(cfg.OrderPath)}
		}},
		{"order log close", func(cfg records.Config) chaos.Fault {
			return chaos.Fault{Op: chaos.OpClose, Match: chaos.Path(cfg.OrderPath)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			r := f.open(t)
			c := mustFindCustomer(t, r, "M2")
			p := mustFindItem(t, r, "P1")

			f.ffs.Inject(tt.fault(f.cfg))
			o, err := circulation.NewOrder(c, p, 2, false)
			require.NoError(t, err)
			_, err = r.ExecuteOrder(context.Background(), o)
			require.ErrorIs(t, err, chaos.ErrInjected)

			assert.Equal(t, "120.5", c.Value.String())
			assert.Equal(t, 5, p.Stock)
			assert.Len(t, slices.Collect(r.Orders()), 2)
			assert.Equal(t, customerRows, read(t, f.cfg.CustomerPath))
			assert.Equal(t, productRows, read(t, f.cfg.ProductPath))
			assert.Equal(t, orderRows, read(t, f.cfg.OrderPath))
		})
	}
}

func TestExecuteOrderReportsFailedCompensation(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	c := mustFindCustomer(t, r, "C1")
	p := mustFindItem(t, r, "P1")

	f.ffs.Inject(chaos.Fault{Op: chaos.OpRename, Match: chaos.Path(f.cfg.ProductPath)})
	f.ffs.Inject(chaos.Fault{Op: chaos.OpRename, Match: chaos.Path(f.cfg.CustomerPath), After: 1})

	o, err := circulation.NewOrder(c, p, 1, false)
	require.NoError(t, err)
	_, err = r.ExecuteOrder(context.Background(), o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist item P1")
	assert.Contains(t, err.Error(), "restore C1")
	assert.True(t, c.Value.IsZero(), "memory is only changed after every write")
}

func TestCreateCustomer(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	ctx := context.Background()

	m, err := r.CreateCustomer(ctx, "Eve", membership.TierMember)
	require.NoError(t, err)
	assert.Equal(t, "M11", m.ID)
	v, err := r.CreateCustomer(ctx, "Finn", membership.TierVIP)
	require.NoError(t, err)
	assert.Equal(t, "V12", v.ID)
	assert.Equal(t, 13, r.NextCustomerID())

	assert.True(t, strings.HasSuffix(read(t, f.cfg.CustomerPath), "M11, Eve, 0.05, 0\nV12, Finn, 0.1, 0\n"))

	reloaded := f.open(t)
	assert.Equal(t, 13, reloaded.NextCustomerID())
	got, ok := reloaded.FindCustomer("Finn", records.SearchName)
	require.True(t, ok)
	assert.Equal(t, membership.TierVIP, got.Tier)
}

func TestCreateCustomerPersistFailureLeavesMemory(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	f.ffs.Inject(chaos.Fault{Op: chaos.OpOpenFile, Match: chaos.Path(f.cfg.CustomerPath)})

	_, err := r.CreateCustomer(context.Background(), "Ghost", membership.TierCustomer)
	require.ErrorIs(t, err, chaos.ErrInjected)
	assert.Equal(t, 11, r.NextCustomerID())
	_, ok := r.FindCustomer("Ghost", records.SearchName)
	assert.False(t, ok)
	assert.Equal(t, customerRows, read(t, f.cfg.CustomerPath))
}

func TestCreateCustomerCloseFailureDoesNotReuseID(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	ctx := context.Background()

	f.ffs.Inject(chaos.Fault{Op: chaos.OpClose, Match: chaos.Path(f.cfg.CustomerPath)})
	_, err := r.CreateCustomer(ctx, "Ghost", membership.TierCustomer)
	require.ErrorIs(t, err, chaos.ErrInjected)
	assert.Equal(t, customerRows, read(t, f.cfg.CustomerPath), "the written row is rolled back")
	f.ffs.Clear()

	c, err := r.CreateCustomer(ctx, "Real", membership.TierCustomer)
	require.NoError(t, err)
	assert.Equal(t, "C11", c.ID)
	assert.Equal(t, customerRows+"C11, Real, 0, 0\n", read(t, f.cfg.CustomerPath))
}

func TestCreateCustomerUnrecoverableAppendSkipsID(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	ctx := context.Background()

	f.ffs.Inject(chaos.Fault{Op: chaos.OpClose, Match: chaos.Path(f.cfg.CustomerPath)})
	f.ffs.Inject(chaos.Fault{Op: chaos.OpTruncate, Match: chaos.Path(f.cfg.CustomerPath)})
	_, err := r.CreateCustomer(ctx, "Ghost", membership.TierCustomer)
	require.ErrorIs(t, err, filestore.ErrPartialAppend)
	assert.Equal(t, 12, r.NextCustomerID())
	_, ok := r.FindCustomer("Ghost", records.SearchName)
	assert.False(t, ok)
	f.ffs.Clear()

	c, err := r.CreateCustomer(ctx, "Real", membership.TierCustomer)
	require.NoError(t, err)
	assert.Equal(t, "C12", c.ID)
	assert.Equal(t, customerRows+"C11, Ghost, 0, 0\nC12, Real, 0, 0\n", read(t, f.cfg.CustomerPath))
}

func TestCreateProductUnrecoverableAppendSkipsID(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	ctx := context.Background()

	f.ffs.Inject(chaos.Fault{Op: chaos.OpWrite, Match: chaos.Path(f.cfg.ProductPath)})
	f.ffs.Inject(chaos.Fault{Op: chaos.OpTruncate, Match: chaos.Path(f.cfg.ProductPath)})
	_, err := r.CreateProduct(ctx, "Cumin", decimal.NewNullDecimal(decimal.NewFromInt(2)), 1)
	require.ErrorIs(t, err, filestore.ErrPartialAppend)
	assert.Equal(t, 6, r.NextItemID())
	f.ffs.Clear()

	p, err := r.CreateProduct(ctx, "Cumin", decimal.NewNullDecimal(decimal.NewFromInt(2)), 1)
	require.NoError(t, err)
	assert.Equal(t, "P6", p.ID)
}

func TestCreateCatalogItems(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	ctx := context.Background()

	p, err := r.CreateProduct(ctx, "Cumin", decimal.NewNullDecimal(decimal.RequireFromString("4.5")), 8)
	require.NoError(t, err)
	assert.Equal(t, "P5", p.ID)

	b, err := r.CreateBundle(ctx, "Spice rack", []string{"P5", "P1"}, 3)
	require.NoError(t, err)
	assert.Equal(t, "B6", b.ID)
	assert.Equal(t, "11.6", b.Price().Decimal.String())

	_, err = r.CreateBundle(ctx, "Nested", []string{"B3"}, 1)
	assert.ErrorIs(t, err, records.ErrUnknownItem)

	rows := read(t, f.cfg.ProductPath)
	assert.True(t, strings.HasSuffix(rows, "P5, Cumin, 4.5, 8\nB6, Spice rack, P5, P1, 3\n"))

	reloaded := f.open(t)
	assert.Equal(t, 7, reloaded.NextItemID())
	assert.Equal(t, []string{"P5", "P1"}, mustFindItem(t, reloaded, "B6").MemberIDs())
}

func TestRestock(t *testing.T) {
	f := setup(t)
	r := f.open(t)

	require.NoError(t, r.Restock(context.Background(), "B3", 9))
	assert.Equal(t, 9, mustFindItem(t, r, "B3").Stock)
	assert.Contains(t, read(t, f.cfg.ProductPath), "B3, Seasoning, P1, P2, 9\n")

	assert.ErrorIs(t, r.Restock(context.Background(), "P99", 1), records.ErrUnknownItem)
	assert.ErrorIs(t, r.Restock(context.Background(), "P1", -1), records.ErrInvalidStock)
}

func TestSetMemberRateIsRetroactive(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	rate := decimal.RequireFromString("0.2")

	require.NoError(t, r.SetMemberRate(context.Background(), rate))
	assert.True(t, r.Pricing().MemberRate.Equal(rate))

	bob := mustFindCustomer(t, r, "M2")
	got, discounted := membership.ComputeDiscount(bob, r.Pricing(), decimal.NewFromInt(100))
	assert.True(t, got.Equal(rate))
	assert.Equal(t, "80", discounted.String())

	assert.Equal(t, "C1, Alice, 0, 0\nM2, Bob, 0.2, 120.5\nV3, Carol, 0.1, 1500\nC10, Alice, 0, 7\n",
		read(t, f.cfg.CustomerPath))
}

func TestSetVIPRate(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	ctx := context.Background()

	require.NoError(t, r.SetVIPRate(ctx, "V3", decimal.RequireFromString("0.25")))
	rate, err := mustFindCustomer(t, r, "V3").InstanceRate()
	require.NoError(t, err)
	assert.Equal(t, "0.25", rate.String())
	assert.Contains(t, read(t, f.cfg.CustomerPath), "V3, Carol, 0.25, 1500\n")

	assert.ErrorIs(t, r.SetVIPRate(ctx, "M2", decimal.Zero), membership.ErrNotVIP)
	assert.ErrorIs(t, r.SetVIPRate(ctx, "V99", decimal.Zero), records.ErrUnknownCustomer)
}

func TestSetVIPRateTempWriteFailureLeavesFile(t *testing.T) {
	f := setup(t)
	r := f.open(t)
	f.ffs.Inject(chaos.Fault{Op: chaos.OpWrite, Match: chaos.TempOf(f.cfg.CustomerPath)})

	err := r.SetVIPRate(context.Background(), "V3", decimal.RequireFromString("0.3"))
	require.ErrorIs(t, err, chaos.ErrInjected)
	assert.Equal(t, customerRows, read(t, f.cfg.CustomerPath))

	rate, err := mustFindCustomer(t, r, "V3").InstanceRate()
	require.NoError(t, err)
	assert.Equal(t, "0.1", rate.String())
}

func TestSetVIPThreshold(t *testing.T) {
	r := setup(t).open(t)
	r.SetVIPThreshold(decimal.NewFromInt(50))

	carol := mustFindCustomer(t, r, "V3")
	rate, _ := membership.ComputeDiscount(carol, r.Pricing(), decimal.NewFromInt(60))
	assert.Equal(t, "0.15", rate.String())
}

func TestWithoutOrderLog(t *testing.T) {
	f := setup(t)
	f.cfg.OrderPath = ""
	r := f.open(t)
	assert.Empty(t, slices.Collect(r.Orders()))

	o, err := circulation.NewOrder(mustFindCustomer(t, r, "C1"), mustFindItem(t, r, "P1"), 1, false)
	require.NoError(t, err)
	_, err = r.ExecuteOrder(context.Background(), o)
	require.NoError(t, err)
	assert.Len(t, slices.Collect(r.Orders()), 1)
}
