package chaos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"consolemart/internal/catalog"
	"consolemart/internal/filestore"
	"consolemart/internal/membership"
	"consolemart/internal/records"

	"github.com/shopspring/decimal"
)

const (
	probeStock = 5
	probePrice = "10.00"
)

// Sandbox is a scratch copy of the data files that experiments may break.
// Reset restores it from the source files and adds a VIP customer and a
// priced product for the experiments to work on.
type Sandbox struct {
	Dir    string
	Config records.Config
	FS     *FaultFS
	Store  *records.Records
	Files  *filestore.Manager

	sources  records.Config
	logger   *slog.Logger
	baseline map[string][]byte

	Customer *membership.Customer
	Item     *catalog.Item
}

// NewSandbox places copies of the files named by sources in dir.
func NewSandbox(dir string, sources records.Config, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := sources
	cfg.CustomerPath = filepath.Join(dir, "customers.txt")
	cfg.ProductPath = filepath.Join(dir, "products.txt")
	cfg.OrderPath = filepath.Join(dir, "orders.txt")
	return &Sandbox{
		Dir:     dir,
		Config:  cfg,
		sources: sources,
		logger:  logger,
	}
}

// Reset copies the sources, opens a store over a fresh FaultFS, creates the
// probe rows and records the baseline contents of every file.
func (s *Sandbox) Reset(ctx context.Context) error {
	s.Store, s.Customer, s.Item = nil, nil, nil
	if err := copyFile(s.sources.CustomerPath, s.Config.CustomerPath, true); err != nil {
		return err
	}
	if err := copyFile(s.sources.ProductPath, s.Config.ProductPath, true); err != nil {
		return err
	}
	if err := copyFile(s.sources.OrderPath, s.Config.OrderPath, false); err != nil {
		return err
	}

	s.FS = NewFaultFS(filestore.OSFS{})
	s.Files = filestore.NewManager(filestore.WithFS(s.FS), filestore.WithLogger(s.logger))
	store, err := records.New(ctx, s.Config,
		records.WithFileManager(s.Files),
		records.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("open sandbox store: %w", err)
	}
	s.Store = store

	if s.Customer, err = store.CreateCustomer(ctx, "Chaos Probe", membership.TierVIP); err != nil {
		return fmt.Errorf("create probe customer: %w", err)
	}
	price := decimal.NewNullDecimal(decimal.RequireFromString(probePrice))
	if s.Item, err = store.CreateProduct(ctx, "Chaos Widget", price, probeStock); err != nil {
		return fmt.Errorf("create probe product: %w", err)
	}
	return s.snapshot()
}

var errNotPrepared = errors.New("sandbox not prepared")

func (s *Sandbox) ready() error {
	if s.Store == nil || s.Customer == nil || s.Item == nil {
		return errNotPrepared
	}
	return nil
}

func (s *Sandbox) paths() []string {
	return []string{s.Config.CustomerPath, s.Config.ProductPath, s.Config.OrderPath}
}

func (s *Sandbox) snapshot() error {
	s.baseline = make(map[string][]byte)
	for _, p := range s.paths() {
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", p, err)
		}
		s.baseline[p] = b
	}
	return nil
}

// TempFiles counts rewrite scratch files left in the sandbox.
func (s *Sandbox) TempFiles(context.Context) (float64, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return 0, err
	}
	n := 0
	marker := strings.TrimSuffix(filestore.TempPattern, "*")
	for _, e := range entries {
		if strings.Contains(e.Name(), marker) {
			n++
		}
	}
	return float64(n), nil
}

// ChangedFiles counts files whose bytes differ from the baseline taken by
// the last Reset. It is zero before the first Reset.
func (s *Sandbox) ChangedFiles(context.Context) (float64, error) {
	n := 0
	for p, want := range s.baseline {
		got, err := os.ReadFile(p)
		if err != nil {
			return 0, err
		}
		if !bytes.Equal(got, want) {
			n++
		}
	}
	return float64(n), nil
}

// MemoryDiverged is 1 when the probe customer or product no longer holds
// the values it was created with.
func (s *Sandbox) MemoryDiverged(context.Context) (float64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	rate, err := s.Customer.InstanceRate()
	if err != nil {
		return 0, err
	}
	if !s.Customer.Value.IsZero() || s.Item.Stock != probeStock ||
		!rate.Equal(s.Config.Pricing.VIPDefaultRate) {
		return 1, nil
	}
	return 0, nil
}

// Injected reports the faults fired since the last Reset.
func (s *Sandbox) Injected(context.Context) (float64, error) {
	if s.FS == nil {
		return 0, nil
	}
	return float64(s.FS.Injected()), nil
}

func copyFile(src, dst string, required bool) error {
	b, err := os.ReadFile(src)
	switch {
	case err == nil:
	case !required && (src == "" || errors.Is(err, fs.ErrNotExist)):
		b = nil
	default:
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.WriteFile(dst, b, 0o644); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}
