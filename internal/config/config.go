// Package config loads the settings of the consolemart binaries from an
// optional YAML file, the environment and positional arguments, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"consolemart/internal/membership"
	"consolemart/internal/records"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the data file paths.
const (
	EnvCustomers = "CONSOLEMART_CUSTOMERS"
	EnvProducts  = "CONSOLEMART_PRODUCTS"
	EnvOrders    = "CONSOLEMART_ORDERS"
)

var validate = validator.New()

type Files struct {
	Customers string `yaml:"customers" validate:"required"`
	Products  string `yaml:"products" validate:"required"`
	// Orders may be empty to run without an order log.
	Orders string `yaml:"orders"`
}

type Pricing struct {
	MemberRate     float64 `yaml:"member_rate" validate:"gte=0,lte=1"`
	VIPRate        float64 `yaml:"vip_rate" validate:"gte=0,lte=1"`
	VIPThreshold   float64 `yaml:"vip_threshold" validate:"gt=0"`
	VIPFee         float64 `yaml:"vip_fee" validate:"gte=0"`
	BundleDiscount float64 `yaml:"bundle_discount" validate:"gte=0,lte=1"`
}

type Config struct {
	Files     Files   `yaml:"files"`
	Pricing   Pricing `yaml:"pricing"`
	LogLevel  string  `yaml:"log_level" validate:"oneof=debug info warn error"`
	TraceFile string  `yaml:"trace_file"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Files: Files{
			Customers: "./data/customers.csv",
			Products:  "./data/products.csv",
			Orders:    "./data/orders.csv",
		},
		Pricing: Pricing{
			MemberRate:     0.05,
			VIPRate:        0.1,
			VIPThreshold:   1000,
			VIPFee:         200,
			BundleDiscount: 0.2,
		},
		LogLevel: "warn",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides file paths from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvCustomers); ok {
		c.Files.Customers = v
	}
	if v, ok := lookup(EnvProducts); ok {
		c.Files.Products = v
	}
	if v, ok := lookup(EnvOrders); ok {
		c.Files.Orders = v
	}
}

// ApplyArgs overrides file paths from positional arguments in the order
// customers, products, orders. Extra arguments are an error.
func (c *Config) ApplyArgs(args []string) error {
	targets := []*string{&c.Files.Customers, &c.Files.Products, &c.Files.Orders}
	if len(args) > len(targets) {
		return fmt.Errorf("expected at most %d file arguments, got %d", len(targets), len(args))
	}
	for i, a := range args {
		*targets[i] = a
	}
	return nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Records converts the settings into a store configuration.
func (c Config) Records() records.Config {
	cfg := records.NewConfig(c.Files.Customers, c.Files.Products, c.Files.Orders)
	cfg.Pricing = membership.Pricing{
		MemberRate:     decimal.NewFromFloat(c.Pricing.MemberRate),
		VIPThreshold:   decimal.NewFromFloat(c.Pricing.VIPThreshold),
		VIPFee:         decimal.NewFromFloat(c.Pricing.VIPFee),
		VIPDefaultRate: decimal.NewFromFloat(c.Pricing.VIPRate),
	}
	cfg.BundleDiscount = decimal.NewFromFloat(c.Pricing.BundleDiscount)
	return cfg
}

// Level returns the slog level named by LogLevel, defaulting to warn.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return l
}
