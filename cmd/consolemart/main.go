// cmd/consolemart/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"consolemart/internal/config"
	"consolemart/internal/records"
	"consolemart/internal/telemetry"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

// app carries what every command needs once the store is open.
type app struct {
	configPath string
	logLevel   string
	traceFile  string
	files      config.Files

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg      config.Config
	logger   *slog.Logger
	store    *records.Records
	shutdown func(context.Context) error
	trace    io.Closer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	root, a := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(context.Background()); cerr != nil {
		fmt.Fprintln(os.Stderr, "Error:", cerr)
	}
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "consolemart [customers-file [products-file [orders-file]]]",
		Short: "Console-Mart customer, catalog and order records",
		Long: `consolemart keeps customer, product and order records in flat files.

Without a subcommand it opens the interactive menu when attached to a
terminal. File paths come from the config file, then the CONSOLEMART_*
environment variables, then the flags, then the positional arguments.`,
		Version:      version,
		Args:         cobra.MaximumNArgs(3),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Root() != cmd {
				args = nil
			}
			return a.open(cmd, args)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !interactive(a.in) {
				return cmd.Help()
			}
			return runMenu(cmd.Context(), a)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.files.Customers, "customers", "", "customers file")
	pf.StringVar(&a.files.Products, "products", "", "products and bundles file")
	pf.StringVar(&a.files.Orders, "orders", "", "order log (empty string disables logging)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.traceFile, "trace-file", "", "write spans and metrics as JSON to this file")

	root.AddCommand(
		newCustomersCmd(a),
		newProductsCmd(a),
		newOrdersCmd(a),
		newOrderCmd(a),
		newVIPRateCmd(a),
		newVIPThresholdCmd(a),
		newMemberRateCmd(a),
		newAddCustomerCmd(a),
		newAddProductCmd(a),
		newAddBundleCmd(a),
		newRestockCmd(a),
	)
	return root, a
}

// open resolves the configuration, sets up logging and telemetry and loads
// the store.
func (a *app) open(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)

	flags := cmd.Flags()
	if flags.Changed("customers") {
		cfg.Files.Customers = a.files.Customers
	}
	if flags.Changed("products") {
		cfg.Files.Products = a.files.Products
	}
	if flags.Changed("orders") {
		cfg.Files.Orders = a.files.Orders
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("trace-file") {
		cfg.TraceFile = a.traceFile
	}
	if err := cfg.ApplyArgs(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(a.logger)

	ctx := cmd.Context()
	if cfg.TraceFile != "" {
		f, err := os.Create(cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    "consolemart",
			ServiceVersion: version,
			Writer:         f,
		})
		if err != nil {
			_ = f.Close()
			return err
		}
		a.shutdown, a.trace = shutdown, f
	}

	store, err := records.New(ctx, cfg.Records(), records.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("error retrieving data from customers/products: %w", err)
	}
	a.store = store
	a.logger.Debug("store opened",
		"customers", cfg.Files.Customers,
		"products", cfg.Files.Products,
		"orders", cfg.Files.Orders,
	)
	return nil
}

// close flushes telemetry. It is safe to call more than once.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
		a.shutdown = nil
	}
	if a.trace != nil {
		errs = append(errs, a.trace.Close())
		a.trace = nil
	}
	return errors.Join(errs...)
}

func interactive(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
