// cmd/chaos/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"consolemart/internal/chaos"
	"consolemart/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, workDir string
	var keep bool

	cmd := &cobra.Command{
		Use:   "chaos [customers-file [products-file [orders-file]]]",
		Short: "Run storage fault-injection experiments against copies of the data files",
		Long: `chaos copies the data files into a scratch directory and runs a game day
of storage experiments against the copies: failed scratch writes, failed
renames, failed order log appends and failed appends of new customers.
The original files are only read.`,
		Args:         cobra.MaximumNArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.ApplyEnv(os.LookupEnv)
			if err := cfg.ApplyArgs(args); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))

			dir := workDir
			if dir == "" {
				if dir, err = os.MkdirTemp("", "consolemart-chaos-*"); err != nil {
					return fmt.Errorf("failed to create scratch directory: %w", err)
				}
				if !keep {
					defer os.RemoveAll(dir)
				}
			}
			return runGameDay(cmd.Context(), cfg, dir, logger, cmd)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&workDir, "dir", "", "scratch directory (default: a new temporary directory)")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the temporary scratch directory")
	return cmd
}

func runGameDay(ctx context.Context, cfg config.Config, dir string, logger *slog.Logger, cmd *cobra.Command) error {
	sandbox := chaos.NewSandbox(dir, cfg.Records(), logger)
	engine := chaos.NewEngine()
	engine.RegisterExperiments(sandbox)

	gameDay := chaos.GameDay{
		Name:      "Storage game day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	}
	logger.Info("running game day", "dir", dir, "experiments", len(gameDay.Scenarios))
	return engine.ExecuteGameDay(ctx, gameDay, cmd.OutOrStdout())
}
