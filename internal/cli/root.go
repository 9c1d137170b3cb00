package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/adapter/storage"
	"github.com/rl1809/order-engine/internal/config"
	"github.com/rl1809/order-engine/internal/logging"
)

// RootOptions holds global flags and the state every subcommand shares.
type RootOptions struct {
	ConfigPath string

	Config *config.Config
	Logger *zap.Logger
}

// NewRootCommand creates the order engine command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "order-engine",
		Short: "Cart to order transaction engine",
		Long: `Order engine keeps shopping carts, turns them into orders in a single
transaction against the inventory ledger, and drives orders through their
fulfilment lifecycle.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			opts.Config = cfg
			opts.Logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.Logger != nil {
				_ = opts.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewOrderCommand(opts))

	return cmd
}

func openStore(ctx context.Context, opts *RootOptions) (*storage.SQLStore, error) {
	db := opts.Config.Database
	store, err := storage.Open(ctx, storage.Options{
		Driver:          db.Driver,
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		TxRetries:       db.TxRetries,
		Logger:          opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", db.Driver, err)
	}
	opts.Logger.Info("connected to store", zap.String("driver", db.Driver))
	return store, nil
}
