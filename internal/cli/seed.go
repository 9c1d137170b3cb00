package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/port"
)

type SeedOptions struct {
	*RootOptions
	File string
}

type catalogFile struct {
	Items []catalogItem `yaml:"items"`
}

type catalogItem struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
	Stock int    `yaml:"stock"`
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert catalog items and their stock from a YAML file",
		Long: `Upsert catalog items and their stock from a YAML file.

Example file:
  items:
    - id: sku-widget
      name: Widget
      price: "9.99"
      stock: 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadCatalog(opts.File)
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := seedItems(cmd.Context(), store, items); err != nil {
				return err
			}
			opts.Logger.Info("catalog seeded", zap.Int("items", len(items)))
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d items\n", len(items))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "path to catalog YAML (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func loadCatalog(path string) ([]domain.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	items := make([]domain.Item, 0, len(file.Items))
	for i, ci := range file.Items {
		if ci.ID == "" {
			return nil, fmt.Errorf("item %d: id is required", i)
		}
		if ci.Stock < 0 {
			return nil, fmt.Errorf("item %s: %w: stock must not be negative", ci.ID, domain.ErrInvalidQuantity)
		}
		price, err := decimal.NewFromString(ci.Price)
		if err != nil {
			return nil, fmt.Errorf("item %s: invalid price %q: %w", ci.ID, ci.Price, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("item %s: price must not be negative", ci.ID)
		}
		items = append(items, domain.Item{ID: ci.ID, Name: ci.Name, Price: price, Stock: ci.Stock})
	}
	return items, nil
}

func seedItems(ctx context.Context, db port.DatabaseRepository, items []domain.Item) error {
	return db.WithinTx(ctx, func(uow port.UnitOfWork) error {
		for _, item := range items {
			if err := uow.Inventory().PutItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}
