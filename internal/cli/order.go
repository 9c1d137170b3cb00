package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/core/service"
)

// NewOrderCommand groups back-office order operations.
func NewOrderCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and transition orders",
	}
	cmd.AddCommand(newOrderShowCommand(opts))
	cmd.AddCommand(newOrderTransitionCommand(opts))
	return cmd
}

func newOrderShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Print an order and its lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer store.Close()

			orders := service.NewOrderService(store, service.NewInventoryLedger(store, nil, 1, opts.Logger), nil, opts.Logger)
			order, err := orders.GetOrder(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), order)
			return nil
		},
	}
}

func newOrderTransitionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transition <order-id> <status>",
		Short: "Move an order to a new status",
		Long: `Move an order to a new status. Allowed moves:
  pending    -> processing | cancelled
  processing -> shipped | cancelled
  shipped    -> delivered

Cancelling returns every line's quantity to stock.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := domain.ParseOrderStatus(args[1])
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer store.Close()

			orders := service.NewOrderService(store, service.NewInventoryLedger(store, nil, 1, opts.Logger), nil, opts.Logger)
			order, err := orders.Transition(cmd.Context(), args[0], to)
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), order)
			return nil
		},
	}
}

func printOrder(w io.Writer, o *domain.Order) {
	fmt.Fprintf(w, "order    %s\n", o.ID)
	fmt.Fprintf(w, "owner    %s\n", o.Owner)
	fmt.Fprintf(w, "status   %s\n", o.Status)
	fmt.Fprintf(w, "total    %s\n", o.TotalAmount.StringFixed(2))
	fmt.Fprintf(w, "ship to  %s\n", o.ShippingAddress)
	for _, l := range o.Lines {
		fmt.Fprintf(w, "  %-24s x%-4d @ %s = %s\n", l.ItemID, l.Quantity, l.UnitPrice.StringFixed(2), l.Subtotal().StringFixed(2))
	}
}
