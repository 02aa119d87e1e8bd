package main

import (
	"context"
	"time"

	"fulfillment-service/app"

	"github.com/spf13/cobra"
)

func printCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Inspect and remediate print orders",
	}
	cmd.AddCommand(printStatusCmd(), printRetryCmd(), printSubmitCmd(), printShipCmd(), printStuckCmd())
	return cmd
}

func printStatusCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "status [print-order-id]",
		Short: "Show a print order, optionally refreshing the provider status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if refresh {
					report, err := a.Prints.RefreshStatus(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(report)
				}
				order, err := a.Prints.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(order)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch and store the provider's current status")
	return cmd
}

func printRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [print-order-id]",
		Short: "Resume a print order from its last completed step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				order, err := a.Prints.Retry(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(order)
			})
		},
	}
}

func printSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit [print-order-id]",
		Short: "Submit a created print order to production",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				order, err := a.Prints.SubmitToProduction(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(order)
			})
		},
	}
}

func printShipCmd() *cobra.Command {
	var tracking string
	cmd := &cobra.Command{
		Use:   "ship [print-order-id]",
		Short: "Mark a print order shipped and email the customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				order, err := a.Prints.MarkShipped(ctx, args[0], tracking)
				if err != nil {
					return err
				}
				return printJSON(order)
			})
		},
	}
	cmd.Flags().StringVar(&tracking, "tracking", "", "Carrier tracking number (optional)")
	return cmd
}

func printStuckCmd() *cobra.Command {
	var olderThan time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List print orders that have not reached production",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				orders, err := a.Prints.ListStuck(ctx, olderThan, limit)
				if err != nil {
					return err
				}
				return printJSON(orders)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 2*time.Hour, "Only orders not updated for this long")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum orders to list")
	return cmd
}
