package main

import (
	"context"

	"fulfillment-service/app"

	"github.com/spf13/cobra"
)

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Inspect and re-dispatch payment gateway events",
	}

	replay := &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Fetch a gateway event and run the effects that have not completed",
		Long: "The webhook always answers 200, so a failed effect is not retried by the gateway.\n" +
			"replay reads the event back with STRIPE_SECRET_KEY and dispatches it again;\n" +
			"effects already recorded as done are skipped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				evt, err := a.Orchestrator.Replay(ctx, a.Events, args[0])
				if evt != nil {
					if perr := printJSON(map[string]interface{}{
						"event_id":   evt.ID,
						"type":       evt.GatewayType,
						"kind":       evt.Kind,
						"session_id": evt.SessionID,
						"replayed":   err == nil,
					}); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.AddCommand(replay)
	return cmd
}
