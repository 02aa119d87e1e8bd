package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/app"
	"fulfillment-service/models"
	"fulfillment-service/services"

	"github.com/spf13/cobra"
)

func schedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run drip sequences",
	}

	run := &cobra.Command{
		Use:   "run [sequence]",
		Short: "Send due drip steps; without a sequence every sequence runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					report, err := a.Scheduler.Run(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON([]services.RunReport{report})
				}
				reports, err := a.Scheduler.RunAll(ctx)
				if perr := printJSON(reports); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.AddCommand(run)
	return cmd
}

func recipientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipient",
		Short: "Manage drip recipients",
	}

	var sequence string
	convert := &cobra.Command{
		Use:   "convert [email]",
		Short: "Stop drip emails to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Scheduler.MarkConverted(ctx, args[0], sequence)
				if err != nil {
					return err
				}
				fmt.Printf("converted %d enrollment(s)\n", n)
				return nil
			})
		},
	}
	convert.Flags().StringVar(&sequence, "sequence", "", "Only this sequence (default: all)")

	cmd.AddCommand(convert)
	return cmd
}

func leadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lead",
		Short: "Lead capture",
	}

	var artifactID, source string
	capture := &cobra.Command{
		Use:   "capture [email]",
		Short: "Queue a lead-captured message as the web front-end would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				body, err := json.Marshal(models.LeadCapturedMessage{
					Email:      strings.TrimSpace(args[0]),
					ArtifactID: artifactID,
					Source:     source,
					CapturedAt: time.Now().UTC(),
				})
				if err != nil {
					return err
				}
				if a.LeadQueue == nil {
					// no queue configured: enroll in-process
					return a.Leads.Handle(ctx, string(body))
				}
				return a.LeadQueue.SendMessage(ctx, string(body))
			})
		},
	}
	capture.Flags().StringVar(&artifactID, "artifact", "", "Artifact the lead previewed")
	capture.Flags().StringVar(&source, "source", "fulfillmentctl", "Capture source")

	cmd.AddCommand(capture)
	return cmd
}
