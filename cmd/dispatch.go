package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/akemora/Granter-2.0-sub001/jobs"
	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [grant-id...]",
	Short: "Notify matching profiles about grants",
	Long: `Dispatch notifications for the given grant ids, or for every open grant
with --open. Already notified (profile, grant, channel) triples are skipped.

With --publish the ids are published as "grant ingested" events instead,
and a running serve instance performs the dispatch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		open, _ := cmd.Flags().GetBool("open")
		publish, _ := cmd.Flags().GetBool("publish")

		if !open && len(args) == 0 {
			return errors.New("give at least one grant id or --open")
		}

		ids := make([]uuid.UUID, 0, len(args))
		for _, arg := range args {
			id, err := uuid.Parse(arg)
			if err != nil {
				return fmt.Errorf("invalid grant id %q: %w", arg, err)
			}
			ids = append(ids, id)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		a, err := newApplication(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if publish {
			if a.redis == nil {
				return errors.New("--publish needs REDIS_URL")
			}
			for _, id := range ids {
				event := models.GrantIngestedEvent{GrantID: id}
				if err := jobs.PublishGrantIngested(ctx, a.redis, a.unified.Delivery.IngestChannel, event); err != nil {
					return fmt.Errorf("publish %s: %w", id, err)
				}
			}
			fmt.Fprintf(os.Stdout, "published %d grant ingested events\n", len(ids))
			return nil
		}

		var grants []models.Grant
		if open {
			grants, err = a.grantService.GetOpenGrants(ctx)
			if err != nil {
				return err
			}
		}
		for _, id := range ids {
			grant, err := a.grantService.Get(ctx, id)
			if err != nil {
				return err
			}
			if grant == nil {
				return fmt.Errorf("grant %s not found", id)
			}
			grants = append(grants, *grant)
		}

		// without Redis the queue lives in this process and is drained here
		var drained chan struct{}
		produced := make(chan struct{})
		if a.redis == nil {
			drained = make(chan struct{})
			worker := jobs.NewDeliveryWorker(a.queue, a.dispatcher, a.unified.Delivery, a.senders()...)
			go func() {
				defer close(drained)
				worker.RunUntilDrained(ctx, produced)
			}()
		}

		summary, dispatchErr := a.dispatcher.ProcessNewGrants(ctx, grants)
		close(produced)
		if drained != nil {
			<-drained
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(summary); err != nil {
			return err
		}
		return dispatchErr
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	dispatchCmd.Flags().Bool("open", false, "Dispatch every open grant")
	dispatchCmd.Flags().Bool("publish", false, "Publish grant ingested events instead of dispatching here")
}
