package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/akemora/Granter-2.0-sub001/jobs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the Redis delivery queue and send notifications by e-mail and Telegram",
	RunE: func(cmd *cobra.Command, _ []string) error {
		workers, _ := cmd.Flags().GetInt("workers")

		if cfg.RedisURL == "" {
			return errors.New("worker needs REDIS_URL; without it run `serve`, which delivers in-process")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApplication(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		senders := a.senders()
		if len(senders) == 0 {
			logrus.Warn("No delivery channel configured; every notification will be marked failed")
		}

		worker := jobs.NewDeliveryWorker(a.queue, a.dispatcher, a.unified.Delivery, senders...)
		worker.Run(ctx, workers)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntP("workers", "w", 4, "Delivery worker goroutines")
}
