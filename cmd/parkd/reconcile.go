package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newReconcileCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Complete ended bookings, send due reminders and audit slot pools once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(os.Stdout, "parkd ", log.LstdFlags)

			a, err := newApp(*configPath, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			err = a.reconciler.RunOnce(ctx)
			a.workers.Drain(ctx)
			if err != nil {
				return err
			}
			logger.Println("reconcile finished")
			return nil
		},
	}
}
