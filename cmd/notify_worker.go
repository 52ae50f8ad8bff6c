/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/comunidade-maf/apiserver/internal/metrics"
	"github.com/comunidade-maf/apiserver/internal/notify"
	"github.com/comunidade-maf/apiserver/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// notifyWorkerCmd consumes queued access notifications and sends the emails.
var notifyWorkerCmd = &cobra.Command{
	Use:   "notify-worker",
	Short: "Deliver queued access notification emails",
	Long: `Consumes the access-notifications channel from the configured broker
(MQ_BACKEND=rabbitmq or pubsub) and sends approval and rejection emails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		if cfg.MQ.Backend == "" || cfg.MQ.Backend == "memory" {
			return fmt.Errorf("notify-worker needs an external broker, MQ_BACKEND is %q", cfg.MQ.Backend)
		}

		broker, err := server.OpenBroker(cmd.Context(), cfg.MQ)
		if err != nil {
			return err
		}
		defer func() { _ = broker.Close() }()

		mailer, err := notify.NewMailer(cfg.Mail, log)
		if err != nil {
			return err
		}
		m, err := metrics.New(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}

		worker := notify.NewWorker(broker, notify.NewDirectNotifier(mailer, cfg.AppURL), m, log.Named("notify"))
		if err := worker.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
			log.Error("notification worker stopped", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyWorkerCmd)
}
