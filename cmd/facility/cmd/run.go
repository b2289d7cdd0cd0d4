package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ehrsync/internal/app/facility"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Синхронизировать по расписанию",
	Long:  `Запускает прогон сразу и далее с интервалом sync.interval до SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := facility.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("ошибка инициализации: %w", err)
		}
		defer app.Close()

		log.Info("facility sync started", "central", cfg.Central.URL, "interval", cfg.Sync.Interval)
		return app.Run(ctx)
	},
}
