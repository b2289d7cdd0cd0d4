package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ehrsync/internal/app/facility"
)

var syncStatus bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Выполнить один прогон синхронизации",
	Long: `Выполняет один прогон синхронизации с центральным сервером.

С флагом --status показывает курсоры синхронизации локальной базы.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		app, err := facility.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("ошибка инициализации: %w", err)
		}
		defer app.Close()

		if syncStatus {
			return showSyncStatus(ctx, app)
		}
		return runSync(ctx, app)
	},
}

func runSync(ctx context.Context, app *facility.App) error {
	res, err := app.SyncOnce(ctx, "manual")
	if err != nil {
		return fmt.Errorf("ошибка синхронизации: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(res)
	}
	if !res.Enabled {
		fmt.Println("Синхронизация отключена в настройках")
		return nil
	}
	fmt.Println("Синхронизация завершена")
	fmt.Printf("  Сессия: %s\n", res.SessionID)
	fmt.Printf("  Отправлено: %d\n", res.Pushed)
	fmt.Printf("  Получено: %d\n", res.Pulled)
	fmt.Printf("  Время: %v\n", res.Duration.Round(time.Millisecond))
	return nil
}

func showSyncStatus(ctx context.Context, app *facility.App) error {
	facts, err := app.Facts(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения курсоров: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(facts)
	}
	fmt.Println("=== Статус синхронизации ===")
	fmt.Printf("  Текущий тик: %s\n", facts.CurrentSyncTick)
	fmt.Printf("  Последняя отправка: %s\n", facts.LastSuccessfulSyncPush)
	fmt.Printf("  Последнее получение: %s\n", facts.LastSuccessfulSyncPull)
	fmt.Printf("  Включена: %v, только чтение: %v\n", cfg.Sync.Enabled, cfg.Sync.ReadOnly)
	fmt.Printf("  Центральный сервер: %s\n", cfg.Central.URL)
	return nil
}

func init() {
	syncCmd.Flags().BoolVar(&syncStatus, "status", false, "показать статус синхронизации")
}
