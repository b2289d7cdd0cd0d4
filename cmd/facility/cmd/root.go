package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"ehrsync/internal/config"
	"ehrsync/internal/utils/logger"
)

var (
	cfgFile    string
	envFile    string
	centralURL string
	jsonOutput bool

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "facility",
	Short: "Сервер учреждения: синхронизация с центральным сервером",
	Long: `Синхронизирует локальную базу учреждения с центральным сервером.

Изменения с последнего успешного прогона отправляются на центральный сервер,
затем полученные изменения применяются одной транзакцией.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(envFile, cfgFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	if centralURL != "" {
		cfg.Central.URL = centralURL
	}

	log = logger.New(cfg.Env,
		logger.WithLevel(cfg.Logger.Level),
		logger.WithFile(cfg.Logger.File, cfg.Logger.MaxSizeMB, cfg.Logger.MaxBackups),
	)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CONFIG_FILE"), "конфигурационный файл")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", os.Getenv("ENV_PATH"), "файл с переменными окружения")
	rootCmd.PersistentFlags().StringVar(&centralURL, "central", "", "URL центрального сервера")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")

	rootCmd.AddCommand(runCmd, syncCmd)
}
