package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"slack-thank-you/config"
	"slack-thank-you/dao"
	"slack-thank-you/models"
)

var (
	envFiles []string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "thank-you",
	Short:         "Slack app for sending thank you messages to colleagues",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadEnv(envFiles...)

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogger(cfg)

		if err := models.SetEncryptionSecret(cfg.EncryptionSecretKey); err != nil {
			return err
		}
		if cfg.EncryptionSecretKey == "" {
			log.Warn().Msg("THANK_YOU_ENCRYPTION_SECRET_KEY is not set, text columns are stored as plain text")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default .env)")
}

// Execute はルートコマンドを実行する
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsProd() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// openDatabase は接続してスキーマを最新にする
func openDatabase() (*gorm.DB, error) {
	db, err := dao.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := dao.AutoMigrate(db); err != nil {
		dao.Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}
