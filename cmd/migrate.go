package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"slack-thank-you/dao"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer dao.Close(db)

		log.Info().Str("dao", string(cfg.Dao)).Msg("database schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
