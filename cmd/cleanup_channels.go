package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"slack-thank-you/dao"
	"slack-thank-you/services"
)

var cleanupChannelsCmd = &cobra.Command{
	Use:   "cleanup-channels",
	Short: "Disable sharing channels that were archived or deleted in Slack",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireSlack(); err != nil {
			return err
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer dao.Close(db)

		n, err := services.CleanupArchivedChannels(cmd.Context(), dao.New(db), services.NewSlackTransport(cfg.SlackBotToken))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "disabled %d sharing channel(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupChannelsCmd)
}
