package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"slack-thank-you/dao"
	"slack-thank-you/services"
)

var leaderboardTeamID string

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print the current leaderboard of a Slack team",
	RunE: func(cmd *cobra.Command, args []string) error {
		if leaderboardTeamID == "" {
			return fmt.Errorf("--team is required")
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer dao.Close(db)

		repo := dao.New(db)
		company, err := repo.ReadCompanyByTeamID(cmd.Context(), leaderboardTeamID)
		if err != nil {
			return err
		}
		if company == nil {
			return fmt.Errorf("company for team %s not found", leaderboardTeamID)
		}

		board, err := services.SenderAndReceiverLeaders(cmd.Context(), repo, company, time.Now().UTC())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s leaderboard (%s, %s - %s)\n", company.AppName(), company.LeaderboardTimeSetting,
			board.Window.From.Format(time.DateOnly), board.Window.LastInstant().Format(time.DateOnly))
		for i, senders := range board.Senders {
			if senders.Type != nil {
				fmt.Fprintf(out, "\n[%s]\n", senders.Type.Name)
			}
			fmt.Fprintln(out, "top senders:")
			for _, l := range senders.Leaders {
				fmt.Fprintf(out, "  %s\t%d\n", l.SlackUserID, l.Count)
			}
			fmt.Fprintln(out, "top receivers:")
			if i < len(board.Receivers) {
				for _, l := range board.Receivers[i].Leaders {
					fmt.Fprintf(out, "  %s\t%d\n", l.SlackUserID, l.Count)
				}
			}
		}
		return nil
	},
}

func init() {
	leaderboardCmd.Flags().StringVar(&leaderboardTeamID, "team", "", "Slack team ID")
	rootCmd.AddCommand(leaderboardCmd)
}
