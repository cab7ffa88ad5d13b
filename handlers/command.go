package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"slack-thank-you/dao"
	"slack-thank-you/models"
)

// 管理者だけが実行できるサブコマンド
var adminSubCommands = map[string]bool{
	"add-admin":            true,
	"remove-admin":         true,
	"set-channel":          true,
	"disable-channel":      true,
	"set-weekly-limit":     true,
	"disable-weekly-limit": true,
	"set-receivers-limit":  true,
	"set-leaderboard-time": true,
	"enable":               true,
	"disable":              true,
	"add-value":            true,
	"remove-value":         true,
	"set-app-name":         true,
}

// enable/disable で切り替えられる機能
var features = map[string]func(c *models.Company, on bool){
	"leaderboard":            func(c *models.Company, on bool) { c.EnableLeaderboard = on },
	"weekly-limit":           func(c *models.Company, on bool) { c.EnableWeeklyThankYouLimit = on },
	"rich-text":              func(c *models.Company, on bool) { c.EnableRichTextInThankYouMessages = on },
	"attachments":            func(c *models.Company, on bool) { c.EnableAttachingFiles = on },
	"private-messages":       func(c *models.Company, on bool) { c.EnablePrivateMessages = on },
	"private-in-leaderboard": func(c *models.Company, on bool) { c.EnablePrivateMessageCountingInLeaderboard = on },
	"company-values":         func(c *models.Company, on bool) { c.EnableCompanyValues = on },
	"sharing-channel":        func(c *models.Company, on bool) { c.EnableSharingInSlackChannel = on },
}

// HandleSlackCommand はスラッシュコマンドを処理する
// 引数なしならお礼ダイアログを開き、それ以外は設定用のサブコマンドとして扱う
func (h *SlackHandler) HandleSlackCommand(c *gin.Context) {
	cmd, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse slash command")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid command"})
		return
	}

	log.Info().Str("command", cmd.Command).Str("text", cmd.Text).
		Str("channel", cmd.ChannelID).Str("user", cmd.UserID).Msg("slack command received")

	ctx := c.Request.Context()
	company, err := h.company(ctx, cmd.TeamID, cmd.TeamDomain)
	if err != nil {
		log.Error().Err(err).Str("team_id", cmd.TeamID).Msg("failed to get company")
		c.String(http.StatusOK, "Something went wrong. Please try again later.")
		return
	}

	parts := parseCommand(cmd.Text)
	if len(parts) == 0 {
		if err := h.openThankYouDialog(ctx, company, cmd.UserID, cmd.TriggerID, cmd.ChannelID, nil); err != nil {
			log.Error().Err(err).Str("company_id", company.ID).Str("user", cmd.UserID).Msg("failed to open thank you dialog")
			c.String(http.StatusOK, "Could not open the thank you dialog. Please try again.")
			return
		}
		c.Status(http.StatusOK)
		return
	}

	subCommand, params := parts[0], parts[1:]
	if adminSubCommands[subCommand] && !h.isAdmin(ctx, company, cmd.UserID) {
		c.String(http.StatusOK, "Only admins can change the settings.")
		return
	}

	reply, err := h.runSubCommand(ctx, company, cmd.Command, subCommand, params)
	if err != nil {
		log.Error().Err(err).Str("company_id", company.ID).Str("sub_command", subCommand).Msg("failed to run sub command")
		c.String(http.StatusOK, "Something went wrong. Please try again later.")
		return
	}
	c.String(http.StatusOK, reply)
}

func (h *SlackHandler) runSubCommand(ctx context.Context, company *models.Company, command, subCommand string, params []string) (string, error) {
	param := strings.TrimSpace(strings.Join(params, " "))

	switch subCommand {
	case "help":
		return helpText(command), nil

	case "show":
		return h.showConfig(ctx, company)

	case "add-admin", "remove-admin":
		userID := cleanUserID(param)
		if userID == "" {
			return fmt.Sprintf("Please specify a user. Example: %s %s @user", command, subCommand), nil
		}
		if subCommand == "add-admin" {
			if err := h.repo.CreateCompanyAdmin(ctx, company.ID, userID); err != nil {
				return "", err
			}
			return fmt.Sprintf("<@%s> is now an admin.", userID), nil
		}
		if err := h.repo.DeleteCompanyAdmin(ctx, company.ID, userID); err != nil {
			return "", err
		}
		return fmt.Sprintf("<@%s> is no longer an admin.", userID), nil

	case "set-channel":
		channelID := cleanChannelID(param)
		if channelID == "" {
			return fmt.Sprintf("Please specify a channel. Example: %s set-channel #general", command), nil
		}
		company.EnableSharingInSlackChannel = true
		company.ShareMessagesInSlackChannel = channelID
		if err := h.repo.UpdateCompany(ctx, company); err != nil {
			return "", err
		}
		return fmt.Sprintf("Thank you messages will be shared in <#%s>.", channelID), nil

	case "disable-channel":
		company.EnableSharingInSlackChannel = false
		if err := h.repo.UpdateCompany(ctx, company); err != nil {
			return "", err
		}
		return "Thank you messages will no longer be shared in a channel.", nil

	case "set-weekly-limit", "set-receivers-limit":
		n, err := strconv.Atoi(param)
		if err != nil || n < 1 {
			return fmt.Sprintf("Please specify a positive number. Example: %s %s 5", command, subCommand), nil
		}
		if subCommand == "set-weekly-limit" {
			company.EnableWeeklyThankYouLimit = true
			company.WeeklyThankYouLimit = n
		} else {
			company.ReceiversNumberLimit = n
		}
		if err := h.repo.UpdateCompany(ctx, company); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s is set to %d.", strings.TrimPrefix(subCommand, "set-"), n), nil

	case "disable-weekly-limit":
		company.EnableWeeklyThankYouLimit = false
		if err := h.repo.UpdateCompany(ctx, company); err != nil {
			return "", err
		}
		return "The weekly limit is disabled.", nil

	case "set-leaderboard-time":
		setting, err := models.ParseLeaderboardTimeSetting(param)
		if err != nil {
			return fmt.Sprintf("Unknown leaderboard time setting %q. Choose one of: %s", param, strings.Join(leaderboardTimeNames(), ", ")), nil
		}
		company.LeaderboardTimeSetting = setting
		if err := h.repo.UpdateCompany(ctx, company); err != nil {
			return "", err
		}
		return fmt.Sprintf("The leaderboard now shows %s.", setting), nil

	case "enable", "disable":
		toggle, ok := features[param]
		if !ok {
			return fmt.Sprintf("Unknown feature %q. Choose one of: %s", param, strings.Join(featureNames(), ", ")), nil
		}
		toggle(company, subCommand == "enable")
		if err := h.repo.UpdateCompany(ctx, company); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s is %sd.", param, subCommand), nil

	case "add-value":
		if param == "" {
			return fmt.Sprintf("Please specify a name. Example: %s add-value \"🤝 Teamwork\"", command), nil
		}
		existing, err := h.repo.ReadThankYouTypes(ctx, company.ID, dao.ThankYouTypeFilter{Name: param, Deleted: dao.Bool(false)})
		if err != nil {
			return "", err
		}
		if len(existing) > 0 {
			return fmt.Sprintf("%s already exists.", param), nil
		}
		if err := h.repo.CreateThankYouType(ctx, models.NewThankYouType(company.ID, param)); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s is added.", param), nil

	case "remove-value":
		existing, err := h.repo.ReadThankYouTypes(ctx, company.ID, dao.ThankYouTypeFilter{Name: param, Deleted: dao.Bool(false)})
		if err != nil {
			return "", err
		}
		if len(existing) == 0 {
			return fmt.Sprintf("%s is not found.", param), nil
		}
		for _, t := range existing {
			if err := h.repo.DeleteThankYouType(ctx, company.ID, t.ID); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("%s is removed.", param), nil

	case "set-app-name":
		if param == "" {
			return fmt.Sprintf("Please specify a name. Example: %s set-app-name Kudos", command), nil
		}
		company.MerciAppName = param
		if err := h.repo.UpdateCompany(ctx, company); err != nil {
			return "", err
		}
		return fmt.Sprintf("The app is now called %s.", param), nil
	}

	return fmt.Sprintf("Unknown command. See `%s help` for usage.", command), nil
}

// parseCommand はコマンドテキストをクォート対応で解析する
func parseCommand(text string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	for _, char := range text {
		switch {
		case (char == '"' || char == '\'') && !inQuote:
			inQuote = true
			quoteChar = char
		case inQuote && char == quoteChar:
			inQuote = false
			quoteChar = 0
		case (char == ' ' || char == '\t') && !inQuote:
			// スペースで分割（クォート内でない場合のみ）
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// cleanUserID は <@U123|name> や @U123 をユーザーIDにする
func cleanUserID(userID string) string {
	userID = strings.TrimSpace(userID)
	if strings.HasPrefix(userID, "<@") && strings.HasSuffix(userID, ">") {
		userID = strings.TrimSuffix(strings.TrimPrefix(userID, "<@"), ">")
		userID, _, _ = strings.Cut(userID, "|")
		return userID
	}
	return strings.TrimPrefix(userID, "@")
}

// cleanChannelID は <#C123|name> をチャンネルIDにする
func cleanChannelID(channelID string) string {
	channelID = strings.TrimSpace(channelID)
	if strings.HasPrefix(channelID, "<#") && strings.HasSuffix(channelID, ">") {
		channelID = strings.TrimSuffix(strings.TrimPrefix(channelID, "<#"), ">")
		channelID, _, _ = strings.Cut(channelID, "|")
		return channelID
	}
	return strings.TrimPrefix(channelID, "#")
}

func featureNames() []string {
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func leaderboardTimeNames() []string {
	settings := []models.LeaderboardTimeSetting{
		models.LeaderboardLast30Days, models.LeaderboardLastFullMonth, models.LeaderboardLast7Days,
		models.LeaderboardLastFullWeek, models.LeaderboardCurrentFullMonth, models.LeaderboardCurrentFullWeek,
	}
	names := make([]string, 0, len(settings))
	for _, s := range settings {
		names = append(names, s.String())
	}
	return names
}

func (h *SlackHandler) showConfig(ctx context.Context, company *models.Company) (string, error) {
	admins, err := h.repo.ReadCompanyAdmins(ctx, company.ID)
	if err != nil {
		return "", err
	}
	types, err := h.repo.ReadThankYouTypes(ctx, company.ID, dao.ThankYouTypeFilter{Deleted: dao.Bool(false)})
	if err != nil {
		return "", err
	}

	adminList := "none"
	if len(admins) > 0 {
		mentions := make([]string, 0, len(admins))
		for _, a := range admins {
			mentions = append(mentions, fmt.Sprintf("<@%s>", a.SlackUserID))
		}
		adminList = strings.Join(mentions, ", ")
	}
	valueList := "none"
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, t.Name)
		}
		valueList = strings.Join(names, ", ")
	}
	channel := "disabled"
	if id, ok := company.SharingChannel(); ok {
		channel = fmt.Sprintf("<#%s>", id)
	}
	weeklyLimit := "disabled"
	if company.EnableWeeklyThankYouLimit {
		weeklyLimit = strconv.Itoa(company.WeeklyThankYouLimit)
	}

	return fmt.Sprintf(`*%s settings*
• Admins: %s
• Sharing channel: %s
• Weekly limit: %s
• Receivers limit: %d
• Leaderboard: %s (%s)
• Company values: %s (%s)
• Rich text: %s
• Private messages: %s (counted in leaderboard: %s)`,
		company.AppName(), adminList, channel, weeklyLimit, company.ReceiversNumberLimit,
		onOff(company.EnableLeaderboard), company.LeaderboardTimeSetting,
		onOff(company.EnableCompanyValues), valueList,
		onOff(company.EnableRichTextInThankYouMessages),
		onOff(company.EnablePrivateMessages), onOff(company.EnablePrivateMessageCountingInLeaderboard)), nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func helpText(command string) string {
	if command == "" {
		command = "/merci"
	}
	return fmt.Sprintf(`*Usage*
• %[1]s - say thank you to your colleagues
• %[1]s show - show the current settings
• %[1]s help - show this help

*Admin commands*
• %[1]s add-admin @user / remove-admin @user
• %[1]s set-channel #channel / disable-channel
• %[1]s set-weekly-limit 5 / disable-weekly-limit
• %[1]s set-receivers-limit 10
• %[1]s set-leaderboard-time last-30-days
• %[1]s enable <feature> / disable <feature> (%[2]s)
• %[1]s add-value "🤝 Teamwork" / remove-value "🤝 Teamwork"
• %[1]s set-app-name Kudos`, command, strings.Join(featureNames(), ", "))
}
