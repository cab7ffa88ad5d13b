package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"slack-thank-you/models"
	"slack-thank-you/services"
)

// richTextState は view_submission の rich_text_input の値
type richTextState struct {
	View struct {
		State struct {
			Values map[string]map[string]struct {
				RichTextValue json.RawMessage `json:"rich_text_value"`
			} `json:"values"`
		} `json:"state"`
	} `json:"view"`
}

// HandleSlackAction はボタン操作とダイアログの送信を処理する
func (h *SlackHandler) HandleSlackAction(c *gin.Context) {
	payloadStr := strings.TrimSpace(c.PostForm("payload"))

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(payloadStr), &callback); err != nil {
		log.Warn().Err(err).Msg("invalid interaction payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	teamID := callback.Team.ID
	if teamID == "" {
		teamID = callback.User.TeamID
	}
	company, err := h.company(ctx, teamID, callback.Team.Domain)
	if err != nil {
		log.Error().Err(err).Str("team_id", teamID).Msg("failed to get company")
		c.Status(http.StatusInternalServerError)
		return
	}

	log.Info().Str("type", string(callback.Type)).Str("company_id", company.ID).
		Str("user", callback.User.ID).Msg("slack interaction received")

	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		if len(callback.ActionCallback.BlockActions) == 0 {
			c.Status(http.StatusOK)
			return
		}
		action := callback.ActionCallback.BlockActions[0]
		if err := h.handleBlockAction(ctx, company, &callback, action); err != nil {
			log.Error().Err(err).Str("company_id", company.ID).Str("action_id", action.ActionID).Msg("failed to handle block action")
		}
		c.Status(http.StatusOK)

	case slack.InteractionTypeViewSubmission:
		switch callback.View.CallbackID {
		case services.CallbackThankYouDialog:
			h.submitThankYouDialog(c, company, &callback, payloadStr)
		case services.CallbackThanksBackDialog:
			h.submitThanksBackDialog(c, company, &callback)
		default:
			c.Status(http.StatusOK)
		}

	default:
		c.Status(http.StatusOK)
	}
}

func (h *SlackHandler) handleBlockAction(ctx context.Context, company *models.Company, callback *slack.InteractionCallback, action *slack.BlockAction) error {
	userID := callback.User.ID

	switch action.ActionID {
	case services.ActionHomeSayThankYou:
		return h.openThankYouDialog(ctx, company, userID, callback.TriggerID, "", nil)

	case services.ActionHomeCompanyThankYous:
		return h.publishHome(ctx, company, userID, services.HomeTabCompany)

	case services.ActionHomeMyThankYous:
		return h.publishHome(ctx, company, userID, services.HomeTabMine)

	case services.ActionHomeLeaders:
		return h.publishHome(ctx, company, userID, services.HomeTabLeaders)

	case services.ActionHomeHideWelcome:
		employee, err := h.repo.GetOrCreateEmployee(ctx, company.ID, userID)
		if err != nil {
			return err
		}
		employee.ClosedWelcomeMessage = true
		if err := h.repo.UpdateEmployee(ctx, employee); err != nil {
			return err
		}
		return h.publishHome(ctx, company, userID, services.HomeTabCompany)

	case services.ActionEditMessage:
		message, err := h.repo.ReadThankYouMessage(ctx, company.ID, action.Value)
		if err != nil {
			return err
		}
		if message == nil || message.AuthorSlackUserID != userID {
			return h.client.OpenView(ctx, callback.TriggerID, services.NoticeView(company.AppName(), "You can only edit your own thank you messages."))
		}
		return h.openThankYouDialog(ctx, company, userID, callback.TriggerID, message.SlashCommandSlackChannelID, message)

	case services.ActionDeleteMessage:
		message, err := h.repo.ReadThankYouMessage(ctx, company.ID, action.Value)
		if err != nil {
			return err
		}
		if message == nil {
			return nil
		}
		if message.AuthorSlackUserID != userID {
			log.Warn().Str("message_id", message.ID).Str("user", userID).Msg("user is not the author of the message")
			return nil
		}
		deleteErr := h.deliverer.Delete(ctx, company.ID, message.ID)
		if err := h.publishHome(ctx, company, userID, services.HomeTabMine); err != nil {
			return errors.Join(deleteErr, err)
		}
		return deleteErr

	case services.ActionSayThanksBack:
		message, err := h.repo.ReadThankYouMessage(ctx, company.ID, action.Value)
		if err != nil {
			return err
		}
		if message == nil || !message.HasReceiver(userID) {
			return h.client.OpenView(ctx, callback.TriggerID, services.NoticeView(company.AppName(), "Only receivers can say thanks back."))
		}
		return h.client.OpenView(ctx, callback.TriggerID, services.ThanksBackDialogView(message.ID, message.AuthorSlackUserID))
	}

	log.Debug().Str("action_id", action.ActionID).Msg("unknown action")
	return nil
}

func (h *SlackHandler) submitThankYouDialog(c *gin.Context, company *models.Company, callback *slack.InteractionCallback, payload string) {
	ctx := c.Request.Context()
	userID := callback.User.ID

	metadata, err := services.ParseDialogMetadata(callback.View.PrivateMetadata)
	if err != nil {
		log.Warn().Err(err).Msg("invalid dialog metadata")
		c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
			services.BlockThankYouText: "Something went wrong. Please open the dialog again.",
		}))
		return
	}

	values := map[string]map[string]slack.BlockAction{}
	if callback.View.State != nil {
		values = callback.View.State.Values
	}
	field := func(block, action string) slack.BlockAction {
		return values[block][action]
	}

	receivers := field(services.BlockThankYouReceivers, services.ActionThankYouReceiver).SelectedUsers
	if len(receivers) == 0 {
		c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
			services.BlockThankYouReceivers: "Please select at least one colleague.",
		}))
		return
	}
	if company.ReceiversNumberLimit > 0 && len(receivers) > company.ReceiversNumberLimit {
		c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
			services.BlockThankYouReceivers: fmt.Sprintf("You can select up to %d colleagues.", company.ReceiversNumberLimit),
		}))
		return
	}

	text, isRichText := dialogText(payload, field(services.BlockThankYouText, services.ActionThankYouText).Value)
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
			services.BlockThankYouText: "Please write a message.",
		}))
		return
	}

	var message *models.ThankYouMessage
	if metadata.ThankYouMessageID != "" {
		message, err = h.repo.ReadThankYouMessage(ctx, company.ID, metadata.ThankYouMessageID)
		if err != nil {
			log.Error().Err(err).Str("message_id", metadata.ThankYouMessageID).Msg("failed to read thank you message")
			c.Status(http.StatusInternalServerError)
			return
		}
		if message == nil || message.AuthorSlackUserID != userID {
			c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
				services.BlockThankYouText: "This thank you message cannot be edited.",
			}))
			return
		}
	} else {
		remaining, limited, err := services.RemainingThankYous(ctx, h.repo, company, userID, h.now())
		if err != nil {
			log.Error().Err(err).Str("company_id", company.ID).Msg("failed to count thank you messages")
			c.Status(http.StatusInternalServerError)
			return
		}
		if limited && remaining == 0 {
			c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
				services.BlockThankYouText: "You have reached the weekly limit of thank you messages.",
			}))
			return
		}

		message = models.NewThankYouMessage(company.ID, userID, "")
		message.SlashCommandSlackChannelID = metadata.SlackChannelID
		if company.EnablePrivateMessages {
			for _, option := range field(services.BlockThankYouPrivate, services.ActionThankYouPrivate).SelectedOptions {
				if option.Value == "private" {
					message.IsPrivate = true
				}
			}
		}
		if info, err := h.client.UserInfo(ctx, userID); err == nil {
			message.AuthorSlackUserName = info.Name
		}
	}

	message.Text = text
	message.IsRichText = isRichText
	message.SetReceivers(receivers...)
	message.SetType(nil)
	if typeID := field(services.BlockThankYouType, services.ActionThankYouType).SelectedOption.Value; typeID != "" && company.EnableCompanyValues {
		t, err := h.repo.ReadThankYouType(ctx, company.ID, typeID)
		if err != nil {
			log.Error().Err(err).Str("type_id", typeID).Msg("failed to read company value")
		}
		message.SetType(t)
	}

	result, err := h.deliverer.Save(ctx, company, message)
	if err != nil {
		log.Error().Err(err).Str("company_id", company.ID).Str("message_id", message.ID).Msg("failed to save thank you message")
		c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
			services.BlockThankYouText: "Could not save the thank you message. Please try again.",
		}))
		return
	}
	if errors.Is(result.DeliveryErr, services.ErrNotDelivered) {
		log.Warn().Str("message_id", message.ID).Msg("thank you message was saved but not delivered")
	}

	if err := h.publishHome(ctx, company, userID, services.HomeTabMine); err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("failed to publish home")
	}
	c.Status(http.StatusOK)
}

// dialogText はリッチテキストの値があればそれを、なければプレーンテキストを返す
func dialogText(payload, plain string) (string, bool) {
	var state richTextState
	if err := json.Unmarshal([]byte(payload), &state); err == nil {
		value := state.View.State.Values[services.BlockThankYouText][services.ActionThankYouText].RichTextValue
		if len(value) > 0 && string(value) != "null" {
			if _, err := services.RichTextToPlain(string(value)); err == nil {
				return string(value), true
			}
		}
	}
	return plain, false
}

func (h *SlackHandler) submitThanksBackDialog(c *gin.Context, company *models.Company, callback *slack.InteractionCallback) {
	ctx := c.Request.Context()

	metadata, err := services.ParseDialogMetadata(callback.View.PrivateMetadata)
	if err != nil || metadata.ThankYouMessageID == "" {
		c.Status(http.StatusOK)
		return
	}

	var text string
	if callback.View.State != nil {
		text = callback.View.State.Values[services.BlockThanksBackText][services.ActionThanksBackText].Value
	}
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
			services.BlockThanksBackText: "Please write a message.",
		}))
		return
	}

	message, err := h.repo.ReadThankYouMessage(ctx, company.ID, metadata.ThankYouMessageID)
	if err != nil || message == nil {
		log.Warn().Err(err).Str("message_id", metadata.ThankYouMessageID).Msg("thank you message not found")
		c.Status(http.StatusOK)
		return
	}

	if err := services.SendThanksBack(ctx, h.client, message, callback.User.ID, text); err != nil {
		if errors.Is(err, services.ErrNotReceiver) {
			c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
				services.BlockThanksBackText: "Only receivers can say thanks back.",
			}))
			return
		}
		log.Error().Err(err).Str("message_id", message.ID).Msg("failed to send thanks back")
	}
	c.Status(http.StatusOK)
}
