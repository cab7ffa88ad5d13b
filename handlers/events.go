package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack/slackevents"

	"slack-thank-you/services"
)

// HandleSlackEvents はEvents APIのリクエストを処理する
func (h *SlackHandler) HandleSlackEvents(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		log.Warn().Err(err).Msg("invalid slack event")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	// URL検証チャレンジへの応答
	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		c.String(http.StatusOK, challenge.Challenge)
		return
	}

	if event.Type != slackevents.CallbackEvent {
		c.Status(http.StatusOK)
		return
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppHomeOpenedEvent:
		if ev.Tab != "" && ev.Tab != "home" {
			break
		}
		ctx := c.Request.Context()
		company, err := h.company(ctx, event.TeamID, "")
		if err != nil {
			log.Error().Err(err).Str("team_id", event.TeamID).Msg("failed to get company")
			break
		}
		if err := h.publishHome(ctx, company, ev.User, services.HomeTabCompany); err != nil {
			log.Error().Err(err).Str("company_id", company.ID).Str("user", ev.User).Msg("failed to publish home")
		}
	default:
		log.Debug().Str("event_type", event.InnerEvent.Type).Msg("ignored slack event")
	}

	c.Status(http.StatusOK)
}
