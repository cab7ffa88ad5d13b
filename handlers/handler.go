package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"slack-thank-you/dao"
	"slack-thank-you/models"
	"slack-thank-you/services"
)

// SlackHandler はSlackからのリクエストを処理する
type SlackHandler struct {
	repo          *dao.Dao
	client        services.SlackClient
	deliverer     *services.Deliverer
	signingSecret string
	now           func() time.Time
}

func NewSlackHandler(repo *dao.Dao, client services.SlackClient, deliverer *services.Deliverer, signingSecret string) *SlackHandler {
	return &SlackHandler{
		repo:          repo,
		client:        client,
		deliverer:     deliverer,
		signingSecret: signingSecret,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// NewRouter はルーティングを登録したginエンジンを作成する
func NewRouter(h *SlackHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	slackGroup := r.Group("/slack", h.VerifySlackRequest())
	slackGroup.POST("/commands", h.HandleSlackCommand)
	slackGroup.POST("/interactions", h.HandleSlackAction)
	slackGroup.POST("/events", h.HandleSlackEvents)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}

// VerifySlackRequest は署名を検証する（シークレット未設定なら検証しない）
func (h *SlackHandler) VerifySlackRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			log.Error().Err(err).Msg("failed to read request body")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		// ボディを復元
		c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

		if h.signingSecret == "" {
			c.Next()
			return
		}

		verifier, err := slack.NewSecretsVerifier(c.Request.Header, h.signingSecret)
		if err == nil {
			_, err = verifier.Write(body)
		}
		if err == nil {
			err = verifier.Ensure()
		}
		if err != nil {
			log.Warn().Err(err).Msg("invalid slack signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid slack signature"})
			return
		}
		c.Next()
	}
}

func (h *SlackHandler) company(ctx context.Context, teamID, teamName string) (*models.Company, error) {
	company, _, err := h.repo.GetOrCreateCompany(ctx, teamID, teamName)
	return company, err
}

// isAdmin は会社の管理者、またはワークスペースの管理者・オーナーかを返す
func (h *SlackHandler) isAdmin(ctx context.Context, company *models.Company, slackUserID string) bool {
	ok, err := h.repo.IsCompanyAdmin(ctx, company.ID, slackUserID)
	if err != nil {
		log.Error().Err(err).Str("company_id", company.ID).Msg("failed to read company admins")
	}
	if ok {
		return true
	}

	info, err := h.client.UserInfo(ctx, slackUserID)
	if err != nil {
		log.Warn().Err(err).Str("user", slackUserID).Msg("failed to read slack user info")
		return false
	}
	return info.IsAdmin || info.IsOwner
}

// openThankYouDialog は作成・編集ダイアログを開く（新規で週の上限に達していればお知らせを出す）
func (h *SlackHandler) openThankYouDialog(ctx context.Context, company *models.Company, slackUserID, triggerID, channelID string, state *models.ThankYouMessage) error {
	if state == nil {
		remaining, limited, err := services.RemainingThankYous(ctx, h.repo, company, slackUserID, h.now())
		if err != nil {
			return err
		}
		if limited && remaining == 0 {
			return h.client.OpenView(ctx, triggerID, services.NoticeView(company.AppName(),
				"You have reached the weekly limit of thank you messages. Please try again next week!"))
		}
	}

	types, err := h.repo.ReadThankYouTypes(ctx, company.ID, dao.ThankYouTypeFilter{Deleted: dao.Bool(false)})
	if err != nil {
		return err
	}

	return h.client.OpenView(ctx, triggerID, services.ThankYouDialogView(services.ThankYouDialog{
		AppName:             company.AppName(),
		Types:               types,
		State:               state,
		SlackChannelID:      channelID,
		EnableCompanyValues: company.EnableCompanyValues,
		EnableRichText:      company.EnableRichTextInThankYouMessages,
		EnablePrivate:       company.EnablePrivateMessages,
		MaxReceivers:        company.ReceiversNumberLimit,
	}))
}

// publishHome はホームタブを更新する
func (h *SlackHandler) publishHome(ctx context.Context, company *models.Company, slackUserID, selected string) error {
	if selected == "" {
		selected = services.HomeTabCompany
	}
	if selected == services.HomeTabLeaders && !company.EnableLeaderboard {
		selected = services.HomeTabCompany
	}

	employee, err := h.repo.GetOrCreateEmployee(ctx, company.ID, slackUserID)
	if err != nil {
		return err
	}

	view := services.HomeView{
		AppName:           company.AppName(),
		Selected:          selected,
		CurrentUserID:     slackUserID,
		ShowWelcome:       !employee.ClosedWelcomeMessage,
		EnableLeaderboard: company.EnableLeaderboard,
	}

	now := h.now()
	if selected == services.HomeTabLeaders {
		board, err := services.SenderAndReceiverLeaders(ctx, h.repo, company, now)
		if err != nil {
			return err
		}
		view.Leaders = board
	} else {
		feed, err := services.HomeFeed(ctx, h.repo, company, slackUserID, selected == services.HomeTabMine, services.DefaultFeedSize)
		if err != nil {
			return err
		}
		view.Messages = feed.Messages
		view.HiddenCount = feed.Hidden
	}

	remaining, limited, err := services.RemainingThankYous(ctx, h.repo, company, slackUserID, now)
	if err != nil {
		return err
	}
	if limited {
		view.Remaining = &remaining
	}

	return h.client.PublishHome(ctx, slackUserID, services.HomeTabView(view))
}
