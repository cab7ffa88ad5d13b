package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"slack-thank-you/dao"
	"slack-thank-you/models"
)

// DefaultChannelCleanupInterval は共有チャンネルを確認する間隔
const DefaultChannelCleanupInterval = time.Hour

// ChannelInspector はチャンネルの状態を確認する
type ChannelInspector interface {
	IsChannelArchived(ctx context.Context, channelID string) (bool, error)
}

// CompanyRepository は共有チャンネルの整理に必要な操作
type CompanyRepository interface {
	ReadCompanies(ctx context.Context, filter dao.CompanyFilter) ([]models.Company, error)
	UpdateCompany(ctx context.Context, company *models.Company) error
}

// IsChannelArchived はチャンネルがアーカイブされているかどうかを確認する
func (s *SlackTransport) IsChannelArchived(ctx context.Context, channelID string) (bool, error) {
	channel, err := s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return false, wrapSlackError("conversations.info", err)
	}
	return channel.IsArchived, nil
}

// CleanupArchivedChannels はアーカイブ済み・削除済みの共有チャンネルを無効にする
// 無効にした会社の数を返す
func CleanupArchivedChannels(ctx context.Context, repo CompanyRepository, inspector ChannelInspector) (int, error) {
	companies, err := repo.ReadCompanies(ctx, dao.CompanyFilter{Deleted: dao.Bool(false)})
	if err != nil {
		return 0, err
	}

	disabled := 0
	for i := range companies {
		company := &companies[i]
		channelID, ok := company.SharingChannel()
		if !ok {
			continue
		}

		archived, err := inspector.IsChannelArchived(ctx, channelID)
		if err != nil && !IsSlackError(err, CodeChannelNotFound) {
			log.Warn().Err(err).Str("company_id", company.ID).Str("channel", channelID).Msg("channel status check error")
			continue
		}
		if err == nil && !archived {
			continue
		}

		log.Info().Str("company_id", company.ID).Str("channel", channelID).Msg("sharing channel is archived")
		company.EnableSharingInSlackChannel = false
		if err := repo.UpdateCompany(ctx, company); err != nil {
			log.Error().Err(err).Str("company_id", company.ID).Msg("company update error")
			continue
		}
		disabled++
	}
	return disabled, nil
}

// RunChannelCleanup は ctx が終わるまで定期的に CleanupArchivedChannels を実行する
func RunChannelCleanup(ctx context.Context, repo CompanyRepository, inspector ChannelInspector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := CleanupArchivedChannels(ctx, repo, inspector); err != nil {
			log.Error().Err(err).Msg("failed to clean up archived channels")
		} else if n > 0 {
			log.Info().Int("companies", n).Msg("disabled archived sharing channels")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
