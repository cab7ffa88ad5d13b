package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"slack-thank-you/dao"
	"slack-thank-you/models"
)

// DefaultFeedSize はホームタブに表示するメッセージ数
const DefaultFeedSize = 20

// ErrNotReceiver は受信者以外がお礼を返そうとした場合のエラー
var ErrNotReceiver = errors.New("user is not a receiver of the thank you message")

// StatsRepository はホームタブ・集計に必要な読み取り操作
type StatsRepository interface {
	ReadThankYouMessages(ctx context.Context, companyID string, opts ...dao.MessageQueryOption) ([]models.ThankYouMessage, error)
	CountThankYouMessages(ctx context.Context, companyID string, opts ...dao.MessageQueryOption) (int64, error)
	ReadSenderLeaders(ctx context.Context, companyID string, q dao.LeadersQuery) ([]dao.Leader, error)
	ReadReceiverLeaders(ctx context.Context, companyID string, q dao.LeadersQuery) ([]dao.Leader, error)
	ReadLeadersByType(ctx context.Context, companyID string, q dao.LeadersQuery, receivers bool) ([]dao.TypeLeaders, error)
}

// RemainingThankYous は今週あと何通送れるかを返す
// 上限が無効な会社では limited が false になる
func RemainingThankYous(ctx context.Context, repo StatsRepository, company *models.Company, slackUserID string, now time.Time) (remaining int, limited bool, err error) {
	if !company.EnableWeeklyThankYouLimit {
		return 0, false, nil
	}

	weekStart := models.StartOfWeek(now)
	sent, err := repo.CountThankYouMessages(ctx, company.ID,
		dao.WithAuthor(slackUserID),
		dao.WithPrivate(nil),
		dao.CreatedWithin(models.TimeWindow{From: weekStart, Until: weekStart.Add(7 * 24 * time.Hour)}),
	)
	if err != nil {
		return 0, true, err
	}

	remaining = company.WeeklyThankYouLimit - int(sent)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true, nil
}

// Feed はホームタブのメッセージ一覧
type Feed struct {
	Messages []models.ThankYouMessage
	Total    int64
	// 件数制限で表示されなかった件数
	Hidden int64
}

// HomeFeed は会社全体（mine なら自分が送受信した）の最新メッセージを返す
func HomeFeed(ctx context.Context, repo StatsRepository, company *models.Company, slackUserID string, mine bool, lastN int) (*Feed, error) {
	if lastN <= 0 {
		lastN = DefaultFeedSize
	}

	if !mine {
		opts := []dao.MessageQueryOption{dao.WithPrivate(dao.Bool(false))}
		messages, err := repo.ReadThankYouMessages(ctx, company.ID, append(opts, dao.LastN(lastN))...)
		if err != nil {
			return nil, err
		}
		total, err := repo.CountThankYouMessages(ctx, company.ID, opts...)
		if err != nil {
			return nil, err
		}
		return newFeed(messages, total), nil
	}

	// 自分のメッセージは非公開も含める
	sent, err := repo.ReadThankYouMessages(ctx, company.ID, dao.WithAuthor(slackUserID), dao.WithPrivate(nil), dao.LastN(lastN))
	if err != nil {
		return nil, err
	}
	received, err := repo.ReadThankYouMessages(ctx, company.ID, dao.WithReceiver(slackUserID), dao.WithPrivate(nil), dao.LastN(lastN))
	if err != nil {
		return nil, err
	}
	sentCount, err := repo.CountThankYouMessages(ctx, company.ID, dao.WithAuthor(slackUserID), dao.WithPrivate(nil))
	if err != nil {
		return nil, err
	}
	receivedCount, err := repo.CountThankYouMessages(ctx, company.ID, dao.WithReceiver(slackUserID), dao.WithPrivate(nil))
	if err != nil {
		return nil, err
	}

	// 自分宛てに自分が送ったメッセージは両方に数えられている
	selfCount, err := repo.CountThankYouMessages(ctx, company.ID, dao.WithAuthor(slackUserID), dao.WithReceiver(slackUserID), dao.WithPrivate(nil))
	if err != nil {
		return nil, err
	}

	messages := mergeNewestFirst(sent, received, lastN)
	return newFeed(messages, sentCount+receivedCount-selfCount), nil
}

func newFeed(messages []models.ThankYouMessage, total int64) *Feed {
	hidden := total - int64(len(messages))
	if hidden < 0 {
		hidden = 0
	}
	return &Feed{Messages: messages, Total: total, Hidden: hidden}
}

func mergeNewestFirst(a, b []models.ThankYouMessage, limit int) []models.ThankYouMessage {
	seen := make(map[string]bool, len(a)+len(b))
	result := make([]models.ThankYouMessage, 0, limit)
	i, j := 0, 0
	for len(result) < limit && (i < len(a) || j < len(b)) {
		var next models.ThankYouMessage
		switch {
		case j >= len(b):
			next, i = a[i], i+1
		case i >= len(a):
			next, j = b[j], j+1
		case newer(a[i], b[j]):
			next, i = a[i], i+1
		default:
			next, j = b[j], j+1
		}
		if seen[next.ID] {
			continue
		}
		seen[next.ID] = true
		result = append(result, next)
	}
	return result
}

func newer(a, b models.ThankYouMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// SenderAndReceiverLeaders は会社の集計期間設定でリーダーボードを作成する
// 会社バリューが有効なら有効な会社バリューごとに集計する
func SenderAndReceiverLeaders(ctx context.Context, repo StatsRepository, company *models.Company, now time.Time) (*LeaderBoard, error) {
	window, err := company.LeaderboardTimeSetting.Window(now)
	if err != nil {
		return nil, err
	}

	q := dao.LeadersQuery{
		Window:         window,
		IncludePrivate: company.EnablePrivateMessageCountingInLeaderboard,
	}
	board := &LeaderBoard{Window: window}

	if !company.EnableCompanyValues {
		senders, err := repo.ReadSenderLeaders(ctx, company.ID, q)
		if err != nil {
			return nil, err
		}
		receivers, err := repo.ReadReceiverLeaders(ctx, company.ID, q)
		if err != nil {
			return nil, err
		}
		board.Senders = []LeaderGroup{{Leaders: senders}}
		board.Receivers = []LeaderGroup{{Leaders: receivers}}
		return board, nil
	}

	senders, err := repo.ReadLeadersByType(ctx, company.ID, q, false)
	if err != nil {
		return nil, err
	}
	receivers, err := repo.ReadLeadersByType(ctx, company.ID, q, true)
	if err != nil {
		return nil, err
	}
	for i := range senders {
		board.Senders = append(board.Senders, LeaderGroup{Type: &senders[i].Type, Leaders: senders[i].Leaders})
	}
	for i := range receivers {
		board.Receivers = append(board.Receivers, LeaderGroup{Type: &receivers[i].Type, Leaders: receivers[i].Leaders})
	}
	return board, nil
}

// SendThanksBack は受信者からの返信を送信者にDMで届ける
func SendThanksBack(ctx context.Context, transport ChatTransport, message *models.ThankYouMessage, fromSlackUserID, text string) error {
	if !message.HasReceiver(fromSlackUserID) {
		log.Warn().Str("message_id", message.ID).Str("user", fromSlackUserID).Msg("user is not in message receivers")
		return ErrNotReceiver
	}

	body := fmt.Sprintf("<@%s> thanks you for a thank you message you previously sent to them. "+
		"This is what they say:\n\n%s", fromSlackUserID, text)
	if _, _, err := transport.PostDirectMessage(ctx, message.AuthorSlackUserID, RenderedMessage{Text: body}); err != nil {
		return fmt.Errorf("failed to send thanks back: %w", err)
	}
	return nil
}
