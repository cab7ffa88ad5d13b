package dao

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"slack-thank-you/models"
)

// DefaultLeadersTop はリーダーボードのデフォルト表示人数
const DefaultLeadersTop = 3

// Leader はリーダーボードの1行
type Leader struct {
	SlackUserID string `gorm:"column:slack_user_id"`
	Count       int64  `gorm:"column:message_count"`
}

// LeadersQuery はリーダーボード集計の条件
type LeadersQuery struct {
	Window models.TimeWindow
	// 空なら会社バリューで絞り込まない
	ThankYouTypeID string
	IncludePrivate bool
	// 0 以下なら DefaultLeadersTop
	Top int
}

// TypeLeaders は会社バリューごとのリーダーボード
type TypeLeaders struct {
	Type    models.ThankYouType
	Leaders []Leader
}

func (q LeadersQuery) top() int {
	if q.Top <= 0 {
		return DefaultLeadersTop
	}
	return q.Top
}

// 件数の降順、同数は Slack ユーザーIDの昇順
const leadersOrder = "message_count DESC, slack_user_id ASC"

func (q LeadersQuery) scope(db *gorm.DB, companyID string) *gorm.DB {
	db = db.Where("thank_you_messages.company_id = ?", companyID).
		Where("thank_you_messages.deleted_at IS NULL").
		Where("thank_you_messages.created_at >= ? AND thank_you_messages.created_at < ?", q.Window.From.UTC(), q.Window.Until.UTC())
	if !q.IncludePrivate {
		db = db.Where("thank_you_messages.is_private = ?", false)
	}
	if q.ThankYouTypeID != "" {
		db = db.Where("thank_you_messages.thank_you_type_id = ?", q.ThankYouTypeID)
	}
	return db
}

// ReadSenderLeaders は送信数の多いユーザーを返す
func (d *Dao) ReadSenderLeaders(ctx context.Context, companyID string, q LeadersQuery) ([]Leader, error) {
	var leaders []Leader
	err := q.scope(d.conn(ctx).Table("thank_you_messages"), companyID).
		Select("thank_you_messages.author_slack_user_id AS slack_user_id, COUNT(*) AS message_count").
		Group("thank_you_messages.author_slack_user_id").
		Order(leadersOrder).
		Limit(q.top()).
		Scan(&leaders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read sender leaders: %w", err)
	}
	return leaders, nil
}

// ReadReceiverLeaders は受信数の多いユーザーを返す
func (d *Dao) ReadReceiverLeaders(ctx context.Context, companyID string, q LeadersQuery) ([]Leader, error) {
	var leaders []Leader
	db := d.conn(ctx).Table("thank_you_receivers").
		Joins("JOIN thank_you_messages ON thank_you_messages.id = thank_you_receivers.thank_you_message_id")
	err := q.scope(db, companyID).
		Select("thank_you_receivers.slack_user_id AS slack_user_id, COUNT(*) AS message_count").
		Group("thank_you_receivers.slack_user_id").
		Order(leadersOrder).
		Limit(q.top()).
		Scan(&leaders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read receiver leaders: %w", err)
	}
	return leaders, nil
}

// ReadLeadersByType は有効な会社バリューごとに集計する
// メッセージがない会社バリューも空のリーダーボードとして含める
func (d *Dao) ReadLeadersByType(ctx context.Context, companyID string, q LeadersQuery, receivers bool) ([]TypeLeaders, error) {
	types, err := d.ReadThankYouTypes(ctx, companyID, ThankYouTypeFilter{Deleted: Bool(false)})
	if err != nil {
		return nil, err
	}

	result := make([]TypeLeaders, 0, len(types))
	for _, t := range types {
		tq := q
		tq.ThankYouTypeID = t.ID

		var leaders []Leader
		if receivers {
			leaders, err = d.ReadReceiverLeaders(ctx, companyID, tq)
		} else {
			leaders, err = d.ReadSenderLeaders(ctx, companyID, tq)
		}
		if err != nil {
			return nil, err
		}
		if leaders == nil {
			leaders = []Leader{}
		}
		result = append(result, TypeLeaders{Type: t, Leaders: leaders})
	}
	return result, nil
}
