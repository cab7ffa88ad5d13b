package dao

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"slack-thank-you/models"
)

// MessageQueryOption はメッセージ検索の条件
type MessageQueryOption func(*messageQuery)

type messageQuery struct {
	deleted       *bool
	private       *bool
	author        string
	receiver      string
	typeIDs       []string
	createdAfter  *time.Time
	createdBefore *time.Time
	createdUntil  *time.Time
	lastN         int
}

func newMessageQuery(opts []MessageQueryOption) *messageQuery {
	q := &messageQuery{
		deleted: Bool(false),
		private: Bool(false),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// WithDeleted は論理削除状態で絞り込む（nil は両方、デフォルトは未削除のみ）
func WithDeleted(deleted *bool) MessageQueryOption {
	return func(q *messageQuery) {
		q.deleted = deleted
	}
}

// WithPrivate は非公開フラグで絞り込む（nil は両方、デフォルトは公開のみ）
func WithPrivate(private *bool) MessageQueryOption {
	return func(q *messageQuery) {
		q.private = private
	}
}

// WithAuthor は送信者で絞り込む
func WithAuthor(slackUserID string) MessageQueryOption {
	return func(q *messageQuery) {
		q.author = slackUserID
	}
}

// WithReceiver は受信者で絞り込む
func WithReceiver(slackUserID string) MessageQueryOption {
	return func(q *messageQuery) {
		q.receiver = slackUserID
	}
}

// WithTypes はいずれかの会社バリューを持つメッセージに絞り込む
func WithTypes(typeIDs ...string) MessageQueryOption {
	return func(q *messageQuery) {
		q.typeIDs = typeIDs
	}
}

// CreatedAfter は作成日時の下限（含む）
func CreatedAfter(t time.Time) MessageQueryOption {
	return func(q *messageQuery) {
		t = t.UTC()
		q.createdAfter = &t
	}
}

// CreatedBefore は作成日時の上限（含む）
func CreatedBefore(t time.Time) MessageQueryOption {
	return func(q *messageQuery) {
		t = t.UTC()
		q.createdBefore = &t
	}
}

// CreatedWithin は半開区間 [From, Until) で絞り込む
func CreatedWithin(w models.TimeWindow) MessageQueryOption {
	return func(q *messageQuery) {
		from, until := w.From.UTC(), w.Until.UTC()
		q.createdAfter = &from
		q.createdUntil = &until
	}
}

// LastN は新しい順に n 件に制限する
func LastN(n int) MessageQueryOption {
	return func(q *messageQuery) {
		q.lastN = n
	}
}

func (q *messageQuery) apply(db *gorm.DB, companyID string) *gorm.DB {
	db = db.Model(&models.ThankYouMessage{}).Where("thank_you_messages.company_id = ?", companyID)
	db = applyDeleted(db, "thank_you_messages", q.deleted)

	if q.private != nil {
		db = db.Where("thank_you_messages.is_private = ?", *q.private)
	}
	if q.author != "" {
		db = db.Where("thank_you_messages.author_slack_user_id = ?", q.author)
	}
	if q.receiver != "" {
		// サブクエリなので受信者が複数いても重複しない
		db = db.Where("thank_you_messages.id IN (?)",
			db.Session(&gorm.Session{NewDB: true}).
				Model(&models.ThankYouReceiver{}).
				Select("thank_you_message_id").
				Where("slack_user_id = ?", q.receiver))
	}
	if len(q.typeIDs) > 0 {
		db = db.Where("thank_you_messages.thank_you_type_id IN ?", q.typeIDs)
	}
	if q.createdAfter != nil {
		db = db.Where("thank_you_messages.created_at >= ?", *q.createdAfter)
	}
	if q.createdBefore != nil {
		db = db.Where("thank_you_messages.created_at <= ?", *q.createdBefore)
	}
	if q.createdUntil != nil {
		db = db.Where("thank_you_messages.created_at < ?", *q.createdUntil)
	}
	return db
}

// ReadThankYouMessages は会社のメッセージを新しい順に返す
func (d *Dao) ReadThankYouMessages(ctx context.Context, companyID string, opts ...MessageQueryOption) ([]models.ThankYouMessage, error) {
	q := newMessageQuery(opts)
	db := q.apply(d.conn(ctx), companyID).
		Order("thank_you_messages.created_at DESC, thank_you_messages.id DESC")
	if q.lastN > 0 {
		db = db.Limit(q.lastN)
	}

	var messages []models.ThankYouMessage
	if err := preloadMessage(db).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to read thank you messages: %w", err)
	}
	return messages, nil
}

// CountThankYouMessages は ReadThankYouMessages と同じ条件の件数を返す
// LastN は無視される
func (d *Dao) CountThankYouMessages(ctx context.Context, companyID string, opts ...MessageQueryOption) (int64, error) {
	q := newMessageQuery(opts)

	var count int64
	if err := q.apply(d.conn(ctx), companyID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count thank you messages: %w", err)
	}
	return count, nil
}

func preloadMessage(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Type", func(tx *gorm.DB) *gorm.DB {
			// 削除済みの会社バリューでも過去のメッセージには表示する
			return tx.Unscoped()
		}).
		Preload("Receivers", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("slack_user_id ASC")
		}).
		Preload("Images", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("ordering_key ASC")
		}).
		Preload("SlackDeliveries", func(tx *gorm.DB) *gorm.DB {
			return tx.Unscoped().Order("created_at ASC, id ASC")
		})
}
