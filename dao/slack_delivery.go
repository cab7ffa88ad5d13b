package dao

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"slack-thank-you/models"
)

// companyMessages は会社のメッセージID（削除済みを含む）のサブクエリ
func companyMessages(db *gorm.DB, companyID string) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).Unscoped().
		Model(&models.ThankYouMessage{}).
		Select("id").
		Where("company_id = ?", companyID)
}

// CreateSlackDelivery は配信記録を保存する（メッセージが会社にない場合は ErrNotFound）
func (d *Dao) CreateSlackDelivery(ctx context.Context, companyID string, delivery *models.ThankYouMessageSlackDelivery) error {
	db := d.conn(ctx)
	var count int64
	err := companyMessages(db, companyID).Where("id = ?", delivery.ThankYouMessageID).Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check thank you message %s: %w", delivery.ThankYouMessageID, err)
	}
	if count == 0 {
		return fmt.Errorf("thank you message %s: %w", delivery.ThankYouMessageID, ErrNotFound)
	}

	if err := db.Create(delivery).Error; err != nil {
		return fmt.Errorf("failed to create slack delivery: %w", err)
	}
	return nil
}

// ReadSlackDeliveries は会社内のメッセージの配信記録を作成順に返す
func (d *Dao) ReadSlackDeliveries(ctx context.Context, companyID, messageID string, includeRetracted bool) ([]models.ThankYouMessageSlackDelivery, error) {
	db := d.conn(ctx)
	q := db.Where("thank_you_message_id = ? AND thank_you_message_id IN (?)", messageID, companyMessages(db, companyID))
	if includeRetracted {
		q = q.Unscoped()
	}

	var deliveries []models.ThankYouMessageSlackDelivery
	if err := q.Order("created_at ASC, id ASC").Find(&deliveries).Error; err != nil {
		return nil, fmt.Errorf("failed to read slack deliveries: %w", err)
	}
	return deliveries, nil
}

// RetractSlackDelivery は会社内の配信記録を取り消し済みにする（他社・取り消し済みなら何もしない）
func (d *Dao) RetractSlackDelivery(ctx context.Context, companyID, id string) error {
	db := d.conn(ctx)
	err := db.Where("id = ? AND thank_you_message_id IN (?)", id, companyMessages(db, companyID)).
		Delete(&models.ThankYouMessageSlackDelivery{}).Error
	if err != nil {
		return fmt.Errorf("failed to retract slack delivery %s: %w", id, err)
	}
	return nil
}
