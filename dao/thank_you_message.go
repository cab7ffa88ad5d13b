package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slack-thank-you/models"
)

// CreateThankYouMessage はメッセージを受信者・画像と一緒に作成する
func (d *Dao) CreateThankYouMessage(ctx context.Context, message *models.ThankYouMessage) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	return d.Transaction(ctx, func(repo *Dao) error {
		tx := repo.conn(ctx)
		if err := tx.Omit(clause.Associations).Create(message).Error; err != nil {
			return fmt.Errorf("failed to create thank you message: %w", err)
		}
		if err := createReceivers(tx, message.ID, message.ReceiverIDs()); err != nil {
			return err
		}
		return createImages(tx, message)
	})
}

// ReadThankYouMessage は会社内のメッセージを取得する（他社・削除済み・存在しない場合は nil）
func (d *Dao) ReadThankYouMessage(ctx context.Context, companyID, id string) (*models.ThankYouMessage, error) {
	var message models.ThankYouMessage
	err := preloadMessage(d.conn(ctx)).
		Where("id = ? AND company_id = ?", id, companyID).
		First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thank you message %s: %w", id, err)
	}
	return &message, nil
}

// UpdateThankYouMessage は既存メッセージに変更をマージする
// 本文・会社バリュー・リッチテキストフラグを上書きし、受信者は差分で追加・削除、画像はすべて置き換える
// 同じIDのメッセージがなければ作成する
// 論理削除済みなら ErrDeleted、他社のIDなら ErrNotFound を返す
func (d *Dao) UpdateThankYouMessage(ctx context.Context, message *models.ThankYouMessage) error {
	var created bool
	err := d.Transaction(ctx, func(repo *Dao) error {
		if message.ID != "" {
			var stored models.ThankYouMessage
			err := repo.conn(ctx).Unscoped().Select("id", "company_id", "deleted_at").
				Where("id = ?", message.ID).Limit(1).Find(&stored).Error
			if err != nil {
				return fmt.Errorf("failed to read thank you message %s: %w", message.ID, err)
			}
			switch {
			case stored.ID == "":
				created = true
				return nil
			case stored.CompanyID != message.CompanyID:
				return fmt.Errorf("thank you message %s: %w", message.ID, ErrNotFound)
			case stored.DeletedAt.Valid:
				return fmt.Errorf("thank you message %s: %w", message.ID, ErrDeleted)
			}
		}

		existing, err := repo.ReadThankYouMessage(ctx, message.CompanyID, message.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			created = true
			return nil
		}

		tx := repo.conn(ctx)
		existing.Text = message.Text
		existing.IsRichText = message.IsRichText
		existing.ThankYouTypeID = message.ThankYouTypeID
		existing.Type = message.Type
		if err := tx.Omit(clause.Associations).Save(existing).Error; err != nil {
			return fmt.Errorf("failed to update thank you message %s: %w", message.ID, err)
		}

		if err := reconcileReceivers(tx, existing.ReceiverIDs(), message); err != nil {
			return err
		}

		if err := tx.Where("thank_you_message_id = ?", message.ID).Delete(&models.ThankYouMessageImage{}).Error; err != nil {
			return fmt.Errorf("failed to delete images of %s: %w", message.ID, err)
		}
		return createImages(tx, message)
	})
	if err != nil {
		return err
	}
	if created {
		return d.CreateThankYouMessage(ctx, message)
	}
	return nil
}

// DeleteThankYouMessage はメッセージを論理削除する（削除済みなら何もしない）
func (d *Dao) DeleteThankYouMessage(ctx context.Context, companyID, id string) error {
	err := d.conn(ctx).Where("id = ? AND company_id = ?", id, companyID).Delete(&models.ThankYouMessage{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete thank you message %s: %w", id, err)
	}
	return nil
}

func reconcileReceivers(tx *gorm.DB, current []string, message *models.ThankYouMessage) error {
	wanted := make(map[string]bool, len(message.Receivers))
	for _, id := range message.ReceiverIDs() {
		wanted[id] = true
	}
	have := make(map[string]bool, len(current))
	var removed []string
	for _, id := range current {
		have[id] = true
		if !wanted[id] {
			removed = append(removed, id)
		}
	}
	var added []string
	for _, id := range message.ReceiverIDs() {
		if !have[id] {
			added = append(added, id)
		}
	}

	if len(removed) > 0 {
		err := tx.Where("thank_you_message_id = ? AND slack_user_id IN ?", message.ID, removed).
			Delete(&models.ThankYouReceiver{}).Error
		if err != nil {
			return fmt.Errorf("failed to remove receivers of %s: %w", message.ID, err)
		}
	}
	return createReceivers(tx, message.ID, added)
}

func createReceivers(tx *gorm.DB, messageID string, slackUserIDs []string) error {
	if len(slackUserIDs) == 0 {
		return nil
	}
	receivers := make([]models.ThankYouReceiver, 0, len(slackUserIDs))
	for _, id := range slackUserIDs {
		receivers = append(receivers, models.ThankYouReceiver{ThankYouMessageID: messageID, SlackUserID: id})
	}
	if err := tx.Create(&receivers).Error; err != nil {
		return fmt.Errorf("failed to create receivers of %s: %w", messageID, err)
	}
	return nil
}

func createImages(tx *gorm.DB, message *models.ThankYouMessage) error {
	if len(message.Images) == 0 {
		return nil
	}
	for i := range message.Images {
		image := &message.Images[i]
		image.ThankYouMessageID = message.ID
		if image.ID == "" {
			image.ID = uuid.NewString()
		}
	}
	if err := tx.Create(&message.Images).Error; err != nil {
		return fmt.Errorf("failed to create images of %s: %w", message.ID, err)
	}
	return nil
}
