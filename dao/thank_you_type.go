package dao

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"slack-thank-you/models"
)

// ThankYouTypeFilter は ReadThankYouTypes の絞り込み条件
type ThankYouTypeFilter struct {
	// 暗号化カラムなので取得後に比較する（大文字小文字は区別しない）
	Name string
	// nil なら削除済みも含める
	Deleted *bool
}

// CreateThankYouType は会社バリューを作成する
func (d *Dao) CreateThankYouType(ctx context.Context, t *models.ThankYouType) error {
	if err := d.conn(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create thank you type: %w", err)
	}
	return nil
}

// UpdateThankYouType は会社バリューの名前を保存する
func (d *Dao) UpdateThankYouType(ctx context.Context, t *models.ThankYouType) error {
	existing, err := d.ReadThankYouType(ctx, t.CompanyID, t.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return d.CreateThankYouType(ctx, t)
	}

	existing.Name = t.Name
	if err := d.conn(ctx).Save(existing).Error; err != nil {
		return fmt.Errorf("failed to update thank you type %s: %w", t.ID, err)
	}
	*t = *existing
	return nil
}

// ReadThankYouType は会社内の会社バリューを取得する（削除済みは nil）
func (d *Dao) ReadThankYouType(ctx context.Context, companyID, id string) (*models.ThankYouType, error) {
	var t models.ThankYouType
	err := d.conn(ctx).Where("id = ? AND company_id = ?", id, companyID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thank you type %s: %w", id, err)
	}
	return &t, nil
}

// ReadThankYouTypes は会社の会社バリューを作成順に返す
func (d *Dao) ReadThankYouTypes(ctx context.Context, companyID string, filter ThankYouTypeFilter) ([]models.ThankYouType, error) {
	q := d.conn(ctx).Where("thank_you_types.company_id = ?", companyID)
	q = applyDeleted(q, "thank_you_types", filter.Deleted)

	var types []models.ThankYouType
	if err := q.Order("created_at ASC, id ASC").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("failed to read thank you types: %w", err)
	}

	if filter.Name == "" {
		return types, nil
	}
	var matched []models.ThankYouType
	for _, t := range types {
		if strings.EqualFold(strings.TrimSpace(t.Name), strings.TrimSpace(filter.Name)) {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// DeleteThankYouType は会社バリューを論理削除する
func (d *Dao) DeleteThankYouType(ctx context.Context, companyID, id string) error {
	err := d.conn(ctx).Where("id = ? AND company_id = ?", id, companyID).Delete(&models.ThankYouType{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete thank you type %s: %w", id, err)
	}
	return nil
}
