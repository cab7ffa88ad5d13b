package dao

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"slack-thank-you/models"
)

// CreateCompanyAdmin は管理者を追加する（既に管理者なら何もしない）
func (d *Dao) CreateCompanyAdmin(ctx context.Context, companyID, slackUserID string) error {
	admin := &models.CompanyAdmin{
		CompanyID:   companyID,
		SlackUserID: slackUserID,
		CreatedAt:   time.Now().UTC(),
	}
	err := d.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(admin).Error
	if err != nil {
		return fmt.Errorf("failed to create company admin: %w", err)
	}
	return nil
}

// DeleteCompanyAdmin は管理者を物理削除する
func (d *Dao) DeleteCompanyAdmin(ctx context.Context, companyID, slackUserID string) error {
	err := d.conn(ctx).
		Where("company_id = ? AND slack_user_id = ?", companyID, slackUserID).
		Delete(&models.CompanyAdmin{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete company admin: %w", err)
	}
	return nil
}

// ReadCompanyAdmins は会社の管理者一覧を返す
func (d *Dao) ReadCompanyAdmins(ctx context.Context, companyID string) ([]models.CompanyAdmin, error) {
	var admins []models.CompanyAdmin
	err := d.conn(ctx).Where("company_id = ?", companyID).Order("created_at ASC, slack_user_id ASC").Find(&admins).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read company admins: %w", err)
	}
	return admins, nil
}

// IsCompanyAdmin はユーザーが管理者かどうかを返す
func (d *Dao) IsCompanyAdmin(ctx context.Context, companyID, slackUserID string) (bool, error) {
	var count int64
	err := d.conn(ctx).Model(&models.CompanyAdmin{}).
		Where("company_id = ? AND slack_user_id = ?", companyID, slackUserID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check company admin: %w", err)
	}
	return count > 0, nil
}
