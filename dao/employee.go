package dao

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"slack-thank-you/models"
)

// ReadEmployee は会社内のユーザーを取得する（存在しない場合は nil）
func (d *Dao) ReadEmployee(ctx context.Context, companyID, slackUserID string) (*models.Employee, error) {
	var employee models.Employee
	err := d.conn(ctx).Where("company_id = ? AND slack_user_id = ?", companyID, slackUserID).First(&employee).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read employee: %w", err)
	}
	return &employee, nil
}

// GetOrCreateEmployee は会社内のユーザーを取得し、なければ作成する
func (d *Dao) GetOrCreateEmployee(ctx context.Context, companyID, slackUserID string) (*models.Employee, error) {
	employee, err := d.ReadEmployee(ctx, companyID, slackUserID)
	if err != nil || employee != nil {
		return employee, err
	}

	unlock := d.locker.Lock("employee:" + companyID + ":" + slackUserID)
	defer unlock()

	employee, err = d.ReadEmployee(ctx, companyID, slackUserID)
	if err != nil || employee != nil {
		return employee, err
	}

	employee = models.NewEmployee(companyID, slackUserID)
	if err := d.conn(ctx).Create(employee).Error; err != nil {
		return nil, fmt.Errorf("failed to create employee: %w", err)
	}
	return employee, nil
}

// UpdateEmployee はユーザーの状態を保存する
// 同じ会社に同じIDの行がなければ ErrNotFound を返す（会社・ユーザーIDは変更しない）
func (d *Dao) UpdateEmployee(ctx context.Context, employee *models.Employee) error {
	var existing models.Employee
	err := d.conn(ctx).Where("id = ? AND company_id = ?", employee.ID, employee.CompanyID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("employee %s: %w", employee.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read employee %s: %w", employee.ID, err)
	}

	existing.ClosedWelcomeMessage = employee.ClosedWelcomeMessage
	if err := d.conn(ctx).Save(&existing).Error; err != nil {
		return fmt.Errorf("failed to update employee %s: %w", employee.ID, err)
	}
	*employee = existing
	return nil
}
