package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slack-thank-you/models"
)

// CompanyFilter は ReadCompanies の絞り込み条件
type CompanyFilter struct {
	SlackTeamID string
	// nil なら削除済みも含める
	Deleted *bool
}

// CreateCompany は会社を作成する（関連は保存しない）
func (d *Dao) CreateCompany(ctx context.Context, company *models.Company) error {
	if err := d.conn(ctx).Omit(clause.Associations).Create(company).Error; err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

// UpdateCompany は会社の設定を保存する（同じIDなら上書き）
func (d *Dao) UpdateCompany(ctx context.Context, company *models.Company) error {
	if err := d.conn(ctx).Omit(clause.Associations).Save(company).Error; err != nil {
		return fmt.Errorf("failed to update company %s: %w", company.ID, err)
	}
	return nil
}

// ReadCompany はIDで会社を取得する（存在しない場合は nil）
func (d *Dao) ReadCompany(ctx context.Context, id string) (*models.Company, error) {
	var company models.Company
	err := d.conn(ctx).Preload("Admins").Where("id = ?", id).First(&company).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read company %s: %w", id, err)
	}
	return &company, nil
}

// ReadCompanyByTeamID はSlackのチームIDで会社を取得する
func (d *Dao) ReadCompanyByTeamID(ctx context.Context, slackTeamID string) (*models.Company, error) {
	companies, err := d.ReadCompanies(ctx, CompanyFilter{SlackTeamID: slackTeamID, Deleted: Bool(false)})
	if err != nil {
		return nil, err
	}
	if len(companies) == 0 {
		return nil, nil
	}
	return &companies[0], nil
}

// ReadCompanies は条件に合う会社を作成順に返す
func (d *Dao) ReadCompanies(ctx context.Context, filter CompanyFilter) ([]models.Company, error) {
	q := d.conn(ctx).Preload("Admins")
	q = applyDeleted(q, "companies", filter.Deleted)
	if filter.SlackTeamID != "" {
		q = q.Where("slack_team_id = ?", filter.SlackTeamID)
	}

	var companies []models.Company
	if err := q.Order("created_at ASC, id ASC").Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("failed to read companies: %w", err)
	}
	return companies, nil
}

// GetOrCreateCompany はチームIDの会社を取得し、なければ初期データ付きで作成する
// 同じチームIDの同時呼び出しでも作成されるのは1行だけ
func (d *Dao) GetOrCreateCompany(ctx context.Context, slackTeamID, name string) (*models.Company, bool, error) {
	company, err := d.ReadCompanyByTeamID(ctx, slackTeamID)
	if err != nil || company != nil {
		return company, false, err
	}

	unlock := d.locker.Lock("company:" + slackTeamID)
	defer unlock()

	// ロック待ちの間に他の呼び出しが作成している可能性がある
	company, err = d.ReadCompanyByTeamID(ctx, slackTeamID)
	if err != nil || company != nil {
		return company, false, err
	}

	// slack_team_id は一意なので論理削除済みの会社があれば作り直せない
	deleted, err := d.ReadCompanies(ctx, CompanyFilter{SlackTeamID: slackTeamID, Deleted: Bool(true)})
	if err != nil {
		return nil, false, err
	}
	if len(deleted) > 0 {
		return nil, false, fmt.Errorf("company for team %s: %w", slackTeamID, ErrDeleted)
	}

	company = models.NewCompany(slackTeamID, name)
	err = d.Transaction(ctx, func(repo *Dao) error {
		if err := repo.CreateCompany(ctx, company); err != nil {
			return err
		}
		return repo.CreateInitialData(ctx, company.ID)
	})
	if err != nil {
		return nil, false, err
	}

	log.Info().Str("company_id", company.ID).Str("team_id", slackTeamID).Msg("company created")
	return company, true, nil
}

// CreateInitialData は会社バリューの初期値を登録する（同名があれば何もしない）
func (d *Dao) CreateInitialData(ctx context.Context, companyID string) error {
	existing, err := d.ReadThankYouTypes(ctx, companyID, ThankYouTypeFilter{})
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, t := range existing {
		names[t.Name] = true
	}

	// 表示順を登録順に固定する
	createdAt := time.Now().UTC()
	for i, name := range models.InitialThankYouTypes {
		if names[name] {
			continue
		}
		t := models.NewThankYouType(companyID, name)
		t.CreatedAt = createdAt.Add(time.Duration(i) * time.Millisecond)
		if err := d.CreateThankYouType(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// applyDeleted は論理削除状態での絞り込みを行う（nil は両方）
func applyDeleted(q *gorm.DB, table string, deleted *bool) *gorm.DB {
	if deleted == nil {
		return q.Unscoped()
	}
	if *deleted {
		return q.Unscoped().Where(table + ".deleted_at IS NOT NULL")
	}
	return q
}
