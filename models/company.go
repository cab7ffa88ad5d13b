package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 会社作成時に登録されるデフォルトの会社バリュー
var InitialThankYouTypes = []string{
	"🎉 Release",
	"🚀 Launch",
	"📄 RFC",
}

const (
	DefaultWeeklyThankYouLimit  = 5
	DefaultReceiversNumberLimit = 10
	DefaultMaxAttachedFilesNum  = 3
	DefaultAppName              = "Merci!"
)

// Company はSlackワークスペース単位のテナント
type Company struct {
	ID          string `gorm:"primaryKey;size:256"`
	SlackTeamID string `gorm:"size:256;uniqueIndex;not null"`
	Name        string `gorm:"size:256"`

	EnableLeaderboard                         bool
	EnableWeeklyThankYouLimit                 bool
	WeeklyThankYouLimit                       int
	ReceiversNumberLimit                      int
	EnableRichTextInThankYouMessages          bool
	EnableAttachingFiles                      bool
	MaxAttachedFilesNum                       int
	EnablePrivateMessages                     bool
	EnablePrivateMessageCountingInLeaderboard bool
	EnableSharingInSlackChannel               bool
	ShareMessagesInSlackChannel               string `gorm:"size:256"`
	LeaderboardTimeSetting                    LeaderboardTimeSetting `gorm:"not null"`
	EnableCompanyValues                       bool
	MerciAppName                              string `gorm:"size:256"`

	Admins           []CompanyAdmin    `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE"`
	ThankYouTypes    []ThankYouType    `gorm:"foreignKey:CompanyID"`
	ThankYouMessages []ThankYouMessage `gorm:"foreignKey:CompanyID"`
	Employees        []Employee        `gorm:"foreignKey:CompanyID"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// NewCompany はデフォルト設定のCompanyを作成する
func NewCompany(slackTeamID, name string) *Company {
	now := time.Now().UTC()
	return &Company{
		ID:                               uuid.NewString(),
		SlackTeamID:                      slackTeamID,
		Name:                             name,
		EnableLeaderboard:                true,
		EnableWeeklyThankYouLimit:        true,
		WeeklyThankYouLimit:              DefaultWeeklyThankYouLimit,
		ReceiversNumberLimit:             DefaultReceiversNumberLimit,
		EnableRichTextInThankYouMessages: false,
		EnableAttachingFiles:             false,
		MaxAttachedFilesNum:              DefaultMaxAttachedFilesNum,
		EnablePrivateMessages:            true,
		LeaderboardTimeSetting:           LeaderboardLast30Days,
		EnableCompanyValues:              true,
		MerciAppName:                     DefaultAppName,
		CreatedAt:                        now,
		UpdatedAt:                        now,
	}
}

// IsDeleted は論理削除済みかどうかを返す
func (c *Company) IsDeleted() bool {
	return c.DeletedAt.Valid
}

// SharingChannel は共有チャンネルが有効な場合にそのチャンネルIDを返す
func (c *Company) SharingChannel() (string, bool) {
	if c.EnableSharingInSlackChannel && c.ShareMessagesInSlackChannel != "" {
		return c.ShareMessagesInSlackChannel, true
	}
	return "", false
}

// AppName は表示用のアプリ名を返す
func (c *Company) AppName() string {
	if c.MerciAppName == "" {
		return DefaultAppName
	}
	return c.MerciAppName
}

// CompanyAdmin は設定変更権限を持つユーザー（物理削除される）
type CompanyAdmin struct {
	CompanyID   string `gorm:"primaryKey;size:256"`
	SlackUserID string `gorm:"primaryKey;size:256"`
	CreatedAt   time.Time
}

// Employee はワークスペース内ユーザーのUI状態を保持する
type Employee struct {
	ID                   string `gorm:"primaryKey;size:256"`
	CompanyID            string `gorm:"size:256;not null;uniqueIndex:idx_employee_company_user"`
	SlackUserID          string `gorm:"size:256;not null;uniqueIndex:idx_employee_company_user"`
	ClosedWelcomeMessage bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            gorm.DeletedAt `gorm:"index"`
}

// NewEmployee はEmployeeを作成する
func NewEmployee(companyID, slackUserID string) *Employee {
	now := time.Now().UTC()
	return &Employee{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		SlackUserID: slackUserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
