package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ThankYouType は会社バリュー（メッセージのカテゴリ）
type ThankYouType struct {
	ID        string `gorm:"primaryKey;size:256"`
	CompanyID string `gorm:"size:256;not null;index"`
	Name      string `gorm:"type:text;not null;serializer:encrypted"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// NewThankYouType はThankYouTypeを作成する
func NewThankYouType(companyID, name string) *ThankYouType {
	now := time.Now().UTC()
	return &ThankYouType{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsDeleted は論理削除済みかどうかを返す
func (t *ThankYouType) IsDeleted() bool {
	return t.DeletedAt.Valid
}

// ThankYouMessage はお礼メッセージ本体
type ThankYouMessage struct {
	ID                         string        `gorm:"primaryKey;size:256"`
	CompanyID                  string        `gorm:"size:256;not null;index"`
	ThankYouTypeID             *string       `gorm:"size:256;index"`
	Type                       *ThankYouType `gorm:"foreignKey:ThankYouTypeID"`
	Text                       string        `gorm:"type:text;not null;serializer:encrypted"`
	IsRichText                 bool
	AuthorSlackUserID          string `gorm:"size:256;index"`
	AuthorSlackUserName        string `gorm:"size:256"`
	SlashCommandSlackChannelID string `gorm:"size:256"`
	IsPrivate                  bool   `gorm:"index"`

	Receivers       []ThankYouReceiver             `gorm:"foreignKey:ThankYouMessageID;constraint:OnDelete:CASCADE"`
	Images          []ThankYouMessageImage         `gorm:"foreignKey:ThankYouMessageID;constraint:OnDelete:CASCADE"`
	SlackDeliveries []ThankYouMessageSlackDelivery `gorm:"foreignKey:ThankYouMessageID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// NewThankYouMessage はThankYouMessageを作成する
func NewThankYouMessage(companyID, authorSlackUserID, text string) *ThankYouMessage {
	now := time.Now().UTC()
	return &ThankYouMessage{
		ID:                uuid.NewString(),
		CompanyID:         companyID,
		Text:              text,
		AuthorSlackUserID: authorSlackUserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsDeleted は論理削除済みかどうかを返す
func (m *ThankYouMessage) IsDeleted() bool {
	return m.DeletedAt.Valid
}

// SetType はメッセージのカテゴリを設定する（nilで解除）
func (m *ThankYouMessage) SetType(t *ThankYouType) {
	m.Type = t
	if t == nil {
		m.ThankYouTypeID = nil
		return
	}
	id := t.ID
	m.ThankYouTypeID = &id
}

// TypeID はカテゴリIDを返す（未設定なら空文字）
func (m *ThankYouMessage) TypeID() string {
	if m.ThankYouTypeID == nil {
		return ""
	}
	return *m.ThankYouTypeID
}

// SetReceivers は受信者を重複なしで設定する
func (m *ThankYouMessage) SetReceivers(slackUserIDs ...string) {
	m.Receivers = nil
	seen := make(map[string]bool, len(slackUserIDs))
	for _, id := range slackUserIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		m.Receivers = append(m.Receivers, ThankYouReceiver{ThankYouMessageID: m.ID, SlackUserID: id})
	}
}

// ReceiverIDs は受信者のSlackユーザーIDを返す
func (m *ThankYouMessage) ReceiverIDs() []string {
	ids := make([]string, 0, len(m.Receivers))
	for _, r := range m.Receivers {
		ids = append(ids, r.SlackUserID)
	}
	return ids
}

// HasReceiver は指定ユーザーが受信者に含まれるかを返す
func (m *ThankYouMessage) HasReceiver(slackUserID string) bool {
	for _, r := range m.Receivers {
		if r.SlackUserID == slackUserID {
			return true
		}
	}
	return false
}

// AddImage は末尾に画像を追加する
func (m *ThankYouMessage) AddImage(url, filename string) {
	m.Images = append(m.Images, ThankYouMessageImage{
		ID:                uuid.NewString(),
		ThankYouMessageID: m.ID,
		URL:               url,
		Filename:          filename,
		OrderingKey:       len(m.Images),
	})
}

// SortedImages は表示順に並べた画像を返す
func (m *ThankYouMessage) SortedImages() []ThankYouMessageImage {
	images := make([]ThankYouMessageImage, len(m.Images))
	copy(images, m.Images)
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].OrderingKey < images[j].OrderingKey
	})
	return images
}

// ActiveDeliveries は取り消されていない配信記録を返す
func (m *ThankYouMessage) ActiveDeliveries() []ThankYouMessageSlackDelivery {
	var active []ThankYouMessageSlackDelivery
	for _, d := range m.SlackDeliveries {
		if !d.IsRetracted() {
			active = append(active, d)
		}
	}
	return active
}

// ThankYouReceiver はメッセージの受信者（メッセージ内で一意）
type ThankYouReceiver struct {
	ThankYouMessageID string `gorm:"primaryKey;size:256"`
	SlackUserID       string `gorm:"primaryKey;size:256;index"`
}

// ThankYouMessageImage はメッセージに添付された画像
type ThankYouMessageImage struct {
	ID                string `gorm:"primaryKey;size:256"`
	ThankYouMessageID string `gorm:"size:256;not null;index"`
	URL               string `gorm:"type:text;not null;serializer:encrypted"`
	Filename          string `gorm:"type:text;not null;serializer:encrypted"`
	OrderingKey       int    `gorm:"not null"`
}

// ThankYouMessageSlackDelivery はSlackへの投稿1件の記録
type ThankYouMessageSlackDelivery struct {
	ID                 string `gorm:"primaryKey;size:256"`
	ThankYouMessageID  string `gorm:"size:256;not null;index"`
	SlackChannelID     string `gorm:"size:256;not null"`
	SlackUserID        string `gorm:"size:256"`
	MessageTS          string `gorm:"size:256;not null"`
	IsDirectMessage    bool
	IsEphemeralMessage bool
	CreatedAt          time.Time
	DeletedAt          gorm.DeletedAt `gorm:"index"`
}

// NewSlackDelivery は配信記録を作成する
func NewSlackDelivery(messageID, channelID, slackUserID, ts string, direct, ephemeral bool) *ThankYouMessageSlackDelivery {
	return &ThankYouMessageSlackDelivery{
		ID:                 uuid.NewString(),
		ThankYouMessageID:  messageID,
		SlackChannelID:     channelID,
		SlackUserID:        slackUserID,
		MessageTS:          ts,
		IsDirectMessage:    direct,
		IsEphemeralMessage: ephemeral,
		CreatedAt:          time.Now().UTC(),
	}
}

// IsRetracted は取り消し済み（論理削除済み）かどうかを返す
func (d *ThankYouMessageSlackDelivery) IsRetracted() bool {
	return d.DeletedAt.Valid
}
