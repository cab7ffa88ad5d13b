package dao

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-thank-you/models"
)

var baseTime = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func TestCreateAndReadThankYouMessage(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")

	types, err := d.ReadThankYouTypes(ctx, company.ID, ThankYouTypeFilter{Name: "🚀 Launch"})
	require.NoError(t, err)
	require.Len(t, types, 1)

	message := models.NewThankYouMessage(company.ID, "U1", "Great job!")
	message.SetType(&types[0])
	message.SetReceivers("U3", "U2", "U3")
	message.AddImage("https://files.example.com/a.png", "a.png")
	message.AddImage("https://files.example.com/b.png", "b.png")
	require.NoError(t, d.CreateThankYouMessage(ctx, message))

	read, err := d.ReadThankYouMessage(ctx, company.ID, message.ID)
	require.NoError(t, err)
	require.NotNil(t, read)

	assert.Equal(t, "Great job!", read.Text)
	assert.Equal(t, []string{"U2", "U3"}, read.ReceiverIDs())
	require.NotNil(t, read.Type)
	assert.Equal(t, "🚀 Launch", read.Type.Name)
	images := read.SortedImages()
	require.Len(t, images, 2)
	assert.Equal(t, "a.png", images[0].Filename)
	assert.Equal(t, "https://files.example.com/b.png", images[1].URL)
}

func TestTenantIsolation(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	companyA := createTestCompany(t, d, "T-A")
	companyB := createTestCompany(t, d, "T-B")

	typesB, err := d.ReadThankYouTypes(ctx, companyB.ID, ThankYouTypeFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, typesB)

	messageA := createTestMessage(t, d, companyA.ID, "U1", baseTime, "U2")

	messageB := models.NewThankYouMessage(companyB.ID, "U1", "secret")
	messageB.SetType(&typesB[0])
	messageB.SetReceivers("U2")
	require.NoError(t, d.CreateThankYouMessage(ctx, messageB))

	tests := []struct {
		name string
		opts []MessageQueryOption
	}{
		{name: "no filter"},
		{name: "foreign type id", opts: []MessageQueryOption{WithTypes(typesB[0].ID)}},
		{name: "same author", opts: []MessageQueryOption{WithAuthor("U1")}},
		{name: "same receiver", opts: []MessageQueryOption{WithReceiver("U2")}},
		{name: "deleted both", opts: []MessageQueryOption{WithDeleted(nil), WithPrivate(nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, err := d.ReadThankYouMessages(ctx, companyA.ID, tt.opts...)
			require.NoError(t, err)
			assert.NotContains(t, messageIDs(messages), messageB.ID)
			for _, m := range messages {
				assert.Equal(t, companyA.ID, m.CompanyID)
			}
		})
	}

	leaked, err := d.ReadThankYouMessage(ctx, companyA.ID, messageB.ID)
	require.NoError(t, err)
	assert.Nil(t, leaked)

	// 他社のメッセージは削除できない
	require.NoError(t, d.DeleteThankYouMessage(ctx, companyA.ID, messageB.ID))
	stillThere, err := d.ReadThankYouMessage(ctx, companyB.ID, messageB.ID)
	require.NoError(t, err)
	assert.NotNil(t, stillThere)

	own, err := d.ReadThankYouMessage(ctx, companyA.ID, messageA.ID)
	require.NoError(t, err)
	assert.NotNil(t, own)
}

func TestReadThankYouMessages_Filters(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")

	types, err := d.ReadThankYouTypes(ctx, company.ID, ThankYouTypeFilter{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(types), 2)

	m1 := createTestMessage(t, d, company.ID, "U1", baseTime.Add(-72*time.Hour), "U2", "U3")
	m2 := createTestMessage(t, d, company.ID, "U2", baseTime.Add(-48*time.Hour), "U3")
	m3 := createTestMessage(t, d, company.ID, "U1", baseTime.Add(-24*time.Hour), "U3")

	private := models.NewThankYouMessage(company.ID, "U1", "just for you")
	private.CreatedAt = baseTime.Add(-12 * time.Hour)
	private.IsPrivate = true
	private.SetReceivers("U3")
	require.NoError(t, d.CreateThankYouMessage(ctx, private))

	typed := models.NewThankYouMessage(company.ID, "U4", "release done")
	typed.CreatedAt = baseTime.Add(-6 * time.Hour)
	typed.SetType(&types[1])
	typed.SetReceivers("U1")
	require.NoError(t, d.CreateThankYouMessage(ctx, typed))

	deleted := createTestMessage(t, d, company.ID, "U1", baseTime.Add(-1*time.Hour), "U3")
	require.NoError(t, d.DeleteThankYouMessage(ctx, company.ID, deleted.ID))

	tests := []struct {
		name string
		opts []MessageQueryOption
		want []string
	}{
		{
			name: "defaults exclude private and deleted, newest first",
			want: []string{typed.ID, m3.ID, m2.ID, m1.ID},
		},
		{
			name: "author",
			opts: []MessageQueryOption{WithAuthor("U1")},
			want: []string{m3.ID, m1.ID},
		},
		{
			name: "author including private",
			opts: []MessageQueryOption{WithAuthor("U1"), WithPrivate(nil)},
			want: []string{private.ID, m3.ID, m1.ID},
		},
		{
			name: "private only",
			opts: []MessageQueryOption{WithPrivate(Bool(true))},
			want: []string{private.ID},
		},
		{
			name: "receiver deduplicated",
			opts: []MessageQueryOption{WithReceiver("U3")},
			want: []string{m3.ID, m2.ID, m1.ID},
		},
		{
			name: "types",
			opts: []MessageQueryOption{WithTypes(types[0].ID, types[1].ID)},
			want: []string{typed.ID},
		},
		{
			name: "created bounds are inclusive",
			opts: []MessageQueryOption{CreatedAfter(m2.CreatedAt), CreatedBefore(m3.CreatedAt)},
			want: []string{m3.ID, m2.ID},
		},
		{
			name: "created within is half open",
			opts: []MessageQueryOption{CreatedWithin(models.TimeWindow{From: m2.CreatedAt, Until: m3.CreatedAt})},
			want: []string{m2.ID},
		},
		{
			name: "last n",
			opts: []MessageQueryOption{LastN(2)},
			want: []string{typed.ID, m3.ID},
		},
		{
			name: "deleted only",
			opts: []MessageQueryOption{WithDeleted(Bool(true))},
			want: []string{deleted.ID},
		},
		{
			name: "deleted and active",
			opts: []MessageQueryOption{WithDeleted(nil), WithAuthor("U1")},
			want: []string{deleted.ID, m3.ID, m1.ID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, err := d.ReadThankYouMessages(ctx, company.ID, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, messageIDs(messages))

			count, err := d.CountThankYouMessages(ctx, company.ID, tt.opts...)
			require.NoError(t, err)
			if tt.name == "last n" {
				assert.Equal(t, int64(4), count)
				return
			}
			assert.Equal(t, int64(len(tt.want)), count)
		})
	}
}

func TestDeleteThankYouMessage_Idempotent(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")
	message := createTestMessage(t, d, company.ID, "U1", baseTime, "U2")

	require.NoError(t, d.DeleteThankYouMessage(ctx, company.ID, message.ID))
	first, err := d.ReadThankYouMessages(ctx, company.ID, WithDeleted(nil))
	require.NoError(t, err)

	require.NoError(t, d.DeleteThankYouMessage(ctx, company.ID, message.ID))
	second, err := d.ReadThankYouMessages(ctx, company.ID, WithDeleted(nil))
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.True(t, second[0].IsDeleted())
	assert.Equal(t, first[0].DeletedAt, second[0].DeletedAt)

	active, err := d.ReadThankYouMessages(ctx, company.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	read, err := d.ReadThankYouMessage(ctx, company.ID, message.ID)
	require.NoError(t, err)
	assert.Nil(t, read)
}

func TestUpdateThankYouMessage_ReconcilesReceivers(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")

	message := models.NewThankYouMessage(company.ID, "U1", "first version")
	message.SetReceivers("X", "Y")
	message.AddImage("https://files.example.com/old.png", "old.png")
	require.NoError(t, d.CreateThankYouMessage(ctx, message))

	edited, err := d.ReadThankYouMessage(ctx, company.ID, message.ID)
	require.NoError(t, err)
	edited.Text = "second version"
	edited.IsRichText = true
	edited.SetReceivers("Y", "Z")
	edited.Images = nil
	edited.AddImage("https://files.example.com/new1.png", "new1.png")
	edited.AddImage("https://files.example.com/new2.png", "new2.png")
	require.NoError(t, d.UpdateThankYouMessage(ctx, edited))

	read, err := d.ReadThankYouMessage(ctx, company.ID, message.ID)
	require.NoError(t, err)
	assert.Equal(t, "second version", read.Text)
	assert.True(t, read.IsRichText)
	assert.Equal(t, []string{"Y", "Z"}, read.ReceiverIDs())

	images := read.SortedImages()
	require.Len(t, images, 2)
	assert.Equal(t, "new1.png", images[0].Filename)
	assert.Equal(t, "new2.png", images[1].Filename)

	var imageRows int64
	require.NoError(t, d.DB().Model(&models.ThankYouMessageImage{}).Where("thank_you_message_id = ?", message.ID).Count(&imageRows).Error)
	assert.Equal(t, int64(2), imageRows)

	var receiverRows int64
	require.NoError(t, d.DB().Model(&models.ThankYouReceiver{}).Where("thank_you_message_id = ? AND slack_user_id = ?", message.ID, "X").Count(&receiverRows).Error)
	assert.Equal(t, int64(0), receiverRows)
}

func TestUpdateThankYouMessage_CreatesWhenMissing(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")

	message := models.NewThankYouMessage(company.ID, "U1", "upsert")
	message.SetReceivers("U2")
	require.NoError(t, d.UpdateThankYouMessage(ctx, message))

	read, err := d.ReadThankYouMessage(ctx, company.ID, message.ID)
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.Equal(t, []string{"U2"}, read.ReceiverIDs())
}

func TestSlackDeliveries(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")
	message := createTestMessage(t, d, company.ID, "U1", baseTime, "U2")

	first := models.NewSlackDelivery(message.ID, "D-U2", "U2", "111.000", true, false)
	second := models.NewSlackDelivery(message.ID, "C-GENERAL", "", "222.000", false, false)
	require.NoError(t, d.CreateSlackDelivery(ctx, company.ID, first))
	require.NoError(t, d.CreateSlackDelivery(ctx, company.ID, second))

	require.NoError(t, d.RetractSlackDelivery(ctx, company.ID, first.ID))

	active, err := d.ReadSlackDeliveries(ctx, company.ID, message.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	all, err := d.ReadSlackDeliveries(ctx, company.ID, message.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	read, err := d.ReadThankYouMessage(ctx, company.ID, message.ID)
	require.NoError(t, err)
	assert.Len(t, read.SlackDeliveries, 2)
	require.Len(t, read.ActiveDeliveries(), 1)
	assert.Equal(t, second.ID, read.ActiveDeliveries()[0].ID)
}

func TestSlackDeliveries_OtherCompany(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	companyA := createTestCompany(t, d, "T-A")
	companyB := createTestCompany(t, d, "T-B")
	messageB := createTestMessage(t, d, companyB.ID, "U1", baseTime, "U2")

	delivery := models.NewSlackDelivery(messageB.ID, "D-U2", "U2", "111.000", true, false)
	require.NoError(t, d.CreateSlackDelivery(ctx, companyB.ID, delivery))

	forged := models.NewSlackDelivery(messageB.ID, "D-U9", "U9", "999.000", true, false)
	err := d.CreateSlackDelivery(ctx, companyA.ID, forged)
	assert.ErrorIs(t, err, ErrNotFound)

	foreign, err := d.ReadSlackDeliveries(ctx, companyA.ID, messageB.ID, true)
	require.NoError(t, err)
	assert.Empty(t, foreign)

	require.NoError(t, d.RetractSlackDelivery(ctx, companyA.ID, delivery.ID))

	active, err := d.ReadSlackDeliveries(ctx, companyB.ID, messageB.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, delivery.ID, active[0].ID)
}

func TestSlackDeliveries_DeletedMessage(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")
	message := createTestMessage(t, d, company.ID, "U1", baseTime, "U2")

	delivery := models.NewSlackDelivery(message.ID, "D-U2", "U2", "111.000", true, false)
	require.NoError(t, d.CreateSlackDelivery(ctx, company.ID, delivery))
	require.NoError(t, d.DeleteThankYouMessage(ctx, company.ID, message.ID))

	// 削除済みメッセージの配信も取り消せる
	require.NoError(t, d.RetractSlackDelivery(ctx, company.ID, delivery.ID))
	active, err := d.ReadSlackDeliveries(ctx, company.ID, message.ID, false)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestUpdateThankYouMessage_Deleted(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")
	message := createTestMessage(t, d, company.ID, "U1", baseTime, "U2")
	require.NoError(t, d.DeleteThankYouMessage(ctx, company.ID, message.ID))

	message.Text = "edited after delete"
	err := d.UpdateThankYouMessage(ctx, message)
	assert.ErrorIs(t, err, ErrDeleted)

	var count int64
	require.NoError(t, d.DB().Unscoped().Model(&models.ThankYouMessage{}).Where("id = ?", message.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpdateThankYouMessage_OtherCompany(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	companyA := createTestCompany(t, d, "T-A")
	companyB := createTestCompany(t, d, "T-B")
	messageB := createTestMessage(t, d, companyB.ID, "U1", baseTime, "U2")

	forged := models.NewThankYouMessage(companyA.ID, "U1", "hijacked")
	forged.ID = messageB.ID
	forged.SetReceivers("U3")
	err := d.UpdateThankYouMessage(ctx, forged)
	assert.ErrorIs(t, err, ErrNotFound)

	read, err := d.ReadThankYouMessage(ctx, companyB.ID, messageB.ID)
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.Equal(t, messageB.Text, read.Text)
	assert.Equal(t, []string{"U2"}, read.ReceiverIDs())
}

func TestTransaction_RollsBack(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")

	err := d.Transaction(ctx, func(repo *Dao) error {
		if err := repo.CreateThankYouType(ctx, models.NewThankYouType(company.ID, "rolled back")); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	found, err := d.ReadThankYouTypes(ctx, company.ID, ThankYouTypeFilter{Name: "rolled back"})
	require.NoError(t, err)
	assert.Empty(t, found)
}
