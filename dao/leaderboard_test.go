package dao

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-thank-you/models"
)

func TestLeaders(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")
	other := createTestCompany(t, d, "T002")

	window := models.TimeWindow{From: baseTime.Add(-7 * 24 * time.Hour), Until: baseTime}

	// U1: 2通, U2: 2通, U3: 1通 (期間内・公開)
	createTestMessage(t, d, company.ID, "U2", baseTime.Add(-time.Hour), "U5")
	createTestMessage(t, d, company.ID, "U1", baseTime.Add(-2*time.Hour), "U5", "U6")
	createTestMessage(t, d, company.ID, "U1", baseTime.Add(-3*time.Hour), "U5")
	createTestMessage(t, d, company.ID, "U2", baseTime.Add(-4*time.Hour), "U6")
	createTestMessage(t, d, company.ID, "U3", baseTime.Add(-5*time.Hour), "U7")

	// 集計対象外
	createTestMessage(t, d, company.ID, "U3", baseTime, "U7")
	createTestMessage(t, d, company.ID, "U3", window.From.Add(-time.Second), "U7")
	createTestMessage(t, d, other.ID, "U3", baseTime.Add(-time.Hour), "U7")
	deleted := createTestMessage(t, d, company.ID, "U3", baseTime.Add(-time.Hour), "U7")
	require.NoError(t, d.DeleteThankYouMessage(ctx, company.ID, deleted.ID))

	private := models.NewThankYouMessage(company.ID, "U3", "private")
	private.CreatedAt = baseTime.Add(-time.Hour)
	private.IsPrivate = true
	private.SetReceivers("U7")
	require.NoError(t, d.CreateThankYouMessage(ctx, private))

	t.Run("senders ordered by count then user id", func(t *testing.T) {
		leaders, err := d.ReadSenderLeaders(ctx, company.ID, LeadersQuery{Window: window})
		require.NoError(t, err)
		assert.Equal(t, []Leader{
			{SlackUserID: "U1", Count: 2},
			{SlackUserID: "U2", Count: 2},
			{SlackUserID: "U3", Count: 1},
		}, leaders)
	})

	t.Run("receivers", func(t *testing.T) {
		leaders, err := d.ReadReceiverLeaders(ctx, company.ID, LeadersQuery{Window: window})
		require.NoError(t, err)
		assert.Equal(t, []Leader{
			{SlackUserID: "U5", Count: 3},
			{SlackUserID: "U6", Count: 2},
			{SlackUserID: "U7", Count: 1},
		}, leaders)
	})

	t.Run("private messages counted when included", func(t *testing.T) {
		leaders, err := d.ReadSenderLeaders(ctx, company.ID, LeadersQuery{Window: window, IncludePrivate: true})
		require.NoError(t, err)
		assert.Equal(t, []Leader{
			{SlackUserID: "U1", Count: 2},
			{SlackUserID: "U2", Count: 2},
			{SlackUserID: "U3", Count: 2},
		}, leaders)
	})

	t.Run("top n", func(t *testing.T) {
		leaders, err := d.ReadSenderLeaders(ctx, company.ID, LeadersQuery{Window: window, Top: 1})
		require.NoError(t, err)
		assert.Equal(t, []Leader{{SlackUserID: "U1", Count: 2}}, leaders)
	})

	t.Run("stable across calls", func(t *testing.T) {
		first, err := d.ReadReceiverLeaders(ctx, company.ID, LeadersQuery{Window: window, Top: 10})
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := d.ReadReceiverLeaders(ctx, company.ID, LeadersQuery{Window: window, Top: 10})
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})
}

func TestReadLeadersByType(t *testing.T) {
	d := setupTestDao(t)
	ctx := context.Background()
	company := createTestCompany(t, d, "T001")

	types, err := d.ReadThankYouTypes(ctx, company.ID, ThankYouTypeFilter{Deleted: Bool(false)})
	require.NoError(t, err)
	require.Len(t, types, 3)

	removed := models.NewThankYouType(company.ID, "removed")
	require.NoError(t, d.CreateThankYouType(ctx, removed))
	require.NoError(t, d.DeleteThankYouType(ctx, company.ID, removed.ID))

	message := models.NewThankYouMessage(company.ID, "U1", "shipped")
	message.CreatedAt = baseTime.Add(-time.Hour)
	message.SetType(&types[0])
	message.SetReceivers("U2")
	require.NoError(t, d.CreateThankYouMessage(ctx, message))

	window := models.TimeWindow{From: baseTime.Add(-24 * time.Hour), Until: baseTime}
	result, err := d.ReadLeadersByType(ctx, company.ID, LeadersQuery{Window: window}, true)
	require.NoError(t, err)

	require.Len(t, result, 3)
	assert.Equal(t, types[0].ID, result[0].Type.ID)
	assert.Equal(t, []Leader{{SlackUserID: "U2", Count: 1}}, result[0].Leaders)
	for _, r := range result[1:] {
		assert.NotNil(t, r.Leaders)
		assert.Empty(t, r.Leaders)
	}
}
