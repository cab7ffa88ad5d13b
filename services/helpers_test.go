package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"slack-thank-you/dao"
	"slack-thank-you/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, dao.AutoMigrate(db))
	return db
}

func setupTestRepo(t *testing.T) *dao.Dao {
	return dao.New(setupTestDB(t))
}

func createTestCompany(t *testing.T, repo *dao.Dao, configure func(c *models.Company)) *models.Company {
	ctx := context.Background()
	company, _, err := repo.GetOrCreateCompany(ctx, "T-"+t.Name(), "Acme")
	require.NoError(t, err)
	if configure != nil {
		configure(company)
		require.NoError(t, repo.UpdateCompany(ctx, company))
	}
	return company
}

func slackErr(code string) error {
	return &SlackError{Op: "test", Code: code, Err: fmt.Errorf("%s", code)}
}

type fakePost struct {
	Kind    string
	Channel string
	User    string
	TS      string
	Text    string
}

// fakeTransport は呼び出しを記録する ChatTransport
type fakeTransport struct {
	mu  sync.Mutex
	seq int

	postErr      map[string]error
	ephemeralErr map[string]error
	directErr    map[string]error
	updateErr    map[string]error
	deleteErr    map[string]error
	inviteErrs   []error
	joinErr      error

	posts   []fakePost
	invites [][]string
	joins   []string
	updates []string
	deletes []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		postErr:      map[string]error{},
		ephemeralErr: map[string]error{},
		directErr:    map[string]error{},
		updateErr:    map[string]error{},
		deleteErr:    map[string]error{},
	}
}

func (f *fakeTransport) nextTS() string {
	f.seq++
	return fmt.Sprintf("1700000000.%06d", f.seq)
}

func (f *fakeTransport) PostMessage(_ context.Context, channelID string, msg RenderedMessage) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.postErr[channelID]; err != nil {
		return "", "", err
	}
	ts := f.nextTS()
	f.posts = append(f.posts, fakePost{Kind: "channel", Channel: channelID, TS: ts, Text: msg.Text})
	return channelID, ts, nil
}

func (f *fakeTransport) PostEphemeral(_ context.Context, channelID, userID string, msg RenderedMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.postErr[channelID]; err != nil {
		return "", err
	}
	if err := f.ephemeralErr[userID]; err != nil {
		return "", err
	}
	ts := f.nextTS()
	f.posts = append(f.posts, fakePost{Kind: "ephemeral", Channel: channelID, User: userID, TS: ts, Text: msg.Text})
	return ts, nil
}

func (f *fakeTransport) PostDirectMessage(_ context.Context, userID string, msg RenderedMessage) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.directErr[userID]; err != nil {
		return "", "", err
	}
	ts := f.nextTS()
	channel := "D-" + userID
	f.posts = append(f.posts, fakePost{Kind: "direct", Channel: channel, User: userID, TS: ts, Text: msg.Text})
	return channel, ts, nil
}

func (f *fakeTransport) UpdateMessage(_ context.Context, channelID, ts string, _ RenderedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, channelID+"/"+ts)
	return f.updateErr[ts]
}

func (f *fakeTransport) DeleteMessage(_ context.Context, channelID, ts string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, channelID+"/"+ts)
	return f.deleteErr[ts]
}

func (f *fakeTransport) InviteUsers(_ context.Context, _ string, userIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, userIDs)
	if len(f.inviteErrs) == 0 {
		return nil
	}
	err := f.inviteErrs[0]
	f.inviteErrs = f.inviteErrs[1:]
	return err
}

func (f *fakeTransport) JoinChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, channelID)
	return f.joinErr
}

func (f *fakeTransport) postsOf(kind string) []fakePost {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []fakePost
	for _, p := range f.posts {
		if p.Kind == kind {
			result = append(result, p)
		}
	}
	return result
}
