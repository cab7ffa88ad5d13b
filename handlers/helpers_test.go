package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"slack-thank-you/dao"
	"slack-thank-you/models"
	"slack-thank-you/services"
)

const testTeamID = "T1"

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

type testEnv struct {
	handler *SlackHandler
	client  *fakeSlackClient
	repo    *dao.Dao
	router  *gin.Engine
}

func setupTestEnv(t *testing.T, signingSecret string) *testEnv {
	gin.SetMode(gin.TestMode)
	repo := dao.New(setupTestDB(t))
	client := newFakeSlackClient()
	deliverer := services.NewDeliverer(repo, client, services.NewMemoryInviteCache(time.Hour, 0))
	h := NewSlackHandler(repo, client, deliverer, signingSecret)
	return &testEnv{handler: h, client: client, repo: repo, router: NewRouter(h)}
}

func (e *testEnv) company(t *testing.T, configure func(c *models.Company)) *models.Company {
	ctx := context.Background()
	company, _, err := e.repo.GetOrCreateCompany(ctx, testTeamID, "acme")
	require.NoError(t, err)
	if configure != nil {
		configure(company)
		require.NoError(t, e.repo.UpdateCompany(ctx, company))
	}
	return company
}

func (e *testEnv) command(t *testing.T, userID, text string) *httptest.ResponseRecorder {
	data := url.Values{}
	data.Set("command", "/merci")
	data.Set("text", text)
	data.Set("team_id", testTeamID)
	data.Set("team_domain", "acme")
	data.Set("channel_id", "C-general")
	data.Set("user_id", userID)
	data.Set("trigger_id", "trigger-1")

	req, err := http.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(data.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) interact(t *testing.T, payload map[string]any) *httptest.ResponseRecorder {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data := url.Values{}
	data.Set("payload", string(raw))

	req, err := http.NewRequest(http.MethodPost, "/slack/interactions", strings.NewReader(data.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func blockActionPayload(userID, actionID, value string) map[string]any {
	return map[string]any{
		"type":       "block_actions",
		"team":       map[string]any{"id": testTeamID, "domain": "acme"},
		"user":       map[string]any{"id": userID},
		"trigger_id": "trigger-2",
		"actions": []any{
			map[string]any{"block_id": "b1", "action_id": actionID, "value": value, "type": "button"},
		},
	}
}

func viewSubmissionPayload(userID, callbackID, metadata string, values map[string]any) map[string]any {
	return map[string]any{
		"type":       "view_submission",
		"team":       map[string]any{"id": testTeamID, "domain": "acme"},
		"user":       map[string]any{"id": userID},
		"trigger_id": "trigger-3",
		"view": map[string]any{
			"id":               "V1",
			"type":             "modal",
			"callback_id":      callbackID,
			"private_metadata": metadata,
			"state":            map[string]any{"values": values},
		},
	}
}

type fakePost struct {
	Kind    string
	Channel string
	User    string
	Text    string
}

// fakeSlackClient は呼び出しを記録する SlackClient
type fakeSlackClient struct {
	mu  sync.Mutex
	seq int

	users map[string]*services.SlackUserInfo

	posts   []fakePost
	views   []slack.ModalViewRequest
	homes   map[string][]slack.HomeTabViewRequest
	deletes []string
}

func newFakeSlackClient() *fakeSlackClient {
	return &fakeSlackClient{
		users: map[string]*services.SlackUserInfo{},
		homes: map[string][]slack.HomeTabViewRequest{},
	}
}

func (f *fakeSlackClient) nextTS() string {
	f.seq++
	return fmt.Sprintf("1700000000.%06d", f.seq)
}

func (f *fakeSlackClient) PostMessage(_ context.Context, channelID string, msg services.RenderedMessage) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, fakePost{Kind: "channel", Channel: channelID, Text: msg.Text})
	return channelID, f.nextTS(), nil
}

func (f *fakeSlackClient) PostEphemeral(_ context.Context, channelID, userID string, msg services.RenderedMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, fakePost{Kind: "ephemeral", Channel: channelID, User: userID, Text: msg.Text})
	return f.nextTS(), nil
}

func (f *fakeSlackClient) PostDirectMessage(_ context.Context, userID string, msg services.RenderedMessage) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, fakePost{Kind: "direct", Channel: "D-" + userID, User: userID, Text: msg.Text})
	return "D-" + userID, f.nextTS(), nil
}

func (f *fakeSlackClient) UpdateMessage(context.Context, string, string, services.RenderedMessage) error {
	return nil
}

func (f *fakeSlackClient) DeleteMessage(_ context.Context, channelID, ts string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, channelID+"/"+ts)
	return nil
}

func (f *fakeSlackClient) InviteUsers(context.Context, string, ...string) error {
	return nil
}

func (f *fakeSlackClient) JoinChannel(context.Context, string) error {
	return nil
}

func (f *fakeSlackClient) OpenView(_ context.Context, _ string, view slack.ModalViewRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, view)
	return nil
}

func (f *fakeSlackClient) PublishHome(_ context.Context, userID string, view slack.HomeTabViewRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homes[userID] = append(f.homes[userID], view)
	return nil
}

func (f *fakeSlackClient) UserInfo(_ context.Context, userID string) (*services.SlackUserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.users[userID]; ok {
		return info, nil
	}
	return &services.SlackUserInfo{Name: "user-" + userID}, nil
}

func (f *fakeSlackClient) postsOf(kind string) []fakePost {
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

func (f *fakeSlackClient) lastHome(t *testing.T, userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	homes := f.homes[userID]
	require.NotEmpty(t, homes, "home was not published for %s", userID)
	data, err := json.Marshal(homes[len(homes)-1])
	require.NoError(t, err)
	return string(data)
}
