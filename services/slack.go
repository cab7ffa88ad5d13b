package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/slack-go/slack"
)

// Slackのエラーコード
const (
	CodeChannelNotFound  = "channel_not_found"
	CodeNotInChannel     = "not_in_channel"
	CodeUserNotInChannel = "user_not_in_channel"
	CodeMessageNotFound  = "message_not_found"
	CodeAlreadyInChannel = "already_in_channel"
	CodeCantInviteSelf   = "cant_invite_self"
	CodeIsArchived       = "is_archived"
	CodeExpiredTriggerID = "expired_trigger_id"
)

// SlackError はSlack APIが拒否した操作
type SlackError struct {
	Op   string
	Code string
	Err  error
}

func (e *SlackError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("slack %s failed: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("slack %s failed: %v", e.Op, e.Err)
}

func (e *SlackError) Unwrap() error {
	return e.Err
}

// IsSlackError はエラーが指定したコードのいずれかかを返す
func IsSlackError(err error, codes ...string) bool {
	var slackErr *SlackError
	if !errors.As(err, &slackErr) {
		return false
	}
	for _, code := range codes {
		if slackErr.Code == code {
			return true
		}
	}
	return false
}

var slackErrorCode = regexp.MustCompile(`^[a-z_]+$`)

func wrapSlackError(op string, err error) error {
	if err == nil {
		return nil
	}
	code := ""
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		code = resp.Err
	} else if slackErrorCode.MatchString(err.Error()) {
		code = err.Error()
	}
	return &SlackError{Op: op, Code: code, Err: err}
}

// RenderedMessage はSlackに送る本文
type RenderedMessage struct {
	// 通知やブロック非対応クライアント向けのテキスト
	Text   string
	Blocks []slack.Block
}

func (m RenderedMessage) options() []slack.MsgOption {
	opts := []slack.MsgOption{
		slack.MsgOptionText(m.Text, false),
		slack.MsgOptionDisableLinkUnfurl(),
		slack.MsgOptionDisableMediaUnfurl(),
	}
	if len(m.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(m.Blocks...))
	}
	return opts
}

// ChatTransport はメッセージ配信に使うSlackの操作
type ChatTransport interface {
	PostMessage(ctx context.Context, channelID string, msg RenderedMessage) (channel string, ts string, err error)
	PostEphemeral(ctx context.Context, channelID, userID string, msg RenderedMessage) (ts string, err error)
	PostDirectMessage(ctx context.Context, userID string, msg RenderedMessage) (channel string, ts string, err error)
	UpdateMessage(ctx context.Context, channelID, ts string, msg RenderedMessage) error
	DeleteMessage(ctx context.Context, channelID, ts string) error
	InviteUsers(ctx context.Context, channelID string, userIDs ...string) error
	JoinChannel(ctx context.Context, channelID string) error
}

// SlackUserInfo は表示名と権限
type SlackUserInfo struct {
	Name    string
	IsAdmin bool
	IsOwner bool
}

// SlackClient はハンドラーが使うSlackの操作
type SlackClient interface {
	ChatTransport
	OpenView(ctx context.Context, triggerID string, view slack.ModalViewRequest) error
	PublishHome(ctx context.Context, userID string, view slack.HomeTabViewRequest) error
	UserInfo(ctx context.Context, userID string) (*SlackUserInfo, error)
}

// SlackTransport は slack-go を使った SlackClient の実装
type SlackTransport struct {
	client *slack.Client
}

// NewSlackTransport はボットトークンでSlackTransportを作成する
func NewSlackTransport(token string, opts ...slack.Option) *SlackTransport {
	return &SlackTransport{client: slack.New(token, opts...)}
}

func (s *SlackTransport) PostMessage(ctx context.Context, channelID string, msg RenderedMessage) (string, string, error) {
	channel, ts, err := s.client.PostMessageContext(ctx, channelID, msg.options()...)
	if err != nil {
		return "", "", wrapSlackError("chat.postMessage", err)
	}
	return channel, ts, nil
}

func (s *SlackTransport) PostEphemeral(ctx context.Context, channelID, userID string, msg RenderedMessage) (string, error) {
	ts, err := s.client.PostEphemeralContext(ctx, channelID, userID, msg.options()...)
	if err != nil {
		return "", wrapSlackError("chat.postEphemeral", err)
	}
	return ts, nil
}

// PostDirectMessage はユーザーIDを宛先に投稿し、ボットとのDMチャンネルを返す
func (s *SlackTransport) PostDirectMessage(ctx context.Context, userID string, msg RenderedMessage) (string, string, error) {
	channel, ts, err := s.client.PostMessageContext(ctx, userID, msg.options()...)
	if err != nil {
		return "", "", wrapSlackError("chat.postMessage", err)
	}
	return channel, ts, nil
}

func (s *SlackTransport) UpdateMessage(ctx context.Context, channelID, ts string, msg RenderedMessage) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}
	if _, _, _, err := s.client.UpdateMessageContext(ctx, channelID, ts, opts...); err != nil {
		return wrapSlackError("chat.update", err)
	}
	return nil
}

func (s *SlackTransport) DeleteMessage(ctx context.Context, channelID, ts string) error {
	if _, _, err := s.client.DeleteMessageContext(ctx, channelID, ts); err != nil {
		return wrapSlackError("chat.delete", err)
	}
	return nil
}

func (s *SlackTransport) InviteUsers(ctx context.Context, channelID string, userIDs ...string) error {
	if _, err := s.client.InviteUsersToConversationContext(ctx, channelID, userIDs...); err != nil {
		return wrapSlackError("conversations.invite", err)
	}
	return nil
}

func (s *SlackTransport) JoinChannel(ctx context.Context, channelID string) error {
	if _, _, _, err := s.client.JoinConversationContext(ctx, channelID); err != nil {
		return wrapSlackError("conversations.join", err)
	}
	return nil
}

func (s *SlackTransport) OpenView(ctx context.Context, triggerID string, view slack.ModalViewRequest) error {
	if _, err := s.client.OpenViewContext(ctx, triggerID, view); err != nil {
		return wrapSlackError("views.open", err)
	}
	return nil
}

func (s *SlackTransport) PublishHome(ctx context.Context, userID string, view slack.HomeTabViewRequest) error {
	if _, err := s.client.PublishViewContext(ctx, userID, view, ""); err != nil {
		return wrapSlackError("views.publish", err)
	}
	return nil
}

// UserInfo は表示名（display_name、なければ real_name）と権限を返す
func (s *SlackTransport) UserInfo(ctx context.Context, userID string) (*SlackUserInfo, error) {
	user, err := s.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, wrapSlackError("users.info", err)
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.Profile.RealName
	}
	if name == "" {
		name = user.Name
	}
	return &SlackUserInfo{Name: name, IsAdmin: user.IsAdmin, IsOwner: user.IsOwner}, nil
}
