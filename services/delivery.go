package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"slack-thank-you/metrics"
	"slack-thank-you/models"
)

// ErrNotDelivered はどの宛先にも届けられなかった場合のエラー
var ErrNotDelivered = errors.New("thank you message was not delivered to anyone")

// DeliveryRepository は配信に必要な永続化の操作
type DeliveryRepository interface {
	ReadThankYouMessage(ctx context.Context, companyID, id string) (*models.ThankYouMessage, error)
	UpdateThankYouMessage(ctx context.Context, message *models.ThankYouMessage) error
	DeleteThankYouMessage(ctx context.Context, companyID, id string) error
	CreateSlackDelivery(ctx context.Context, companyID string, delivery *models.ThankYouMessageSlackDelivery) error
	RetractSlackDelivery(ctx context.Context, companyID, id string) error
}

// Deliverer はお礼メッセージをSlackに配信し、配信記録を管理する
type Deliverer struct {
	repo      DeliveryRepository
	transport ChatTransport
	invites   InviteCache
}

// NewDeliverer はDelivererを作成する（invites が nil ならメモリキャッシュ）
func NewDeliverer(repo DeliveryRepository, transport ChatTransport, invites InviteCache) *Deliverer {
	if invites == nil {
		invites = NewMemoryInviteCache(DefaultInviteTTL, 20*1024)
	}
	return &Deliverer{repo: repo, transport: transport, invites: invites}
}

// SaveResult は Save の結果
type SaveResult struct {
	Message    *models.ThankYouMessage
	Created    bool
	Deliveries []models.ThankYouMessageSlackDelivery
	// 配信の失敗（保存は成功している）
	DeliveryErr error
}

// Save はメッセージを保存して配信する
// 同じIDのメッセージがあれば編集として扱い、既存の配信を更新する
// 返すエラーは保存の失敗だけで、配信の失敗は SaveResult.DeliveryErr に入る
func (d *Deliverer) Save(ctx context.Context, company *models.Company, message *models.ThankYouMessage) (*SaveResult, error) {
	message.CompanyID = company.ID

	existing, err := d.repo.ReadThankYouMessage(ctx, company.ID, message.ID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		// 削除済み・他社のIDはここでエラーになる
		if err := d.repo.UpdateThankYouMessage(ctx, message); err != nil {
			return nil, err
		}
		metrics.MessagesSaved.WithLabelValues("created").Inc()

		deliveries, deliveryErr := d.Deliver(ctx, company, message)
		if deliveryErr != nil {
			log.Error().Err(deliveryErr).Str("company_id", company.ID).Str("message_id", message.ID).Msg("thank you message delivery failed")
		}
		return &SaveResult{Message: message, Created: true, Deliveries: deliveries, DeliveryErr: deliveryErr}, nil
	}

	if err := d.repo.UpdateThankYouMessage(ctx, message); err != nil {
		return nil, err
	}
	metrics.MessagesSaved.WithLabelValues("updated").Inc()

	updated, err := d.repo.ReadThankYouMessage(ctx, company.ID, message.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("thank you message %s disappeared during update", message.ID)
	}

	deliveryErr := d.Redeliver(ctx, updated)
	if deliveryErr != nil {
		log.Error().Err(deliveryErr).Str("company_id", company.ID).Str("message_id", message.ID).Msg("could not update a thank you message")
	}
	return &SaveResult{Message: updated, Deliveries: updated.ActiveDeliveries(), DeliveryErr: deliveryErr}, nil
}

// deliveryRun は1回の配信の状態
type deliveryRun struct {
	d       *Deliverer
	company *models.Company
	message *models.ThankYouMessage

	// 非公開メッセージをチャンネルで受け取れなかったユーザー
	couldNotDeliver []string
	joined          bool

	deliveries []models.ThankYouMessageSlackDelivery
	errs       []error
}

// Deliver は新しいメッセージの配信先を決めて投稿し、成功した投稿を記録する
//
//  1. スラッシュコマンドのチャンネルがあればそこへ（非公開なら受信者ごとにエフェメラル）
//  2. 共有チャンネルが設定されていれば受信者を招待してからそこへ
//  3. それ以外、またはチャンネルに投稿できなかった場合は受信者へDM
//
// エフェメラル投稿で user_not_in_channel になった受信者には最後にDMを送る
func (d *Deliverer) Deliver(ctx context.Context, company *models.Company, message *models.ThankYouMessage) ([]models.ThankYouMessageSlackDelivery, error) {
	started := time.Now()
	defer func() {
		metrics.DeliveryDuration.Observe(time.Since(started).Seconds())
	}()

	run := &deliveryRun{d: d, company: company, message: message}
	sendDirectly := false

	if channelID := message.SlashCommandSlackChannelID; channelID != "" {
		if err := run.postToChannel(ctx, channelID); err != nil {
			sendDirectly = true
			if IsSlackError(err, CodeChannelNotFound, CodeNotInChannel) {
				run.explainChannelFailure(ctx, channelID)
			} else {
				log.Error().Err(err).Str("channel", channelID).Str("message_id", message.ID).
					Msg("thank you message was not delivered to the slash command channel")
			}
		}
	} else if channelID, ok := company.SharingChannel(); ok {
		if err := run.shareInChannel(ctx, channelID); err != nil {
			sendDirectly = true
			log.Error().Err(err).Str("channel", channelID).Str("message_id", message.ID).
				Msg("can not deliver a thank you message to the sharing channel")
		}
	} else {
		sendDirectly = true
	}

	var targets []string
	if sendDirectly {
		targets = uniqueIDs(append(recipients(message), run.couldNotDeliver...))
	} else {
		targets = uniqueIDs(run.couldNotDeliver)
	}
	for _, userID := range targets {
		run.postDirect(ctx, userID)
	}

	if len(run.deliveries) == 0 && len(recipients(message)) > 0 {
		run.errs = append(run.errs, ErrNotDelivered)
	}
	return run.deliveries, errors.Join(run.errs...)
}

// recipients は配信対象（非公開なら送信者も含む）
func recipients(message *models.ThankYouMessage) []string {
	ids := message.ReceiverIDs()
	if message.IsPrivate && message.AuthorSlackUserID != "" {
		ids = append(ids, message.AuthorSlackUserID)
	}
	return uniqueIDs(ids)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}

func (r *deliveryRun) render(forReceiver bool) RenderedMessage {
	return RenderThankYouMessage(r.message, MessageRenderOptions{ShowSayThanksButton: forReceiver})
}

// shareInChannel は共有チャンネルへの招待と投稿を行う
// Bot がチャンネルにいなければ一度だけ参加して再試行する
func (r *deliveryRun) shareInChannel(ctx context.Context, channelID string) error {
	if err := r.inviteReceivers(ctx, channelID); err != nil {
		return err
	}

	err := r.postToChannel(ctx, channelID)
	if err != nil && IsSlackError(err, CodeNotInChannel) && !r.joined {
		if joinErr := r.join(ctx, channelID); joinErr != nil {
			return joinErr
		}
		err = r.postToChannel(ctx, channelID)
	}
	return err
}

func (r *deliveryRun) join(ctx context.Context, channelID string) error {
	r.joined = true
	if err := r.d.transport.JoinChannel(ctx, channelID); err != nil {
		log.Error().Err(err).Str("channel", channelID).Msg("could not join the sharing channel")
		return err
	}
	log.Info().Str("channel", channelID).Msg("joined the sharing channel")
	return nil
}

// inviteReceivers はキャッシュにない受信者をチャンネルに招待する
// 失敗しても投稿は続ける（エフェメラルの失敗はDMで補う）が、参加後の再招待に失敗した場合はエラーを返す
func (r *deliveryRun) inviteReceivers(ctx context.Context, channelID string) error {
	var pending []string
	for _, userID := range r.message.ReceiverIDs() {
		if !r.d.invites.IsInvited(ctx, r.company.ID, channelID, userID) {
			pending = append(pending, userID)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	err := r.d.transport.InviteUsers(ctx, channelID, pending...)
	if IsSlackError(err, CodeNotInChannel) {
		if joinErr := r.join(ctx, channelID); joinErr != nil {
			return joinErr
		}
		err = r.d.transport.InviteUsers(ctx, channelID, pending...)
		if err != nil && !IsSlackError(err, CodeAlreadyInChannel, CodeCantInviteSelf) {
			log.Error().Err(err).Str("channel", channelID).Strs("users", pending).Msg("could not invite users after joining the channel")
			return err
		}
	}
	if err != nil && !IsSlackError(err, CodeAlreadyInChannel, CodeCantInviteSelf) {
		log.Warn().Err(err).Str("channel", channelID).Strs("users", pending).Msg("could not invite users to the sharing channel")
		return nil
	}

	for _, userID := range pending {
		r.d.invites.MarkInvited(ctx, r.company.ID, channelID, userID)
	}
	return nil
}

// postToChannel はチャンネルに投稿する（非公開なら受信者ごとのエフェメラル）
// チャンネル自体に投稿できない場合はエラーを返す
func (r *deliveryRun) postToChannel(ctx context.Context, channelID string) error {
	if !r.message.IsPrivate {
		channel, ts, err := r.d.transport.PostMessage(ctx, channelID, r.render(false))
		if err != nil {
			metrics.ObserveDelivery(metrics.KindChannel, metrics.StatusFailed)
			return err
		}
		metrics.ObserveDelivery(metrics.KindChannel, metrics.StatusOK)
		if channel == "" {
			channel = channelID
		}
		r.record(ctx, models.NewSlackDelivery(r.message.ID, channel, "", ts, false, false))
		return nil
	}

	delivered := 0
	var lastErr error
	for _, userID := range r.message.ReceiverIDs() {
		ts, err := r.d.transport.PostEphemeral(ctx, channelID, userID, r.render(true))
		switch {
		case err == nil:
			metrics.ObserveDelivery(metrics.KindEphemeral, metrics.StatusOK)
			delivered++
			r.record(ctx, models.NewSlackDelivery(r.message.ID, channelID, userID, ts, false, true))
		case IsSlackError(err, CodeUserNotInChannel):
			metrics.ObserveDelivery(metrics.KindEphemeral, metrics.StatusFallback)
			r.couldNotDeliver = append(r.couldNotDeliver, userID)
		case IsSlackError(err, CodeChannelNotFound, CodeNotInChannel, CodeIsArchived):
			metrics.ObserveDelivery(metrics.KindEphemeral, metrics.StatusFailed)
			return err
		default:
			metrics.ObserveDelivery(metrics.KindEphemeral, metrics.StatusFailed)
			log.Warn().Err(err).Str("channel", channelID).Str("user", userID).Msg("could not post an ephemeral thank you message")
			lastErr = err
		}
	}
	if delivered == 0 && lastErr != nil {
		return lastErr
	}

	// 送信者には確認用のコピーを見せる（記録はしない）
	if author := r.message.AuthorSlackUserID; author != "" && !r.message.HasReceiver(author) {
		if _, err := r.d.transport.PostEphemeral(ctx, channelID, author, r.render(false)); err != nil {
			log.Warn().Err(err).Str("channel", channelID).Str("user", author).Msg("could not show a private thank you message to its author")
		}
	}
	return nil
}

// explainChannelFailure はスラッシュコマンドのチャンネルに投稿できなかったことを送信者に伝える
func (r *deliveryRun) explainChannelFailure(ctx context.Context, channelID string) {
	author := r.message.AuthorSlackUserID
	if author == "" {
		return
	}
	text := fmt.Sprintf("Your thank you message could not be delivered to the Slack channel <#%s>. "+
		"Are you sure that the %s application was invited to this channel? "+
		"We will deliver your message directly to the receivers", channelID, r.company.AppName())
	if _, _, err := r.d.transport.PostDirectMessage(ctx, author, RenderedMessage{Text: text}); err != nil {
		log.Error().Err(err).Str("user", author).Msg("could not inform the author about the undelivered channel message")
	}
}

func (r *deliveryRun) postDirect(ctx context.Context, userID string) {
	channel, ts, err := r.d.transport.PostDirectMessage(ctx, userID, r.render(r.message.HasReceiver(userID)))
	if err != nil {
		metrics.ObserveDelivery(metrics.KindDirect, metrics.StatusFailed)
		log.Error().Err(err).Str("user", userID).Str("message_id", r.message.ID).Msg("can not send a thank you message directly to a user")
		r.errs = append(r.errs, err)
		return
	}
	metrics.ObserveDelivery(metrics.KindDirect, metrics.StatusOK)
	if channel == "" {
		channel = userID
	}
	r.record(ctx, models.NewSlackDelivery(r.message.ID, channel, userID, ts, true, false))
}

func (r *deliveryRun) record(ctx context.Context, delivery *models.ThankYouMessageSlackDelivery) {
	if err := r.d.repo.CreateSlackDelivery(ctx, r.company.ID, delivery); err != nil {
		log.Error().Err(err).Str("message_id", r.message.ID).Str("channel", delivery.SlackChannelID).Msg("could not record a slack delivery")
		r.errs = append(r.errs, err)
		return
	}
	r.deliveries = append(r.deliveries, *delivery)
}

// Redeliver は有効な配信をすべて最新の内容に更新する
// message_not_found は投稿が既に消えたものとして配信を取り消し済みにし、それ以外の失敗は記録を残したまま返す
func (d *Deliverer) Redeliver(ctx context.Context, message *models.ThankYouMessage) error {
	var errs []error
	for _, delivery := range message.ActiveDeliveries() {
		rendered := RenderThankYouMessage(message, MessageRenderOptions{
			ShowSayThanksButton: delivery.IsDirectMessage || delivery.IsEphemeralMessage,
		})
		err := d.transport.UpdateMessage(ctx, delivery.SlackChannelID, delivery.MessageTS, rendered)
		switch {
		case err == nil:
			metrics.ObserveDelivery(metrics.KindUpdate, metrics.StatusOK)
		case IsSlackError(err, CodeMessageNotFound):
			metrics.ObserveDelivery(metrics.KindUpdate, metrics.StatusFallback)
			if err := d.repo.RetractSlackDelivery(ctx, message.CompanyID, delivery.ID); err != nil {
				errs = append(errs, err)
			}
		default:
			metrics.ObserveDelivery(metrics.KindUpdate, metrics.StatusFailed)
			log.Error().Err(err).Str("message_id", message.ID).Str("delivery_id", delivery.ID).Msg("could not update a delivered thank you message")
			errs = append(errs, fmt.Errorf("delivery %s: %w", delivery.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Delete はメッセージを論理削除し、投稿済みのメッセージを取り消す
// 取り消しの失敗は返すが、論理削除は巻き戻さない
func (d *Deliverer) Delete(ctx context.Context, companyID, messageID string) error {
	message, err := d.repo.ReadThankYouMessage(ctx, companyID, messageID)
	if err != nil {
		return err
	}
	if message == nil {
		return nil
	}

	if err := d.repo.DeleteThankYouMessage(ctx, companyID, messageID); err != nil {
		return err
	}
	metrics.MessagesSaved.WithLabelValues("deleted").Inc()

	var errs []error
	for _, delivery := range message.ActiveDeliveries() {
		err := d.transport.DeleteMessage(ctx, delivery.SlackChannelID, delivery.MessageTS)
		if err != nil && !IsSlackError(err, CodeMessageNotFound) {
			metrics.ObserveDelivery(metrics.KindRetract, metrics.StatusFailed)
			log.Error().Err(err).Str("message_id", messageID).Str("delivery_id", delivery.ID).Msg("could not retract a delivered thank you message")
			errs = append(errs, fmt.Errorf("delivery %s: %w", delivery.ID, err))
			continue
		}
		metrics.ObserveDelivery(metrics.KindRetract, metrics.StatusOK)
		if err := d.repo.RetractSlackDelivery(ctx, companyID, delivery.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
