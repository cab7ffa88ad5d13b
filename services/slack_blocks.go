package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"slack-thank-you/dao"
	"slack-thank-you/models"
)

// メッセージ・ホームタブのアクションID
const (
	ActionSayThanksBack        = "thank_you_message_say_thanks_button_clicked"
	ActionEditMessage          = "thank_you_message_edit_button_clicked"
	ActionDeleteMessage        = "thank_you_message_delete_button_clicked"
	ActionHomeSayThankYou      = "home_page_say_thank_you_button_clicked"
	ActionHomeCompanyThankYous = "home_page_company_thank_you_button_clicked"
	ActionHomeMyThankYous      = "home_page_my_thank_you_button_clicked"
	ActionHomeLeaders          = "home_page_leaders_button_clicked"
	ActionHomeHideWelcome      = "home_page_hide_welcome_button_clicked"
)

// ダイアログのコールバックID・ブロックID
const (
	CallbackThankYouDialog   = "thank_you_dialog_save_button_clicked"
	CallbackThanksBackDialog = "thanks_back_dialog_send_button_clicked"

	BlockThankYouType      = "thank_you_dialog_thank_you_type_block"
	ActionThankYouType     = "thank_you_dialog_thank_you_type_action_id"
	BlockThankYouReceivers = "thank_you_dialog_receivers_block"
	ActionThankYouReceiver = "thank_you_dialog_receivers_action_id"
	BlockThankYouText      = "thank_you_dialog_text_block"
	ActionThankYouText     = "thank_you_dialog_text_action_id"
	BlockThankYouPrivate   = "thank_you_dialog_private_block"
	ActionThankYouPrivate  = "thank_you_dialog_private_action_id"
	BlockThanksBackText    = "thanks_back_dialog_input_block"
	ActionThanksBackText   = "thanks_back_dialog_input_block_action"
)

// ホームタブのタブ名
const (
	HomeTabCompany = "company_thank_yous"
	HomeTabMine    = "my_thank_yous"
	HomeTabLeaders = "leaders"
)

// SlackBlockBuilder Slack Block Kit構築のヘルパー
type SlackBlockBuilder struct {
	blocks []slack.Block
}

// NewSlackBlockBuilder 新しいビルダーを作成
func NewSlackBlockBuilder() *SlackBlockBuilder {
	return &SlackBlockBuilder{blocks: make([]slack.Block, 0)}
}

// AddSection mrkdwnのセクションブロックを追加
func (b *SlackBlockBuilder) AddSection(text string) *SlackBlockBuilder {
	b.blocks = append(b.blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
	return b
}

// AddPlainSection プレーンテキストのセクションブロックを追加
func (b *SlackBlockBuilder) AddPlainSection(text string) *SlackBlockBuilder {
	b.blocks = append(b.blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, text, true, false), nil, nil))
	return b
}

// AddHeader ヘッダーブロックを追加
func (b *SlackBlockBuilder) AddHeader(text string) *SlackBlockBuilder {
	b.blocks = append(b.blocks, slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, text, true, false)))
	return b
}

// AddContext コンテキストブロックを追加
func (b *SlackBlockBuilder) AddContext(text string) *SlackBlockBuilder {
	b.blocks = append(b.blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, text, false, false)))
	return b
}

// AddActions アクションブロックを追加
func (b *SlackBlockBuilder) AddActions(elements ...slack.BlockElement) *SlackBlockBuilder {
	if len(elements) == 0 {
		return b
	}
	b.blocks = append(b.blocks, slack.NewActionBlock("", elements...))
	return b
}

// AddImage 画像ブロックを追加
func (b *SlackBlockBuilder) AddImage(url, altText string) *SlackBlockBuilder {
	b.blocks = append(b.blocks, slack.NewImageBlock(url, altText, "", nil))
	return b
}

// AddDivider 区切り線を追加
func (b *SlackBlockBuilder) AddDivider() *SlackBlockBuilder {
	b.blocks = append(b.blocks, slack.NewDividerBlock())
	return b
}

// AddBlocks 任意のブロックを追加
func (b *SlackBlockBuilder) AddBlocks(blocks ...slack.Block) *SlackBlockBuilder {
	b.blocks = append(b.blocks, blocks...)
	return b
}

// Build ブロック配列を取得
func (b *SlackBlockBuilder) Build() []slack.Block {
	return b.blocks
}

// CreateButton ボタン要素を作成
func CreateButton(text, actionID, value string, style slack.Style) *slack.ButtonBlockElement {
	button := slack.NewButtonBlockElement(actionID, value, slack.NewTextBlockObject(slack.PlainTextType, text, true, false))
	if style != "" {
		button = button.WithStyle(style)
	}
	return button
}

// EscapeMrkdwn は mrkdwn の制御文字をエスケープする
func EscapeMrkdwn(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// rawBlock は JSON をそのまま送るブロック（rich_text など）
type rawBlock struct {
	blockType slack.MessageBlockType
	raw       json.RawMessage
}

func (b rawBlock) BlockType() slack.MessageBlockType { return b.blockType }

func (b rawBlock) ID() string { return "" }

func (b rawBlock) MarshalJSON() ([]byte, error) { return b.raw, nil }

// richTextBlock はリッチテキストの本文をブロックとして返す
func richTextBlock(text string) (slack.Block, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(text), &probe); err != nil || probe.Type != "rich_text" {
		return nil, false
	}
	return rawBlock{blockType: "rich_text", raw: json.RawMessage(text)}, true
}

// richTextNode はリッチテキストJSONのノード
type richTextNode struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	URL      string         `json:"url"`
	UserID   string         `json:"user_id"`
	Channel  string         `json:"channel_id"`
	Name     string         `json:"name"`
	Elements []richTextNode `json:"elements"`
}

// RichTextToPlain はリッチテキストJSONを通知用のテキストに変換する
func RichTextToPlain(text string) (string, error) {
	var root richTextNode
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return "", fmt.Errorf("invalid rich text: %w", err)
	}
	var sb strings.Builder
	writeRichText(&sb, root)
	return strings.TrimSpace(sb.String()), nil
}

func writeRichText(sb *strings.Builder, node richTextNode) {
	switch node.Type {
	case "text":
		sb.WriteString(node.Text)
	case "link":
		if node.Text != "" {
			sb.WriteString(node.Text)
		} else {
			sb.WriteString(node.URL)
		}
	case "user":
		sb.WriteString("<@" + node.UserID + ">")
	case "channel":
		sb.WriteString("<#" + node.Channel + ">")
	case "emoji":
		sb.WriteString(":" + node.Name + ":")
	case "rich_text_list":
		for _, item := range node.Elements {
			sb.WriteString("• ")
			writeRichText(sb, item)
			if !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteString("\n")
			}
		}
		return
	}
	for _, child := range node.Elements {
		writeRichText(sb, child)
	}
	if node.Type == "rich_text_section" || node.Type == "rich_text_quote" || node.Type == "rich_text_preformatted" {
		if !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
	}
}

// MessagePlainText はメッセージ本文をプレーンテキストで返す
func MessagePlainText(m *models.ThankYouMessage) string {
	if m.IsRichText {
		if plain, err := RichTextToPlain(m.Text); err == nil {
			return plain
		}
	}
	return m.Text
}

// MessageRenderOptions はメッセージ描画のオプション
type MessageRenderOptions struct {
	// 受信者向けの「お礼を返す」ボタン
	ShowSayThanksButton bool
	// 送信者向けの編集・削除ボタン
	ShowAuthorActions bool
}

// ThankYouMessageBlocks はお礼メッセージのブロックを作成する
func ThankYouMessageBlocks(m *models.ThankYouMessage, opts MessageRenderOptions) []slack.Block {
	b := NewSlackBlockBuilder()

	if m.Type != nil && m.Type.Name != "" {
		b.AddSection("*" + EscapeMrkdwn(m.Type.Name) + "*")
	}

	if block, ok := richTextBlock(m.Text); m.IsRichText && ok {
		b.AddBlocks(block)
	} else {
		b.AddPlainSection(" • " + MessagePlainText(m))
	}

	for _, image := range m.SortedImages() {
		b.AddImage(image.URL, image.Filename)
	}

	if m.AuthorSlackUserID != "" {
		context := "Shared by <@" + EscapeMrkdwn(m.AuthorSlackUserID) + ">"
		if m.IsPrivate {
			context += " (private)"
		}
		b.AddContext(context)
	}

	var actions []slack.BlockElement
	if opts.ShowSayThanksButton {
		actions = append(actions, CreateButton("Say thanks back", ActionSayThanksBack, m.ID, slack.StylePrimary))
	}
	if opts.ShowAuthorActions {
		actions = append(actions,
			CreateButton("Edit", ActionEditMessage, m.ID, ""),
			CreateButton("Delete", ActionDeleteMessage, m.ID, slack.StyleDanger),
		)
	}
	b.AddActions(actions...)

	return b.Build()
}

// RenderThankYouMessage は投稿用のメッセージを作成する
func RenderThankYouMessage(m *models.ThankYouMessage, opts MessageRenderOptions) RenderedMessage {
	text := "You received a Thank You message!"
	if m.AuthorSlackUserID != "" {
		text = fmt.Sprintf("<@%s> says thank you: %s", m.AuthorSlackUserID, truncate(MessagePlainText(m), 150))
	}
	return RenderedMessage{Text: text, Blocks: ThankYouMessageBlocks(m, opts)}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// LeaderBoard はホームタブに表示するリーダーボード
type LeaderBoard struct {
	Window    models.TimeWindow
	Senders   []LeaderGroup
	Receivers []LeaderGroup
}

// LeaderGroup は会社バリューごと（Type が nil なら全体）の順位
type LeaderGroup struct {
	Type    *models.ThankYouType
	Leaders []dao.Leader
}

// HomeView はホームタブの表示内容
type HomeView struct {
	AppName           string
	Selected          string
	CurrentUserID     string
	ShowWelcome       bool
	Messages          []models.ThankYouMessage
	HiddenCount       int64
	EnableLeaderboard bool
	Leaders           *LeaderBoard
	// 週の送信上限が有効なときの残り回数
	Remaining *int
}

// HomeTabView はホームタブのビューを作成する
func HomeTabView(h HomeView) slack.HomeTabViewRequest {
	b := NewSlackBlockBuilder()

	if h.ShowWelcome {
		b.AddSection(fmt.Sprintf("*Welcome to %s!* Say thank you to your colleagues with the button below or the slash command.", EscapeMrkdwn(h.AppName)))
		b.AddActions(CreateButton("Got it", ActionHomeHideWelcome, "", ""))
	}

	b.AddActions(homeActions(h.Selected, h.EnableLeaderboard)...)
	if h.Remaining != nil {
		b.AddContext(fmt.Sprintf("You can send %d more thank you message(s) this week.", *h.Remaining))
	}
	b.AddDivider()

	if h.Leaders != nil {
		b.AddBlocks(LeaderBoardBlocks(*h.Leaders)...)
	}

	if h.Selected != HomeTabLeaders {
		if len(h.Messages) == 0 {
			b.AddSection("_No thank you messages yet._")
		}
		b.AddBlocks(thankYouListBlocks(h.Messages, h.CurrentUserID)...)
		if h.HiddenCount > 0 {
			b.AddContext(fmt.Sprintf("%d older thank you message(s) are not shown.", h.HiddenCount))
		}
	}

	return slack.HomeTabViewRequest{
		Type:   slack.VTHomeTab,
		Blocks: slack.Blocks{BlockSet: b.Build()},
	}
}

func homeActions(selected string, showLeaders bool) []slack.BlockElement {
	style := func(tab string) slack.Style {
		if tab == selected {
			return slack.StylePrimary
		}
		return ""
	}
	elements := []slack.BlockElement{
		CreateButton("Say Thank you!", ActionHomeSayThankYou, "", slack.StyleDanger),
		CreateButton("Company Thank yous", ActionHomeCompanyThankYous, "", style(HomeTabCompany)),
		CreateButton("Your Thank yous", ActionHomeMyThankYous, "", style(HomeTabMine)),
	}
	if showLeaders {
		elements = append(elements, CreateButton("Leaders", ActionHomeLeaders, "", style(HomeTabLeaders)))
	}
	return elements
}

func thankYouListBlocks(messages []models.ThankYouMessage, currentUserID string) []slack.Block {
	b := NewSlackBlockBuilder()
	var lastDate string
	for i := range messages {
		m := &messages[i]
		date := m.CreatedAt.UTC().Format("Monday, January 2")
		if date != lastDate {
			lastDate = date
			b.AddHeader(date)
			b.AddDivider()
		}
		b.AddBlocks(ThankYouMessageBlocks(m, MessageRenderOptions{
			ShowSayThanksButton: currentUserID != "" && m.HasReceiver(currentUserID),
			ShowAuthorActions:   currentUserID != "" && m.AuthorSlackUserID == currentUserID,
		})...)
		b.AddDivider()
	}
	return b.Build()
}

// LeaderBoardBlocks はリーダーボードのブロックを作成する
func LeaderBoardBlocks(board LeaderBoard) []slack.Block {
	b := NewSlackBlockBuilder()
	b.AddHeader("Leaders")
	b.AddContext(fmt.Sprintf("From %s until %s (UTC)",
		board.Window.From.UTC().Format(time.DateOnly), board.Window.LastInstant().UTC().Format(time.DateOnly)))

	for i := range board.Senders {
		sender := board.Senders[i]
		var receivers []dao.Leader
		if i < len(board.Receivers) {
			receivers = board.Receivers[i].Leaders
		}
		if sender.Type != nil {
			b.AddSection("*" + EscapeMrkdwn(sender.Type.Name) + "*")
		}
		b.AddSection("*Top senders*\n" + leaderLines(sender.Leaders) + "\n\n*Top receivers*\n" + leaderLines(receivers))
	}
	b.AddDivider()
	return b.Build()
}

func leaderLines(leaders []dao.Leader) string {
	if len(leaders) == 0 {
		return "_nobody yet_"
	}
	lines := make([]string, 0, len(leaders))
	for i, l := range leaders {
		lines = append(lines, fmt.Sprintf("%d. <@%s>: %d", i+1, l.SlackUserID, l.Count))
	}
	return strings.Join(lines, "\n")
}

// DialogMetadata はダイアログの private_metadata
type DialogMetadata struct {
	ThankYouMessageID string `json:"thank_you_message_uuid,omitempty"`
	SlackChannelID    string `json:"slash_command_slack_channel_id,omitempty"`
}

func (m DialogMetadata) String() string {
	data, _ := json.Marshal(m)
	return string(data)
}

// ParseDialogMetadata は private_metadata を読み取る（空なら空の値）
func ParseDialogMetadata(s string) (DialogMetadata, error) {
	var m DialogMetadata
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return m, fmt.Errorf("invalid private metadata: %w", err)
	}
	return m, nil
}

// ThankYouDialog はお礼ダイアログの表示内容
type ThankYouDialog struct {
	AppName             string
	Types               []models.ThankYouType
	State               *models.ThankYouMessage
	SlackChannelID      string
	EnableCompanyValues bool
	EnableRichText      bool
	EnablePrivate       bool
	MaxReceivers        int
}

// richTextInputElement は rich_text_input 要素
type richTextInputElement struct {
	Type         slack.MessageElementType `json:"type"`
	ActionID     string                   `json:"action_id"`
	InitialValue json.RawMessage          `json:"initial_value,omitempty"`
}

func (richTextInputElement) ElementType() slack.MessageElementType {
	return "rich_text_input"
}

// ThankYouDialogView はお礼の作成・編集ダイアログを作成する
func ThankYouDialogView(d ThankYouDialog) slack.ModalViewRequest {
	plain := func(text string) *slack.TextBlockObject {
		return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
	}

	metadata := DialogMetadata{SlackChannelID: d.SlackChannelID}
	title := "Say Thank you!"
	if d.State != nil {
		metadata.ThankYouMessageID = d.State.ID
		metadata.SlackChannelID = d.State.SlashCommandSlackChannelID
		title = "Update Thank You!"
	}

	b := NewSlackBlockBuilder()

	if d.EnableCompanyValues && len(d.Types) > 0 {
		options := make([]*slack.OptionBlockObject, 0, len(d.Types))
		var initial *slack.OptionBlockObject
		for _, t := range d.Types {
			option := slack.NewOptionBlockObject(t.ID, plain(t.Name), nil)
			options = append(options, option)
			if d.State != nil && d.State.TypeID() == t.ID {
				initial = option
			}
		}
		element := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Select a company value"), ActionThankYouType, options...)
		element.InitialOption = initial
		input := slack.NewInputBlock(BlockThankYouType, plain("Company value"), nil, element)
		input.Optional = true
		b.AddBlocks(input)
	}

	receivers := slack.NewOptionsMultiSelectBlockElement(slack.MultiOptTypeUser, plain("Select colleagues"), ActionThankYouReceiver)
	if d.MaxReceivers > 0 {
		limit := d.MaxReceivers
		receivers.MaxSelectedItems = &limit
	}
	if d.State != nil {
		receivers.InitialUsers = d.State.ReceiverIDs()
	}
	b.AddBlocks(slack.NewInputBlock(BlockThankYouReceivers, plain("Who do you want to thank?"), nil, receivers))

	if d.EnableRichText {
		element := richTextInputElement{Type: "rich_text_input", ActionID: ActionThankYouText}
		if d.State != nil && d.State.IsRichText {
			element.InitialValue = json.RawMessage(d.State.Text)
		}
		b.AddBlocks(slack.NewInputBlock(BlockThankYouText, plain("Message"), nil, element))
	} else {
		element := slack.NewPlainTextInputBlockElement(plain("Thank you for..."), ActionThankYouText)
		element.Multiline = true
		if d.State != nil {
			element.InitialValue = MessagePlainText(d.State)
		}
		b.AddBlocks(slack.NewInputBlock(BlockThankYouText, plain("Message"), nil, element))
	}

	if d.EnablePrivate && d.State == nil {
		option := slack.NewOptionBlockObject("private", plain("Only receivers can see this message"), nil)
		element := slack.NewCheckboxGroupsBlockElement(ActionThankYouPrivate, option)
		input := slack.NewInputBlock(BlockThankYouPrivate, plain("Private"), nil, element)
		input.Optional = true
		b.AddBlocks(input)
	}

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      CallbackThankYouDialog,
		Title:           plain(title),
		Submit:          plain("Save"),
		Close:           plain("Cancel"),
		PrivateMetadata: metadata.String(),
		Blocks:          slack.Blocks{BlockSet: b.Build()},
	}
}

// ThanksBackDialogView はお礼を返すダイアログを作成する
func ThanksBackDialogView(messageID, authorSlackUserID string) slack.ModalViewRequest {
	plain := func(text string) *slack.TextBlockObject {
		return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
	}
	element := slack.NewPlainTextInputBlockElement(plain("Thank you too!"), ActionThanksBackText)
	element.Multiline = true

	b := NewSlackBlockBuilder().
		AddSection(fmt.Sprintf("Reply to <@%s>", EscapeMrkdwn(authorSlackUserID))).
		AddBlocks(slack.NewInputBlock(BlockThanksBackText, plain("Message"), nil, element))

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      CallbackThanksBackDialog,
		Title:           plain("Say thanks back"),
		Submit:          plain("Send"),
		Close:           plain("Cancel"),
		PrivateMetadata: DialogMetadata{ThankYouMessageID: messageID}.String(),
		Blocks:          slack.Blocks{BlockSet: b.Build()},
	}
}

// NoticeView は1行だけのモーダルを作成する
func NoticeView(title, text string) slack.ModalViewRequest {
	return slack.ModalViewRequest{
		Type:   slack.VTModal,
		Title:  slack.NewTextBlockObject(slack.PlainTextType, title, true, false),
		Close:  slack.NewTextBlockObject(slack.PlainTextType, "Close", true, false),
		Blocks: slack.Blocks{BlockSet: NewSlackBlockBuilder().AddSection(text).Build()},
	}
}
