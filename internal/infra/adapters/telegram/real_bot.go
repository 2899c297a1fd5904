package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"telegram-channel-access/internal/config"
	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/infra/i18n"
)

var _ adapter.MessagingTransport = (*BotTransport)(nil)

// inviteLinkTTL bounds the single-use link sent when no join request is pending.
const inviteLinkTTL = 24 * time.Hour

// NewBotAPI connects to the Bot API. endpoint may be empty for the public API.
// The HTTP timeout covers a full long poll plus one outbound call.
func NewBotAPI(cfg *config.BotConfig, tcfg *config.TransportConfig, endpoint string) (*tgbotapi.BotAPI, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("bot token is empty")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: time.Duration(cfg.PollTimeout)*time.Second + tcfg.CallTimeout}
	return tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
}

// BotTransport is the raw MessagingTransport over tgbotapi. It throttles
// outbound calls and classifies every failure; it never retries.
type BotTransport struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
	tr      *i18n.Translator
	log     *zerolog.Logger

	// invite links created but not yet delivered, reused when the send is retried
	invitesMu sync.Mutex
	invites   map[inviteKey]pendingInvite
}

type inviteKey struct{ channelID, userID int64 }

type pendingInvite struct {
	link      string
	expiresAt time.Time
}

func NewBotTransport(bot *tgbotapi.BotAPI, ratePerSecond float64, tr *i18n.Translator, logger *zerolog.Logger) *BotTransport {
	if ratePerSecond <= 0 {
		ratePerSecond = 25
	}
	l := logger.With().Str("component", "BotTransport").Logger()
	return &BotTransport{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1),
		tr:      tr,
		log:     &l,
		invites: make(map[inviteKey]pendingInvite),
	}
}

// do waits for a rate slot, then runs fn without blocking past ctx.
func (b *BotTransport) do(ctx context.Context, op string, fn func() error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.NewTransportError(domain.FailureTransient, op, err)
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return classify(op, err)
	case <-ctx.Done():
		return domain.NewTransportError(domain.FailureTransient, op, ctx.Err())
	}
}

func (b *BotTransport) SendMessage(ctx context.Context, chatID int64, text string, opts *adapter.SendOptions) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if opts != nil {
		msg.ParseMode = opts.ParseMode
		if len(opts.Buttons) > 0 {
			msg.ReplyMarkup = inlineKeyboard(opts.Buttons)
		}
	}
	return b.do(ctx, "sendMessage", func() error {
		_, err := b.bot.Send(msg)
		return err
	})
}

// ApproveJoin approves a pending join request. A user already in the channel
// counts as approved; with no pending request a single-use invite link is
// sent to the user instead.
func (b *BotTransport) ApproveJoin(ctx context.Context, channelID, userID int64) error {
	err := b.do(ctx, "approveChatJoinRequest", func() error {
		_, err := b.bot.Request(tgbotapi.ApproveChatJoinRequestConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: channelID},
			UserID:     userID,
		})
		return err
	})
	switch {
	case err == nil:
		return nil
	case apiMessageContains(err, "USER_ALREADY_PARTICIPANT"):
		return nil
	case apiMessageContains(err, "HIDE_REQUESTER_MISSING"):
		b.log.Debug().Int64("tg_id", userID).Int64("channel_id", channelID).Msg("no pending join request; sending invite link")
		return b.sendInvite(ctx, channelID, userID)
	}
	return err
}

func (b *BotTransport) sendInvite(ctx context.Context, channelID, userID int64) error {
	key := inviteKey{channelID: channelID, userID: userID}
	link, err := b.inviteLink(ctx, key)
	if err != nil {
		return err
	}
	if err := b.SendMessage(ctx, userID, b.tr.T("invite_link", link), nil); err != nil {
		return err
	}
	b.invitesMu.Lock()
	delete(b.invites, key)
	b.invitesMu.Unlock()
	return nil
}

// inviteLink returns the undelivered link for key if it is still fresh,
// otherwise creates a new single-use one.
func (b *BotTransport) inviteLink(ctx context.Context, key inviteKey) (string, error) {
	now := time.Now()
	b.invitesMu.Lock()
	for k, p := range b.invites {
		if now.After(p.expiresAt) {
			delete(b.invites, k)
		}
	}
	p, ok := b.invites[key]
	b.invitesMu.Unlock()
	if ok {
		return p.link, nil
	}

	expiresAt := now.Add(inviteLinkTTL)
	var link tgbotapi.ChatInviteLink
	err := b.do(ctx, "createChatInviteLink", func() error {
		resp, err := b.bot.Request(tgbotapi.CreateChatInviteLinkConfig{
			ChatConfig:  tgbotapi.ChatConfig{ChatID: key.channelID},
			ExpireDate:  int(expiresAt.Unix()),
			MemberLimit: 1,
		})
		if err != nil {
			return err
		}
		return json.Unmarshal(resp.Result, &link)
	})
	if err != nil {
		return "", err
	}

	b.invitesMu.Lock()
	// reuse ends an hour before the link itself expires
	b.invites[key] = pendingInvite{link: link.InviteLink, expiresAt: expiresAt.Add(-time.Hour)}
	b.invitesMu.Unlock()
	return link.InviteLink, nil
}

func (b *BotTransport) Ban(ctx context.Context, channelID, userID int64) error {
	return b.do(ctx, "banChatMember", func() error {
		_, err := b.bot.Request(tgbotapi.BanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: channelID, UserID: userID},
		})
		return err
	})
}

func (b *BotTransport) Unban(ctx context.Context, channelID, userID int64) error {
	return b.do(ctx, "unbanChatMember", func() error {
		_, err := b.bot.Request(tgbotapi.UnbanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: channelID, UserID: userID},
			OnlyIfBanned:     true,
		})
		return err
	})
}

func (b *BotTransport) GetMembershipStatus(ctx context.Context, channelID, userID int64) (model.MemberStatus, error) {
	var status model.MemberStatus
	err := b.do(ctx, "getChatMember", func() error {
		m, err := b.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: channelID, UserID: userID},
		})
		if err != nil {
			return err
		}
		status = model.MemberStatus(m.Status)
		return nil
	})
	return status, err
}

// AnswerCallback stops the client's loading spinner for a callback query.
func (b *BotTransport) AnswerCallback(ctx context.Context, callbackID string) error {
	return b.do(ctx, "answerCallbackQuery", func() error {
		_, err := b.bot.Request(tgbotapi.NewCallback(callbackID, ""))
		return err
	})
}

// inlineKeyboard builds inline rows.
// - If btn.URL is set, the button opens a link
// - Else if btn.Data is set, the button sends callback data
// - Else the label doubles as callback data
func inlineKeyboard(rows [][]adapter.InlineButton) tgbotapi.InlineKeyboardMarkup {
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			label := strings.TrimSpace(btn.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case btn.URL != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonURL(label, btn.URL))
			case btn.Data != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, btn.Data))
			default:
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, label))
			}
		}
		kbRows = append(kbRows, r)
	}
	return tgbotapi.NewInlineKeyboardMarkup(kbRows...)
}
