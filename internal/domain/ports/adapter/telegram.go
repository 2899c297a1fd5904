// File: internal/domain/ports/adapter/telegram.go
package adapter

import (
	"context"

	"telegram-channel-access/internal/domain/model"
)

type InlineButton struct {
	Text string
	Data string
	URL  string
}

// SendOptions are optional per-message settings.
type SendOptions struct {
	Buttons   [][]InlineButton
	ParseMode string
}

// MessagingTransport is the outbound boundary to the messaging platform.
// Failures are *domain.TransportError values.
type MessagingTransport interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) error
	ApproveJoin(ctx context.Context, channelID, userID int64) error
	Ban(ctx context.Context, channelID, userID int64) error
	Unban(ctx context.Context, channelID, userID int64) error
	GetMembershipStatus(ctx context.Context, channelID, userID int64) (model.MemberStatus, error)
}

// TransportState is the health of the outbound transport.
type TransportState string

const (
	TransportActive   TransportState = "Active"
	TransportRetrying TransportState = "Retrying"
	TransportStopped  TransportState = "Stopped"
)

// StateReporter exposes the transport state to the health surface.
type StateReporter interface {
	State() TransportState
}
