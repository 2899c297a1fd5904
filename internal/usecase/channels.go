package usecase

import (
	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
)

// ChannelMap binds each plan to the channel it unlocks.
type ChannelMap struct {
	Daily   int64
	Monthly int64
	Yearly  int64
}

func (m ChannelMap) ChannelFor(p model.Plan) (int64, error) {
	switch p {
	case model.PlanDaily:
		return m.Daily, nil
	case model.PlanMonthly:
		return m.Monthly, nil
	case model.PlanYearly:
		return m.Yearly, nil
	}
	return 0, domain.ErrUnknownChannel
}

// PlanFor is the reverse lookup used for inbound membership events.
func (m ChannelMap) PlanFor(channelID int64) (model.Plan, bool) {
	switch channelID {
	case 0:
		return "", false
	case m.Daily:
		return model.PlanDaily, true
	case m.Monthly:
		return model.PlanMonthly, true
	case m.Yearly:
		return model.PlanYearly, true
	}
	return "", false
}
