package model

// MemberStatus mirrors the platform's chat member status.
type MemberStatus string

const (
	MemberStatusCreator       MemberStatus = "creator"
	MemberStatusAdministrator MemberStatus = "administrator"
	MemberStatusMember        MemberStatus = "member"
	MemberStatusRestricted    MemberStatus = "restricted"
	MemberStatusLeft          MemberStatus = "left"
	MemberStatusKicked        MemberStatus = "kicked"
)

// IsPresent reports whether a user with this status is currently in the channel.
func (s MemberStatus) IsPresent() bool {
	switch s {
	case MemberStatusCreator, MemberStatusAdministrator, MemberStatusMember, MemberStatusRestricted:
		return true
	}
	return false
}

// ActionKind is what the engine did to a user's channel membership.
type ActionKind string

const (
	ActionApprove ActionKind = "approve"
	ActionBan     ActionKind = "ban"
	ActionUnban   ActionKind = "unban"
)

// MembershipAction is log-only; it is never persisted.
type MembershipAction struct {
	UserID    int64
	ChannelID int64
	Kind      ActionKind
	Outcome   string
}
