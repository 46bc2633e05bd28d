package models

import (
	"time"

	"hearthside/comms/internal/utils"
)

// NotificationCategory is the per-user preference bucket a notification
// falls into.
type NotificationCategory string

const (
	NotifyNewMessage    NotificationCategory = "new_message"
	NotifyNewAttachment NotificationCategory = "new_attachment"
	NotifyInvitation    NotificationCategory = "invitation"
	NotifyNewChannel    NotificationCategory = "new_channel"
)

// Channel is a delivery path for notifications.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// NotificationPreferences controls delivery per category and channel.
type NotificationPreferences struct {
	MessagesInApp    bool `bson:"messages_in_app" json:"messages_in_app"`
	MessagesEmail    bool `bson:"messages_email" json:"messages_email"`
	MessagesSMS      bool `bson:"messages_sms" json:"messages_sms"`
	InvitationsInApp bool `bson:"invitations_in_app" json:"invitations_in_app"`
	InvitationsEmail bool `bson:"invitations_email" json:"invitations_email"`
}

// DefaultNotificationPreferences enables in-app and email, leaves SMS off.
func DefaultNotificationPreferences() *NotificationPreferences {
	return &NotificationPreferences{
		MessagesInApp:    true,
		MessagesEmail:    true,
		InvitationsInApp: true,
		InvitationsEmail: true,
	}
}

// ThreadMute silences notifications for one thread. A nil Until is a
// permanent mute; an expired Until self-heals on the next check.
type ThreadMute struct {
	ThreadID utils.SixID `bson:"thread_id" json:"thread_id"`
	Until    *time.Time  `bson:"until,omitempty" json:"until,omitempty"`
}

// User is the narrow slice of the account document this engine reads and
// writes: identity, organization membership, privacy flags, blocks, mutes
// and notification preferences. Everything else belongs to the account
// collaborator.
type User struct {
	Base           `bson:",inline"`
	Name           string      `bson:"name" json:"name"`
	Email          string      `bson:"email" json:"email"`
	Phone          string      `bson:"phone,omitempty" json:"phone,omitempty"`
	OrganizationID utils.SixID `bson:"organization_id,omitempty" json:"organization_id,omitempty"`
	Role           Role        `bson:"role" json:"role"`
	// AllowDirectMessages gates unsolicited 1:1 sessions.
	AllowDirectMessages bool `bson:"allow_direct_messages" json:"allow_direct_messages"`
	// AllowGroupInvites gates being pulled into group chats.
	AllowGroupInvites       bool                     `bson:"allow_group_invites" json:"allow_group_invites"`
	Blocked                 []utils.SixID            `bson:"blocked,omitempty" json:"-"`
	Mutes                   []ThreadMute             `bson:"mutes,omitempty" json:"-"`
	NotificationPreferences *NotificationPreferences `bson:"notification_preferences,omitempty" json:"notification_preferences,omitempty"`
	Deleted                 bool                     `bson:"deleted" json:"-"`
	CreatedAt               time.Time                `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time                `bson:"updated_at" json:"updated_at"`
}

// HasBlocked reports whether the user has blocked the given id.
func (u *User) HasBlocked(id utils.SixID) bool {
	for _, b := range u.Blocked {
		if b == id {
			return true
		}
	}
	return false
}
