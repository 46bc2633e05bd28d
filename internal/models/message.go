package models

import (
	"time"

	"hearthside/comms/internal/utils"
)

// MaxMessageRunes bounds user message content.
const MaxMessageRunes = 4000

// SystemMessageType names the structural change a system message records.
type SystemMessageType string

const (
	SysUserJoined           SystemMessageType = "USER_JOINED"
	SysUserLeft             SystemMessageType = "USER_LEFT"
	SysUserRemoved          SystemMessageType = "USER_REMOVED"
	SysGroupRenamed         SystemMessageType = "GROUP_RENAMED"
	SysAvatarChanged        SystemMessageType = "AVATAR_CHANGED"
	SysOwnershipTransferred SystemMessageType = "OWNERSHIP_TRANSFERRED"
)

// SystemPayload is one payload shape per system message kind. Exactly one
// field is set, matching SystemMessageType; a closed sum beats a free-form
// map for rendering and for exhaustive tests.
type SystemPayload struct {
	UserJoined           *MembershipPayload `bson:"user_joined,omitempty" json:"user_joined,omitempty"`
	UserLeft             *MembershipPayload `bson:"user_left,omitempty" json:"user_left,omitempty"`
	UserRemoved          *RemovalPayload    `bson:"user_removed,omitempty" json:"user_removed,omitempty"`
	GroupRenamed         *RenamePayload     `bson:"group_renamed,omitempty" json:"group_renamed,omitempty"`
	AvatarChanged        *AvatarPayload     `bson:"avatar_changed,omitempty" json:"avatar_changed,omitempty"`
	OwnershipTransferred *TransferPayload   `bson:"ownership_transferred,omitempty" json:"ownership_transferred,omitempty"`
}

// MembershipPayload records joins and voluntary leaves.
type MembershipPayload struct {
	Actor Party `bson:"actor" json:"actor"`
}

// RemovalPayload records an admin removing another member.
type RemovalPayload struct {
	Actor  Party `bson:"actor" json:"actor"`
	Target Party `bson:"target" json:"target"`
}

// RenamePayload records a group title change.
type RenamePayload struct {
	Actor    Party  `bson:"actor" json:"actor"`
	OldTitle string `bson:"old_title" json:"old_title"`
	NewTitle string `bson:"new_title" json:"new_title"`
}

// AvatarPayload records a group avatar change.
type AvatarPayload struct {
	Actor        Party  `bson:"actor" json:"actor"`
	OldAvatarURL string `bson:"old_avatar_url,omitempty" json:"old_avatar_url,omitempty"`
	NewAvatarURL string `bson:"new_avatar_url" json:"new_avatar_url"`
}

// TransferPayload records an ownership handover.
type TransferPayload struct {
	OldOwner utils.SixID `bson:"old_owner" json:"old_owner"`
	NewOwner utils.SixID `bson:"new_owner" json:"new_owner"`
}

// MediaRef points at an object owned by the external media collaborator.
// URL is presigned and time-limited; it is refreshed on every read, never
// stored past its TTL.
type MediaRef struct {
	Key         string `bson:"key" json:"key"`
	ContentType string `bson:"content_type" json:"content_type"`
	FileName    string `bson:"file_name,omitempty" json:"file_name,omitempty"`
	URL         string `bson:"-" json:"url,omitempty"`
}

// ThreadMessage is one message in a thread, user-authored or system.
type ThreadMessage struct {
	Base     `bson:",inline"`
	ThreadID utils.SixID `bson:"thread_id" json:"thread_id"`
	Content  string      `bson:"content" json:"content"`
	// SenderType/SenderID are absent on system messages.
	SenderType        Role              `bson:"sender_type,omitempty" json:"sender_type,omitempty"`
	SenderID          utils.SixID       `bson:"sender_id,omitempty" json:"sender_id,omitempty"`
	IsSystemMessage   bool              `bson:"is_system_message" json:"is_system_message"`
	SystemMessageType SystemMessageType `bson:"system_message_type,omitempty" json:"system_message_type,omitempty"`
	Payload           *SystemPayload    `bson:"payload,omitempty" json:"payload,omitempty"`
	ReadBy            []utils.SixID     `bson:"read_by" json:"read_by"`
	IsEdited          bool              `bson:"is_edited" json:"is_edited"`
	EditedAt          *time.Time        `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	// OriginalContent snapshots the content on the first edit only.
	OriginalContent string     `bson:"original_content,omitempty" json:"original_content,omitempty"`
	Attachments     []MediaRef `bson:"attachments,omitempty" json:"attachments,omitempty"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
}

// SentBy reports whether the message was authored by the given party.
func (m *ThreadMessage) SentBy(p Party) bool {
	return !m.IsSystemMessage && m.SenderType == p.Role && m.SenderID == p.ID
}
