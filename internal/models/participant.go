package models

import (
	"time"

	"hearthside/comms/internal/utils"
)

// ParticipantStatus is the per-participant state machine.
//
//	mandatory participants are inserted ACTIVE and stay there;
//	optional participants start PENDING and move to ACCEPTED or DECLINED.
type ParticipantStatus string

const (
	StatusPending  ParticipantStatus = "PENDING"
	StatusActive   ParticipantStatus = "ACTIVE"
	StatusAccepted ParticipantStatus = "ACCEPTED"
	StatusDeclined ParticipantStatus = "DECLINED"
)

// Engaged reports whether the status still counts toward the thread's
// audience (anything but DECLINED).
func (s ParticipantStatus) Engaged() bool {
	return s == StatusPending || s == StatusActive || s == StatusAccepted
}

// CanPost reports whether a participant in this status may append messages.
func (s ParticipantStatus) CanPost() bool {
	return s == StatusActive || s == StatusAccepted
}

// ThreadParticipant links one party to one thread.
// Unique on (thread_id, participant_type, participant_id).
type ThreadParticipant struct {
	Base            `bson:",inline"`
	ThreadID        utils.SixID       `bson:"thread_id" json:"thread_id"`
	ParticipantType Role              `bson:"participant_type" json:"participant_type"`
	ParticipantID   utils.SixID       `bson:"participant_id" json:"participant_id"`
	Status          ParticipantStatus `bson:"status" json:"status"`
	// IsMandatory is fixed at creation by the participant policy and never
	// changes afterward.
	IsMandatory bool `bson:"is_mandatory" json:"is_mandatory"`
	// ClearedAt hides messages created before it from this participant
	// only. The data itself is untouched.
	ClearedAt *time.Time `bson:"cleared_at,omitempty" json:"cleared_at,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// Party returns the participant's identity as a tagged union.
func (p *ThreadParticipant) Party() Party {
	return Party{Role: p.ParticipantType, ID: p.ParticipantID}
}
