package models

import (
	"time"

	"hearthside/comms/internal/utils"
)

// InAppNotification is a delivered in-app notification, persisted so
// offline users see it on next load.
type InAppNotification struct {
	Base      `bson:",inline"`
	UserID    utils.SixID          `bson:"user_id" json:"user_id"`
	Category  NotificationCategory `bson:"category" json:"category"`
	Title     string               `bson:"title" json:"title"`
	Body      string               `bson:"body" json:"body"`
	ActionURL string               `bson:"action_url,omitempty" json:"action_url,omitempty"`
	Read      bool                 `bson:"read" json:"read"`
	CreatedAt time.Time            `bson:"created_at" json:"created_at"`
}
