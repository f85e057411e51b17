package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type RoomModel struct {
	ID            string `gorm:"primaryKey"`
	Title         string `gorm:"not null"`
	Status        string `gorm:"not null;index"`
	OwnerUserID   string
	OwnerMemberID string `gorm:"not null"`
	InviteCode    string `gorm:"uniqueIndex;not null"`
	TripDate      string
	StartTime     string
	EndTime       string
	BudgetMin     int
	BudgetMax     int
	Districts     datatypes.JSON `gorm:"type:jsonb"`
	MustVisit     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

type MemberModel struct {
	ID              string `gorm:"primaryKey"`
	RoomID          string `gorm:"not null;uniqueIndex:ux_member_identity,priority:1"`
	IdentityKey     string `gorm:"not null;uniqueIndex:ux_member_identity,priority:2"`
	UserID          string
	AnonymousID     string
	Nickname        string         `gorm:"not null"`
	Preferences     datatypes.JSON `gorm:"type:jsonb"`
	PreferencesDone bool           `gorm:"not null;default:false"`
	Active          bool           `gorm:"not null;default:true"`
	JoinedAt        time.Time      `gorm:"not null;index"`
}

type PlaceModel struct {
	RoomID   string `gorm:"primaryKey"`
	ID       string `gorm:"primaryKey"`
	Name     string `gorm:"not null"`
	Category string
	Address  string
	Lat      float64
	Lng      float64
	Source   string
}

type RouteModel struct {
	ID            string         `gorm:"primaryKey"`
	RoomID        string         `gorm:"not null;index"`
	Title         string         `gorm:"not null"`
	Summary       string         `gorm:"type:text"`
	PlaceIDs      datatypes.JSON `gorm:"type:jsonb"`
	TravelMinutes int            `gorm:"not null"`
	Cost          int            `gorm:"not null"`
	IsSelected    bool           `gorm:"not null;default:false"`
	Source        string         `gorm:"not null"`
	GenerationID  string         `gorm:"not null;index"`
	Position      int            `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null"`
}

type VoteModel struct {
	SubjectKind string    `gorm:"primaryKey"`
	SubjectID   string    `gorm:"primaryKey"`
	MemberID    string    `gorm:"primaryKey"`
	RoomID      string    `gorm:"not null;index"`
	Value       string    `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// ChatMessageModel uses the auto-increment sequence as primary key so ties on
// created_at are broken by insertion order.
type ChatMessageModel struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	ID        string `gorm:"uniqueIndex;not null"`
	RoomID    string `gorm:"not null;index:idx_chat_room_channel,priority:1"`
	Channel   string `gorm:"not null;index:idx_chat_room_channel,priority:2"`
	AuthorID  *string
	ThreadID  string    `gorm:"index"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type KeepModel struct {
	RoomID    string `gorm:"primaryKey"`
	PlaceID   string `gorm:"primaryKey"`
	AddedBy   string
	CreatedAt time.Time `gorm:"not null"`
}
