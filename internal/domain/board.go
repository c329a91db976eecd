package domain

type (
	BoardID string
	TaskID  string
)

// RoomInfo is a read-only view of one board room.
type RoomInfo struct {
	Board       BoardID `json:"boardId"`
	MemberCount int     `json:"memberCount"`
}
